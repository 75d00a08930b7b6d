package cart

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goshop/goshop/internal/domain"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrOutOfStock      = errors.New("insufficient stock available")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Catalog is the slice of the product catalog the cart needs. The real
// implementation lives in the orders repository.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

type CartService struct {
	repo    CartRepository
	cache   CartCache
	catalog Catalog
	sfg     singleflight.Group // Prevents cache stampede

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

func NewCartService(repo CartRepository, cache CartCache, catalog Catalog) *CartService {
	return &CartService{
		repo:    repo,
		cache:   cache,
		catalog: catalog,
		owners:  make(map[string]*sync.Mutex),
	}
}

// ownerLock serializes mutations per owner key. Mutations for different
// owners proceed independently.
func (s *CartService) ownerLock(ownerKey string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.owners[ownerKey]
	if !ok {
		l = &sync.Mutex{}
		s.owners[ownerKey] = l
	}
	return l
}

// GetCart returns the owner's cart. An owner without a cart gets an empty
// one; reads never fail with not-found.
func (s *CartService) GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(ownerKey, func() (interface{}, error) {

		cached, err := s.cache.Get(ctx, ownerKey)
		if err == nil {
			return cached, nil // cart is in cache
		}

		if !errors.Is(err, ErrCacheMiss) {
			log.Printf("cache get error: %v \n", err) // log cache error but continue
		}

		stored, errGet := s.repo.GetCart(ctx, ownerKey)
		if errGet != nil && errors.Is(errGet, ErrCartNotFound) {
			return &domain.Cart{
				OwnerKey:  ownerKey,
				Items:     nil,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}, nil
		}
		if errGet != nil {
			return nil, errGet
		}

		// set cache
		go func() {
			errSet := s.cache.Set(context.Background(), ownerKey, stored)
			if errSet != nil {
				log.Printf("cache set error: %v \n", errSet)
			}
		}()

		return stored, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// AddOrUpdate upserts a line for the product with last-write-wins quantity.
// The product must exist and (when stock is tracked) have enough stock. The
// catalog price is snapshotted onto the item for display.
func (s *CartService) AddOrUpdate(ctx context.Context, ownerKey string, productID int64, quantity int32) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, ErrProductNotFound
	}
	if !product.InStock(quantity) {
		return nil, ErrOutOfStock
	}

	lock := s.ownerLock(ownerKey)
	lock.Lock()
	defer lock.Unlock()

	item := domain.CartItem{
		ProductID:      productID,
		Title:          product.Title,
		Quantity:       quantity,
		UnitPriceCents: product.PriceCents,
	}
	if err := s.repo.UpsertItem(ctx, ownerKey, item); err != nil {
		log.Printf("repo upsert item error: %v \n", err)
		return nil, err
	}

	s.invalidateCache(ownerKey)

	// Return the authoritative state, bypassing the cache we just dropped.
	updated, err := s.repo.GetCart(ctx, ownerKey)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Remove deletes the product's line from the cart. Removing an absent item
// or from an absent cart is a no-op.
func (s *CartService) Remove(ctx context.Context, ownerKey string, productID int64) error {
	lock := s.ownerLock(ownerKey)
	lock.Lock()
	defer lock.Unlock()

	err := s.repo.RemoveItem(ctx, ownerKey, productID)
	if err != nil && !errors.Is(err, ErrCartNotFound) {
		log.Printf("repo remove item error: %v \n", err)
		return err
	}

	s.invalidateCache(ownerKey)
	return nil
}

// Clear drops the owner's cart. Called by checkout after the order record
// exists.
func (s *CartService) Clear(ctx context.Context, ownerKey string) error {
	lock := s.ownerLock(ownerKey)
	lock.Lock()
	defer lock.Unlock()

	err := s.repo.DeleteCart(ctx, ownerKey)
	if err != nil && !errors.Is(err, ErrCartNotFound) {
		log.Printf("repo delete cart error: %v \n", err)
		return err
	}

	s.invalidateCache(ownerKey)
	return nil
}

func (s *CartService) invalidateCache(ownerKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerKey); err != nil {
		log.Printf("cache invalidate error: %v \n", err)
	}
}
