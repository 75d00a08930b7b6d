package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/goshop/goshop/internal/domain"
	"github.com/goshop/goshop/internal/payment"
	"github.com/goshop/goshop/internal/pricing"
	"github.com/goshop/goshop/internal/repository"
)

// Carts is the slice of the cart service checkout needs.
type Carts interface {
	GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error)
	Clear(ctx context.Context, ownerKey string) error
}

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

// OrderStore is implemented by the orders repository.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOpenOrderByOwner(ctx context.Context, ownerKey string) (*domain.Order, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.OrderStatus, to domain.OrderStatus) error
	SetProviderSession(ctx context.Context, id uuid.UUID, provider, ref string) error
	GetDiscountByCode(ctx context.Context, code string) (*domain.Discount, error)
	DiscountUsage(ctx context.Context, code, ownerKey string) (total, perOwner int64, err error)
}

type Result struct {
	OrderID     uuid.UUID `json:"order_id"`
	Provider    string    `json:"provider"`
	ProviderRef string    `json:"provider_ref"`
	RedirectURL string    `json:"redirect_url"`
	TotalCents  int64     `json:"total_cents"`
}

type Service struct {
	carts     Carts
	catalog   Catalog
	orders    OrderStore
	providers map[string]payment.Provider
	timeout   time.Duration
	currency  string
}

func NewService(carts Carts, catalog Catalog, orders OrderStore, providers map[string]payment.Provider) *Service {
	return &Service{
		carts:     carts,
		catalog:   catalog,
		orders:    orders,
		providers: providers,
		timeout:   15 * time.Second,
		currency:  "USD",
	}
}

// Checkout converts the owner's cart into a priced order and opens a
// payment session with the chosen provider. A retry after a provider
// failure, and the loser of a concurrent double-submit, both resume the
// owner's existing open order instead of creating (and charging) a second
// one.
func (s *Service) Checkout(ctx context.Context, ownerKey, method, discountCode string) (*Result, error) {
	provider, ok := s.providers[method]
	if !ok {
		return nil, ErrUnknownPaymentMethod
	}

	existing, err := s.orders.GetOpenOrderByOwner(ctx, ownerKey)
	if err == nil {
		return s.resume(ctx, existing, provider)
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, fmt.Errorf("check open order: %w", err)
	}

	cart, err := s.carts.GetCart(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	items, err := s.revalidate(ctx, cart)
	if err != nil {
		return nil, err
	}

	quote, appliedCode, err := s.price(ctx, ownerKey, items, discountCode)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:                  uuid.New(),
		OwnerKey:            ownerKey,
		Items:               items,
		SubtotalCents:       quote.SubtotalCents,
		DiscountCode:        appliedCode,
		DiscountAmountCents: quote.DiscountAmountCents,
		TotalCents:          quote.TotalCents,
		Currency:            s.currency,
		Status:              domain.OrderStatusPending,
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, repository.ErrOpenOrderExists) {
			// Lost a race with a concurrent checkout for the same owner.
			winner, getErr := s.orders.GetOpenOrderByOwner(ctx, ownerKey)
			if getErr != nil {
				return nil, fmt.Errorf("load concurrent order: %w", getErr)
			}
			return s.resume(ctx, winner, provider)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	// The order row exists; from here the cart is consumed. A clear
	// failure is logged, not fatal: the TTL index reaps leftovers.
	if err := s.carts.Clear(ctx, ownerKey); err != nil {
		log.Printf("failed to clear cart for owner %s: %v", ownerKey, err)
	}

	return s.openSession(ctx, order, provider)
}

// resume picks up an order stuck between creation and a recorded payment
// session, so a client retry never spawns a duplicate order.
func (s *Service) resume(ctx context.Context, order *domain.Order, provider payment.Provider) (*Result, error) {
	if order.ProviderPaymentRef != "" {
		return nil, ErrPaymentSessionExists
	}
	return s.openSession(ctx, order, provider)
}

func (s *Service) openSession(ctx context.Context, order *domain.Order, provider payment.Provider) (*Result, error) {
	if order.Status == domain.OrderStatusPending {
		err := s.orders.TransitionStatus(ctx, order.ID,
			[]domain.OrderStatus{domain.OrderStatusPending}, domain.OrderStatusProcessing)
		if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			return nil, fmt.Errorf("mark order processing: %w", err)
		}
	}

	sessionCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := provider.CreateSession(sessionCtx, payment.SessionRequest{
		OrderID:             order.ID,
		Items:               order.Items,
		DiscountCode:        order.DiscountCode,
		DiscountAmountCents: order.DiscountAmountCents,
		TotalCents:          order.TotalCents,
		Currency:            order.Currency,
	})
	if err != nil {
		// The order stays PROCESSING with no provider ref; the next
		// checkout call for this owner resumes it.
		return nil, fmt.Errorf("create payment session for order %s: %w", order.ID, err)
	}

	if err := s.orders.SetProviderSession(ctx, order.ID, provider.Name(), session.ProviderRef); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			// A concurrent call recorded its session first; that one wins.
			return nil, ErrPaymentSessionExists
		}
		return nil, fmt.Errorf("persist payment session for order %s: %w", order.ID, err)
	}

	return &Result{
		OrderID:     order.ID,
		Provider:    provider.Name(),
		ProviderRef: session.ProviderRef,
		RedirectURL: session.RedirectURL,
		TotalCents:  order.TotalCents,
	}, nil
}

// revalidate rebuilds the line items against the current catalog. The
// catalog price is authoritative; the cart's snapshot is display-only and
// may have drifted.
func (s *Service) revalidate(ctx context.Context, cart *domain.Cart) ([]domain.OrderLineItem, error) {
	items := make([]domain.OrderLineItem, 0, len(cart.Items))
	for _, cartItem := range cart.Items {
		product, err := s.catalog.GetProduct(ctx, cartItem.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: product %d", ErrProductUnavailable, cartItem.ProductID)
			}
			return nil, fmt.Errorf("revalidate product %d: %w", cartItem.ProductID, err)
		}
		if !product.InStock(cartItem.Quantity) {
			return nil, fmt.Errorf("%w: product %d", ErrOutOfStock, cartItem.ProductID)
		}

		items = append(items, domain.OrderLineItem{
			ProductID:      product.ID,
			Title:          product.Title,
			UnitPriceCents: product.PriceCents,
			Quantity:       cartItem.Quantity,
			LineTotalCents: product.PriceCents * int64(cartItem.Quantity),
		})
	}
	return items, nil
}

// price runs the pricing engine. The applied code is returned only when it
// produced a non-zero discount, so unapplied codes never consume a usage
// slot.
func (s *Service) price(ctx context.Context, ownerKey string, items []domain.OrderLineItem, discountCode string) (pricing.Quote, string, error) {
	var discount *domain.Discount
	var usage pricing.Usage

	if discountCode != "" {
		d, err := s.orders.GetDiscountByCode(ctx, discountCode)
		if err != nil && !errors.Is(err, repository.ErrDiscountNotFound) {
			return pricing.Quote{}, "", fmt.Errorf("look up discount: %w", err)
		}
		if err == nil {
			total, perOwner, usageErr := s.orders.DiscountUsage(ctx, discountCode, ownerKey)
			if usageErr != nil {
				return pricing.Quote{}, "", fmt.Errorf("count discount usage: %w", usageErr)
			}
			discount = d
			usage = pricing.Usage{Total: total, PerOwner: perOwner}
		}
	}

	quote := pricing.Price(items, discount, usage, time.Now())

	applied := ""
	if quote.DiscountAmountCents > 0 {
		applied = discountCode
	}
	return quote, applied, nil
}
