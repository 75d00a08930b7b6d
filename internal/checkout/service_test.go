package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goshop/goshop/internal/domain"
	"github.com/goshop/goshop/internal/payment"
	"github.com/goshop/goshop/internal/repository"
)

type mockCarts struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

func newMockCarts() *mockCarts {
	return &mockCarts{carts: make(map[string]*domain.Cart)}
}

func (m *mockCarts) GetCart(_ context.Context, ownerKey string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cart, ok := m.carts[ownerKey]; ok {
		return cart, nil
	}
	return &domain.Cart{OwnerKey: ownerKey}, nil
}

func (m *mockCarts) Clear(_ context.Context, ownerKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, ownerKey)
	return nil
}

type mockCatalog struct {
	mu       sync.Mutex
	products map[int64]*domain.Product
}

func newMockCatalog(products ...*domain.Product) *mockCatalog {
	m := &mockCatalog{products: make(map[int64]*domain.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockCatalog) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		return p, nil
	}
	return nil, repository.ErrProductNotFound
}

type mockOrders struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*domain.Order
	discounts map[string]*domain.Discount
	usage     map[string]int64
}

func newMockOrders() *mockOrders {
	return &mockOrders{
		orders:    make(map[uuid.UUID]*domain.Order),
		discounts: make(map[string]*domain.Discount),
		usage:     make(map[string]int64),
	}
}

func (m *mockOrders) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.OwnerKey == order.OwnerKey && !existing.Status.IsTerminal() && existing.Status != domain.OrderStatusOpen {
			return repository.ErrOpenOrderExists
		}
	}
	clone := *order
	m.orders[order.ID] = &clone
	return nil
}

func (m *mockOrders) GetOpenOrderByOwner(_ context.Context, ownerKey string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OwnerKey == ownerKey && (o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusProcessing) {
			clone := *o
			return &clone, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *mockOrders) TransitionStatus(_ context.Context, id uuid.UUID, from []domain.OrderStatus, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			return nil
		}
	}
	return repository.ErrStaleStatus
}

func (m *mockOrders) SetProviderSession(_ context.Context, id uuid.UUID, provider, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if o.ProviderPaymentRef != "" {
		return repository.ErrStaleStatus
	}
	o.PaymentProvider = provider
	o.ProviderPaymentRef = ref
	return nil
}

func (m *mockOrders) GetDiscountByCode(_ context.Context, code string) (*domain.Discount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.discounts[code]; ok {
		return d, nil
	}
	return nil, repository.ErrDiscountNotFound
}

func (m *mockOrders) DiscountUsage(_ context.Context, code, _ string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[code], 0, nil
}

func (m *mockOrders) get(id uuid.UUID) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *m.orders[id]
	return &clone
}

func (m *mockOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type stubProvider struct {
	mu       sync.Mutex
	name     string
	err      error
	sessions int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.sessions++
	return &payment.Session{
		ProviderRef: fmt.Sprintf("sess_%s_%d", req.OrderID, p.sessions),
		RedirectURL: "https://pay.example/" + req.OrderID.String(),
	}, nil
}

func (p *stubProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func newTestService(t *testing.T) (*Service, *mockCarts, *mockCatalog, *mockOrders, *stubProvider) {
	t.Helper()
	carts := newMockCarts()
	catalog := newMockCatalog(
		&domain.Product{ID: 1, Title: "Blue Widget", PriceCents: 2999},
		&domain.Product{ID: 2, Title: "Red Widget", PriceCents: 9999},
	)
	orders := newMockOrders()
	provider := &stubProvider{name: "stripe"}
	svc := NewService(carts, catalog, orders, map[string]payment.Provider{"stripe": provider})
	return svc, carts, catalog, orders, provider
}

func activeDiscount(kind domain.DiscountKind, amount int64) *domain.Discount {
	return &domain.Discount{
		Code:      "SAVE10",
		Kind:      kind,
		Amount:    amount,
		StartsAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func seedCart(carts *mockCarts, ownerKey string) {
	carts.mu.Lock()
	defer carts.mu.Unlock()
	carts.carts[ownerKey] = &domain.Cart{
		OwnerKey: ownerKey,
		Items: []domain.CartItem{
			{ProductID: 1, Quantity: 1, UnitPriceCents: 2999},
			{ProductID: 2, Quantity: 2, UnitPriceCents: 9999},
		},
	}
}

func TestCheckout(t *testing.T) {
	svc, carts, _, orders, _ := newTestService(t)
	seedCart(carts, "user-1")

	result, err := svc.Checkout(context.Background(), "user-1", "stripe", "")
	require.NoError(t, err)

	assert.Equal(t, "stripe", result.Provider)
	assert.NotEmpty(t, result.ProviderRef)
	assert.NotEmpty(t, result.RedirectURL)
	assert.Equal(t, int64(22997), result.TotalCents)

	order := orders.get(result.OrderID)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
	assert.Equal(t, int64(22997), order.SubtotalCents)
	assert.Equal(t, result.ProviderRef, order.ProviderPaymentRef)

	cart, err := carts.GetCart(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestCheckout_EmptyCart(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	_, err := svc.Checkout(context.Background(), "user-1", "stripe", "")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckout_UnknownPaymentMethod(t *testing.T) {
	svc, carts, _, _, _ := newTestService(t)
	seedCart(carts, "user-1")

	_, err := svc.Checkout(context.Background(), "user-1", "bitcoin", "")
	assert.ErrorIs(t, err, ErrUnknownPaymentMethod)
}

func TestCheckout_CatalogPriceIsAuthoritative(t *testing.T) {
	svc, carts, catalog, orders, _ := newTestService(t)
	seedCart(carts, "user-1")

	// The price changed after the item was added to the cart.
	catalog.mu.Lock()
	catalog.products[1].PriceCents = 3499
	catalog.mu.Unlock()

	result, err := svc.Checkout(context.Background(), "user-1", "stripe", "")
	require.NoError(t, err)

	order := orders.get(result.OrderID)
	assert.Equal(t, int64(3499), order.Items[0].UnitPriceCents)
	assert.Equal(t, int64(3499+2*9999), order.SubtotalCents)
}

func TestCheckout_DiscountApplied(t *testing.T) {
	svc, carts, _, orders, _ := newTestService(t)
	seedCart(carts, "user-1")
	orders.discounts["SAVE10"] = activeDiscount(domain.DiscountPercentage, 10)

	result, err := svc.Checkout(context.Background(), "user-1", "stripe", "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, int64(20697), result.TotalCents)

	order := orders.get(result.OrderID)
	assert.Equal(t, "SAVE10", order.DiscountCode)
	assert.Equal(t, int64(2300), order.DiscountAmountCents)
}

func TestCheckout_UnknownDiscountIgnored(t *testing.T) {
	svc, carts, _, orders, _ := newTestService(t)
	seedCart(carts, "user-1")

	result, err := svc.Checkout(context.Background(), "user-1", "stripe", "NOPE")
	require.NoError(t, err)
	assert.Equal(t, int64(22997), result.TotalCents)

	order := orders.get(result.OrderID)
	assert.Empty(t, order.DiscountCode)
	assert.Zero(t, order.DiscountAmountCents)
}

func TestCheckout_ExhaustedDiscountNotRecorded(t *testing.T) {
	svc, carts, _, orders, _ := newTestService(t)
	seedCart(carts, "user-1")
	limit := int64(50)
	d := activeDiscount(domain.DiscountPercentage, 10)
	d.UsageLimit = &limit
	orders.discounts["SAVE10"] = d
	orders.usage["SAVE10"] = 50

	result, err := svc.Checkout(context.Background(), "user-1", "stripe", "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, int64(22997), result.TotalCents)
	assert.Empty(t, orders.get(result.OrderID).DiscountCode)
}

func TestCheckout_ProductGone(t *testing.T) {
	svc, carts, catalog, _, _ := newTestService(t)
	seedCart(carts, "user-1")

	catalog.mu.Lock()
	delete(catalog.products, 2)
	catalog.mu.Unlock()

	_, err := svc.Checkout(context.Background(), "user-1", "stripe", "")
	assert.ErrorIs(t, err, ErrProductUnavailable)
}

func TestCheckout_OutOfStock(t *testing.T) {
	svc, carts, catalog, _, _ := newTestService(t)
	seedCart(carts, "user-1")

	stock := int32(1)
	catalog.mu.Lock()
	catalog.products[2].Stock = &stock
	catalog.mu.Unlock()

	_, err := svc.Checkout(context.Background(), "user-1", "stripe", "")
	assert.ErrorIs(t, err, ErrOutOfStock)
}

func TestCheckout_RetryAfterProviderFailure(t *testing.T) {
	svc, carts, _, orders, provider := newTestService(t)
	seedCart(carts, "user-1")
	provider.setErr(errors.New("stripe is down"))

	_, err := svc.Checkout(context.Background(), "user-1", "stripe", "")
	require.Error(t, err)

	// The order survived the failed session attempt, waiting for a retry.
	require.Equal(t, 1, orders.count())
	stuck, err := orders.GetOpenOrderByOwner(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, stuck.Status)
	assert.Empty(t, stuck.ProviderPaymentRef)

	provider.setErr(nil)
	result, err := svc.Checkout(context.Background(), "user-1", "stripe", "")
	require.NoError(t, err)

	assert.Equal(t, stuck.ID, result.OrderID)
	assert.Equal(t, 1, orders.count())
	assert.Equal(t, result.ProviderRef, orders.get(result.OrderID).ProviderPaymentRef)
}

func TestCheckout_SessionAlreadyCreated(t *testing.T) {
	svc, carts, _, _, _ := newTestService(t)
	seedCart(carts, "user-1")

	_, err := svc.Checkout(context.Background(), "user-1", "stripe", "")
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), "user-1", "stripe", "")
	assert.ErrorIs(t, err, ErrPaymentSessionExists)
}

func TestCheckout_Concurrent(t *testing.T) {
	svc, carts, _, orders, _ := newTestService(t)
	seedCart(carts, "user-1")

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Checkout(context.Background(), "user-1", "stripe", "")
		}(i)
	}
	wg.Wait()

	// Exactly one order exists no matter how the calls interleaved, and
	// exactly one payment session was recorded against it.
	require.Equal(t, 1, orders.count())

	succeeded := 0
	for i := 0; i < callers; i++ {
		if errs[i] == nil {
			succeeded++
			assert.Equal(t, orders.get(results[i].OrderID).ProviderPaymentRef, results[i].ProviderRef)
		} else {
			assert.ErrorIs(t, errs[i], ErrPaymentSessionExists)
		}
	}
	require.GreaterOrEqual(t, succeeded, 1)
}
