package webhook

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goshop/goshop/internal/payment"
)

type mockCompleter struct {
	mu        sync.Mutex
	completed map[uuid.UUID]string
	failed    map[uuid.UUID]bool
	err       error
}

func newMockCompleter() *mockCompleter {
	return &mockCompleter{
		completed: make(map[uuid.UUID]string),
		failed:    make(map[uuid.UUID]bool),
	}
}

func (m *mockCompleter) CompleteOrder(_ context.Context, id uuid.UUID, _, paymentRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, done := m.completed[id]; done {
		return false, nil
	}
	m.completed[id] = paymentRef
	return true, nil
}

func (m *mockCompleter) FailOrder(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.failed[id] = true
	return nil
}

type stubVerifier struct {
	err error
}

func (v *stubVerifier) VerifyWebhook(context.Context, http.Header, []byte) error {
	return v.err
}

func newTestReconciler(completer *mockCompleter, verifier payment.WebhookVerifier) *Reconciler {
	r := NewReconciler(completer)
	r.RegisterStripe(verifier)
	r.RegisterPayPal(verifier)
	return r
}

func stripeCompletedPayload(orderID uuid.UUID) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"checkout.session.completed","data":{"object":{"id":"cs_test_abc","client_reference_id":%q}}}`,
		orderID,
	))
}

func paypalCompletedPayload(orderID uuid.UUID) []byte {
	return []byte(fmt.Sprintf(
		`{"event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"SALE-1","invoice_number":%q,"parent_payment":"PAY-123"}}`,
		orderID,
	))
}

func TestReconcileStripeCompleted(t *testing.T) {
	completer := newMockCompleter()
	r := newTestReconciler(completer, &stubVerifier{})
	orderID := uuid.New()

	receipt, err := r.Reconcile(context.Background(), "stripe", http.Header{}, stripeCompletedPayload(orderID))
	require.NoError(t, err)

	assert.True(t, receipt.Completed)
	assert.False(t, receipt.Ignored)
	assert.Equal(t, orderID, receipt.OrderID)
	assert.Equal(t, "checkout.session.completed", receipt.EventType)
	assert.Equal(t, "cs_test_abc", completer.completed[orderID])
}

func TestReconcilePayPalCompleted(t *testing.T) {
	completer := newMockCompleter()
	r := newTestReconciler(completer, &stubVerifier{})
	orderID := uuid.New()

	receipt, err := r.Reconcile(context.Background(), "paypal", http.Header{}, paypalCompletedPayload(orderID))
	require.NoError(t, err)

	assert.True(t, receipt.Completed)
	assert.Equal(t, "PAY-123", completer.completed[orderID])
}

func TestReconcileRedelivery(t *testing.T) {
	completer := newMockCompleter()
	r := newTestReconciler(completer, &stubVerifier{})
	orderID := uuid.New()
	payload := stripeCompletedPayload(orderID)

	first, err := r.Reconcile(context.Background(), "stripe", http.Header{}, payload)
	require.NoError(t, err)
	assert.True(t, first.Completed)

	second, err := r.Reconcile(context.Background(), "stripe", http.Header{}, payload)
	require.NoError(t, err)
	assert.False(t, second.Completed)
}

func TestReconcileInvalidSignature(t *testing.T) {
	completer := newMockCompleter()
	r := newTestReconciler(completer, &stubVerifier{err: payment.ErrInvalidSignature})
	orderID := uuid.New()

	_, err := r.Reconcile(context.Background(), "stripe", http.Header{}, stripeCompletedPayload(orderID))
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Empty(t, completer.completed)
}

func TestReconcileIgnoredEvents(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		payload  string
		event    string
	}{
		{"stripe payment intent", "stripe", `{"type":"payment_intent.created","data":{"object":{"id":"pi_1"}}}`, "payment_intent.created"},
		{"paypal sale pending", "paypal", `{"event_type":"PAYMENT.SALE.PENDING","resource":{"id":"SALE-1"}}`, "PAYMENT.SALE.PENDING"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := newMockCompleter()
			r := newTestReconciler(completer, &stubVerifier{})

			receipt, err := r.Reconcile(context.Background(), tt.provider, http.Header{}, []byte(tt.payload))
			require.NoError(t, err)
			assert.True(t, receipt.Ignored)
			assert.Equal(t, tt.event, receipt.EventType)
			assert.Empty(t, completer.completed)
		})
	}
}

func TestReconcileMalformed(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		payload  string
	}{
		{"not json", "stripe", `{{{`},
		{"stripe missing order reference", "stripe", `{"type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`},
		{"stripe order reference not uuid", "stripe", `{"type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"order-42"}}}`},
		{"paypal missing invoice", "paypal", `{"event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"SALE-1"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := newMockCompleter()
			r := newTestReconciler(completer, &stubVerifier{})

			_, err := r.Reconcile(context.Background(), tt.provider, http.Header{}, []byte(tt.payload))
			assert.ErrorIs(t, err, ErrMalformedPayload)
			assert.Empty(t, completer.completed)
		})
	}
}

func TestReconcileUnknownProvider(t *testing.T) {
	r := newTestReconciler(newMockCompleter(), &stubVerifier{})
	_, err := r.Reconcile(context.Background(), "square", http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestReconcileUnknownOrderAcknowledged(t *testing.T) {
	completer := newMockCompleter()
	completer.completed[uuid.New()] = "taken"
	r := newTestReconciler(completer, &stubVerifier{})

	// CompleteOrder reports false for an order the store has no row for;
	// the delivery is still acknowledged.
	orderID := uuid.New()
	completer.mu.Lock()
	completer.completed[orderID] = "already"
	completer.mu.Unlock()

	receipt, err := r.Reconcile(context.Background(), "stripe", http.Header{}, stripeCompletedPayload(orderID))
	require.NoError(t, err)
	assert.False(t, receipt.Completed)
}

func TestReconcileFailureEvents(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		payload  func(orderID uuid.UUID) string
	}{
		{
			"stripe session expired", "stripe",
			func(orderID uuid.UUID) string {
				return fmt.Sprintf(`{"type":"checkout.session.expired","data":{"object":{"id":"cs_1","client_reference_id":%q}}}`, orderID)
			},
		},
		{
			"paypal sale denied", "paypal",
			func(orderID uuid.UUID) string {
				return fmt.Sprintf(`{"event_type":"PAYMENT.SALE.DENIED","resource":{"id":"SALE-1","invoice_number":%q}}`, orderID)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := newMockCompleter()
			r := newTestReconciler(completer, &stubVerifier{})
			orderID := uuid.New()

			receipt, err := r.Reconcile(context.Background(), tt.provider, http.Header{}, []byte(tt.payload(orderID)))
			require.NoError(t, err)
			assert.True(t, receipt.Failed)
			assert.False(t, receipt.Completed)
			assert.True(t, completer.failed[orderID])
			assert.Empty(t, completer.completed)
		})
	}
}

func TestReconcilePayPalFallsBackToResourceID(t *testing.T) {
	completer := newMockCompleter()
	r := newTestReconciler(completer, &stubVerifier{})
	orderID := uuid.New()
	payload := []byte(fmt.Sprintf(
		`{"event_type":"PAYMENT.SALE.COMPLETED","resource":{"id":"SALE-9","invoice_number":%q}}`, orderID))

	receipt, err := r.Reconcile(context.Background(), "paypal", http.Header{}, payload)
	require.NoError(t, err)
	assert.True(t, receipt.Completed)
	assert.Equal(t, "SALE-9", completer.completed[orderID])
}
