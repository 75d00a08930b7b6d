package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/goshop/goshop/internal/payment"
)

var (
	ErrUnknownProvider  = errors.New("no webhook handler registered for provider")
	ErrMalformedPayload = errors.New("webhook payload is malformed")
)

// OrderStore is the mutation surface the reconciler drives. CompleteOrder
// reports true only for the delivery that actually moved the order to
// COMPLETED, so redeliveries collapse into no-ops. FailOrder is a no-op on
// orders already in a terminal state.
type OrderStore interface {
	CompleteOrder(ctx context.Context, id uuid.UUID, provider, paymentRef string) (bool, error)
	FailOrder(ctx context.Context, id uuid.UUID) error
}

// Receipt describes what a delivery amounted to. Ignored deliveries are
// acknowledged to the provider so it stops retrying them.
type Receipt struct {
	Provider  string
	EventType string
	OrderID   uuid.UUID
	Completed bool
	Failed    bool
	Ignored   bool
}

type action int

const (
	actionIgnore action = iota
	actionComplete
	actionFail
)

type extracted struct {
	orderRef   string
	paymentRef string
	eventType  string
	action     action
}

type providerHooks struct {
	verifier payment.WebhookVerifier
	extract  func(payload []byte) (extracted, error)
}

// Reconciler turns verified provider webhooks into order state changes. It
// trusts nothing in the payload until the provider's verifier has accepted
// the delivery.
type Reconciler struct {
	providers map[string]providerHooks
	orders    OrderStore
}

func NewReconciler(orders OrderStore) *Reconciler {
	return &Reconciler{
		providers: make(map[string]providerHooks),
		orders:    orders,
	}
}

func (r *Reconciler) RegisterStripe(verifier payment.WebhookVerifier) {
	r.providers["stripe"] = providerHooks{verifier: verifier, extract: extractStripe}
}

func (r *Reconciler) RegisterPayPal(verifier payment.WebhookVerifier) {
	r.providers["paypal"] = providerHooks{verifier: verifier, extract: extractPayPal}
}

// Reconcile verifies and applies one webhook delivery. Signature failures
// return payment.ErrInvalidSignature and nothing is mutated. Event types the
// pipeline does not care about come back with Ignored set.
func (r *Reconciler) Reconcile(ctx context.Context, provider string, header http.Header, payload []byte) (*Receipt, error) {
	hooks, ok := r.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	if err := hooks.verifier.VerifyWebhook(ctx, header, payload); err != nil {
		return nil, err
	}

	ex, err := hooks.extract(payload)
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{Provider: provider, EventType: ex.eventType}
	if ex.action == actionIgnore {
		receipt.Ignored = true
		return receipt, nil
	}

	orderID, err := uuid.Parse(ex.orderRef)
	if err != nil {
		return nil, fmt.Errorf("%w: order reference %q is not a uuid", ErrMalformedPayload, ex.orderRef)
	}
	receipt.OrderID = orderID

	switch ex.action {
	case actionComplete:
		completed, err := r.orders.CompleteOrder(ctx, orderID, provider, ex.paymentRef)
		if err != nil {
			return nil, fmt.Errorf("complete order %s: %w", orderID, err)
		}
		if !completed {
			// Redelivery, an unknown order, or an order already in a
			// terminal state. Acknowledge so the provider stops retrying.
			log.Printf("webhook %s/%s for order %s did not complete anything", provider, ex.eventType, orderID)
		}
		receipt.Completed = completed
	case actionFail:
		if err := r.orders.FailOrder(ctx, orderID); err != nil {
			return nil, fmt.Errorf("fail order %s: %w", orderID, err)
		}
		receipt.Failed = true
	}
	return receipt, nil
}

func extractStripe(payload []byte) (extracted, error) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID                string `json:"id"`
				ClientReferenceID string `json:"client_reference_id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return extracted{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	ex := extracted{
		orderRef:   event.Data.Object.ClientReferenceID,
		paymentRef: event.Data.Object.ID,
		eventType:  event.Type,
	}

	switch event.Type {
	case "checkout.session.completed":
		ex.action = actionComplete
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		ex.action = actionFail
	default:
		return ex, nil
	}

	if ex.orderRef == "" {
		return extracted{}, fmt.Errorf("%w: %s without client_reference_id", ErrMalformedPayload, event.Type)
	}
	return ex, nil
}

func extractPayPal(payload []byte) (extracted, error) {
	var event struct {
		EventType string `json:"event_type"`
		Resource  struct {
			ID            string `json:"id"`
			InvoiceNumber string `json:"invoice_number"`
			ParentPayment string `json:"parent_payment"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return extracted{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	paymentRef := event.Resource.ParentPayment
	if paymentRef == "" {
		paymentRef = event.Resource.ID
	}
	ex := extracted{
		orderRef:   event.Resource.InvoiceNumber,
		paymentRef: paymentRef,
		eventType:  event.EventType,
	}

	switch event.EventType {
	case "PAYMENT.SALE.COMPLETED":
		ex.action = actionComplete
	case "PAYMENT.SALE.DENIED", "PAYMENT.SALE.REVERSED":
		ex.action = actionFail
	default:
		return ex, nil
	}

	if ex.orderRef == "" {
		return extracted{}, fmt.Errorf("%w: %s without invoice_number", ErrMalformedPayload, event.EventType)
	}
	return ex, nil
}
