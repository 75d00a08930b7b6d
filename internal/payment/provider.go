package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/goshop/goshop/internal/domain"
)

var (
	// ErrNotConfigured means the provider's credentials are missing. This
	// is an operational problem, not a caller mistake.
	ErrNotConfigured = errors.New("payment provider is not configured")

	// ErrNoApprovalLink means the provider's response carried no link with
	// the expected relation.
	ErrNoApprovalLink = errors.New("no approval link in provider response")

	// ErrInvalidSignature means a webhook payload failed authenticity
	// verification and must not mutate any state.
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

type SessionRequest struct {
	OrderID             uuid.UUID
	Items               []domain.OrderLineItem
	DiscountCode        string
	DiscountAmountCents int64
	TotalCents          int64
	Currency            string
}

// Session is the provider-side handle for a payment attempt. ProviderRef is
// opaque; RedirectURL is where the buyer completes payment.
type Session struct {
	ProviderRef string
	RedirectURL string
}

// Provider creates a provider-side payment session for an order. Adapters
// never mutate the order; they only return identifiers for the orchestrator
// to persist.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
}

// WebhookVerifier checks that a webhook delivery genuinely originates from
// the provider before the reconciler acts on it.
type WebhookVerifier interface {
	VerifyWebhook(ctx context.Context, header http.Header, payload []byte) error
}
