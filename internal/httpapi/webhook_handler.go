package httpapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/goshop/goshop/internal/payment"
	"github.com/goshop/goshop/internal/webhook"
)

// maxWebhookBody caps what a provider may deliver in one webhook.
const maxWebhookBody = 1 << 20

type WebhookReconciler interface {
	Reconcile(ctx context.Context, provider string, header http.Header, payload []byte) (*webhook.Receipt, error)
}

type WebhookHandler struct {
	reconciler WebhookReconciler
	timeout    time.Duration
}

func NewWebhookHandler(reconciler WebhookReconciler, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		timeout:    timeout,
	}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	provider := chi.URLParam(r, "provider")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "could not read request body")
		return
	}

	_, err = h.reconciler.Reconcile(ctx, provider, r.Header, payload)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrUnknownProvider):
			respondError(w, http.StatusNotFound, "unknown_provider", "no webhook endpoint for this provider")
		case errors.Is(err, payment.ErrInvalidSignature):
			respondError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
		case errors.Is(err, webhook.ErrMalformedPayload):
			respondError(w, http.StatusBadRequest, "invalid_payload", "webhook payload is malformed")
		default:
			log.Printf("webhook %s failed: %v", provider, err)
			respondError(w, http.StatusInternalServerError, "internal_error", "webhook processing failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"received": true})
}
