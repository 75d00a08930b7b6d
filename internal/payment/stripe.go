package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const stripeSignatureTolerance = 5 * time.Minute

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	FrontendURL   string
	// BaseURL overrides the Stripe API endpoint, used by tests.
	BaseURL string
}

// StripeProvider is the session-based variant: one synchronous call creates
// a checkout session with an immediately usable redirect URL. Discounts are
// passed through as a negative line item.
type StripeProvider struct {
	cfg     StripeConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	return &StripeProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "stripe",
			Timeout: 30 * time.Second,
		}),
	}
}

func (s *StripeProvider) Name() string { return "stripe" }

func (s *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if s.cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("client_reference_id", req.OrderID.String())
	form.Set("success_url", s.cfg.FrontendURL+"/checkout/success?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", s.cfg.FrontendURL+"/checkout/cancel")

	currency := strings.ToLower(req.Currency)
	idx := 0
	for _, item := range req.Items {
		prefix := fmt.Sprintf("line_items[%d]", idx)
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][product_data][name]", item.Title)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.UnitPriceCents, 10))
		form.Set(prefix+"[quantity]", strconv.FormatInt(int64(item.Quantity), 10))
		idx++
	}
	if req.DiscountAmountCents > 0 {
		prefix := fmt.Sprintf("line_items[%d]", idx)
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][product_data][name]", fmt.Sprintf("Discount (%s)", req.DiscountCode))
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(-req.DiscountAmountCents, 10))
		form.Set(prefix+"[quantity]", "1")
	}

	body, err := s.breaker.Execute(func() ([]byte, error) {
		return s.post(ctx, "/v1/checkout/sessions", form)
	})
	if err != nil {
		return nil, fmt.Errorf("stripe session create: %w", err)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("stripe session decode: %w", err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, fmt.Errorf("stripe session response missing id or url")
	}

	return &Session{ProviderRef: session.ID, RedirectURL: session.URL}, nil
}

func (s *StripeProvider) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// VerifyWebhook checks the Stripe-Signature header: HMAC-SHA256 over
// "<timestamp>.<payload>" with the webhook secret, rejecting stale
// timestamps outside the tolerance window.
func (s *StripeProvider) VerifyWebhook(_ context.Context, header http.Header, payload []byte) error {
	if s.cfg.WebhookSecret == "" {
		return ErrNotConfigured
	}

	sigHeader := header.Get("Stripe-Signature")
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := time.Since(time.Unix(ts, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}
