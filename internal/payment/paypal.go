package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	// WebhookID identifies the webhook registration used for signature
	// verification.
	WebhookID   string
	FrontendURL string
	// BaseURL overrides the PayPal API endpoint, used by tests. Defaults
	// to the sandbox unless Mode is "live".
	BaseURL string
	Mode    string
}

// PayPalProvider is the order-based variant: creation returns a list of
// typed links and the buyer is redirected to the approval link. Completion
// arrives later through a webhook.
type PayPalProvider struct {
	cfg     PayPalConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewPayPalProvider(cfg PayPalConfig) *PayPalProvider {
	if cfg.BaseURL == "" {
		if cfg.Mode == "live" {
			cfg.BaseURL = "https://api.paypal.com"
		} else {
			cfg.BaseURL = "https://api.sandbox.paypal.com"
		}
	}
	return &PayPalProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:    "paypal",
			Timeout: 30 * time.Second,
		}),
	}
}

func (p *PayPalProvider) Name() string { return "paypal" }

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func (p *PayPalProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}

	token, err := p.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("paypal auth: %w", err)
	}

	items := make([]map[string]interface{}, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]interface{}{
			"name":     item.Title,
			"sku":      fmt.Sprintf("%d", item.ProductID),
			"price":    centsToMajor(item.UnitPriceCents),
			"currency": req.Currency,
			"quantity": item.Quantity,
		})
	}

	payload := map[string]interface{}{
		"intent": "sale",
		"payer":  map[string]string{"payment_method": "paypal"},
		"transactions": []map[string]interface{}{{
			"item_list": map[string]interface{}{"items": items},
			"amount": map[string]string{
				"currency": req.Currency,
				"total":    centsToMajor(req.TotalCents),
			},
			"description":    "E-commerce purchase",
			"invoice_number": req.OrderID.String(),
		}},
		"redirect_urls": map[string]string{
			"return_url": p.cfg.FrontendURL + "/checkout/paypal/success",
			"cancel_url": p.cfg.FrontendURL + "/checkout/paypal/cancel",
		},
	}

	body, err := p.breaker.Execute(func() ([]byte, error) {
		return p.postJSON(ctx, "/v1/payments/payment", token, payload)
	})
	if err != nil {
		return nil, fmt.Errorf("paypal payment create: %w", err)
	}

	var created struct {
		ID    string       `json:"id"`
		Links []paypalLink `json:"links"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("paypal payment decode: %w", err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("paypal payment response missing id")
	}

	for _, link := range created.Links {
		if link.Rel == "approval_url" {
			return &Session{ProviderRef: created.ID, RedirectURL: link.Href}, nil
		}
	}
	return nil, ErrNoApprovalLink
}

// VerifyWebhook asks PayPal to confirm the delivery through its
// verify-webhook-signature endpoint.
func (p *PayPalProvider) VerifyWebhook(ctx context.Context, header http.Header, payload []byte) error {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" || p.cfg.WebhookID == "" {
		return ErrNotConfigured
	}

	token, err := p.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("paypal auth: %w", err)
	}

	verification := map[string]interface{}{
		"auth_algo":         header.Get("Paypal-Auth-Algo"),
		"cert_url":          header.Get("Paypal-Cert-Url"),
		"transmission_id":   header.Get("Paypal-Transmission-Id"),
		"transmission_sig":  header.Get("Paypal-Transmission-Sig"),
		"transmission_time": header.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	body, err := p.postJSON(ctx, "/v1/notifications/verify-webhook-signature", token, verification)
	if err != nil {
		return fmt.Errorf("paypal webhook verification: %w", err)
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("paypal webhook verification decode: %w", err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return ErrInvalidSignature
	}
	return nil
}

func (p *PayPalProvider) accessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}
	return token.AccessToken, nil
}

func (p *PayPalProvider) postJSON(ctx context.Context, path, token string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// centsToMajor renders integer cents as a decimal amount string, e.g.
// 2999 -> "29.99".
func centsToMajor(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
