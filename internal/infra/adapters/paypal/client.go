package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"whatsapp-voice-subscription/internal/domain/ports/adapter"
)

var _ adapter.BillingAdapter = (*Client)(nil)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	PlanID       string
	WebhookID    string
	BrandName    string
}

// Client is a PayPal REST client for the subscriptions API.
type Client struct {
	cfg  Config
	http *http.Client

	mu      sync.RWMutex
	token   string
	expires time.Time
	sf      singleflight.Group

	now func() time.Time
	log *zerolog.Logger
}

func NewClient(cfg Config, logger *zerolog.Logger) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("paypal client id and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-m.sandbox.paypal.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	l := logger.With().Str("component", "PayPalClient").Logger()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
		now:  time.Now,
		log:  &l,
	}, nil
}

// HTTPError is a non-2xx PayPal response.
type HTTPError struct {
	Status int
	Name   string
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("paypal http %d: %s", e.Status, e.Name)
	}
	return fmt.Sprintf("paypal http %d", e.Status)
}

// accessToken returns the cached OAuth token, refreshing it once for all
// concurrent callers when it is about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok, exp := c.token, c.expires
	c.mu.RUnlock()
	if tok != "" && c.now().Before(exp.Add(-time.Minute)) {
		return tok, nil
	}

	v, err, _ := c.sf.Do("token", func() (interface{}, error) {
		form := url.Values{"grant_type": {"client_credentials"}}.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form))
		if err != nil {
			return "", err
		}
		req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := c.do(req, &out); err != nil {
			return "", fmt.Errorf("paypal token: %w", err)
		}
		if out.AccessToken == "" {
			return "", errors.New("paypal token: empty access token")
		}
		c.mu.Lock()
		c.token = out.AccessToken
		c.expires = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
		c.mu.Unlock()
		return out.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, headers map[string]string) error {
	tok, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var e struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(b, &e)
		return &HTTPError{Status: resp.StatusCode, Name: e.Name, Body: string(b)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func (c *Client) CreateSubscription(ctx context.Context, phone string, links adapter.RedirectLinks) (*adapter.BillingSubscription, error) {
	body := map[string]any{
		"plan_id":   c.cfg.PlanID,
		"custom_id": phone,
		"application_context": map[string]any{
			"brand_name":          c.cfg.BrandName,
			"user_action":         "SUBSCRIBE_NOW",
			"shipping_preference": "NO_SHIPPING",
			"return_url":          links.SuccessURL,
			"cancel_url":          links.CancelURL,
		},
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []link `json:"links"`
	}
	headers := map[string]string{"PayPal-Request-Id": uuid.NewString()}
	if err := c.call(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &out, headers); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	approve := ""
	for _, l := range out.Links {
		if l.Rel == "approve" {
			approve = l.Href
			break
		}
	}
	if out.ID == "" || approve == "" {
		return nil, errors.New("create subscription: missing id or approval link")
	}
	c.log.Info().Str("subscription_id", out.ID).Str("status", out.Status).Msg("subscription created")
	return &adapter.BillingSubscription{ExternalID: out.ID, ApprovalURL: approve}, nil
}

// CancelSubscription cancels at the provider. A subscription that is already
// cancelled (422 SUBSCRIPTION_STATUS_INVALID) counts as success.
func (c *Client) CancelSubscription(ctx context.Context, externalID, reason string) error {
	if reason == "" {
		reason = "Customer requested cancellation"
	}
	err := c.call(ctx, http.MethodPost, "/v1/billing/subscriptions/"+url.PathEscape(externalID)+"/cancel",
		map[string]string{"reason": reason}, nil, nil)
	var herr *HTTPError
	if errors.As(err, &herr) && herr.Status == http.StatusUnprocessableEntity && strings.Contains(herr.Body, "SUBSCRIPTION_STATUS_INVALID") {
		c.log.Info().Str("subscription_id", externalID).Msg("subscription already inactive at provider")
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

var signatureHeaders = []string{
	"Paypal-Auth-Algo",
	"Paypal-Cert-Url",
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Sig",
	"Paypal-Transmission-Time",
}

// VerifySignature asks PayPal to verify the webhook transmission. Missing
// headers are a verification failure, not an error.
func (c *Client) VerifySignature(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	for _, h := range signatureHeaders {
		if headers.Get(h) == "" {
			return false, nil
		}
	}
	if !json.Valid(body) {
		return false, nil
	}
	req := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &out, nil); err != nil {
		return false, fmt.Errorf("verify signature: %w", err)
	}
	return out.VerificationStatus == "SUCCESS", nil
}

// PlanSpec describes the monthly plan created by the ctl setup command.
type PlanSpec struct {
	Name        string
	Description string
	Price       string // decimal, e.g. "3.99"
	Currency    string
}

func (c *Client) CreateProduct(ctx context.Context, name, description string) (string, error) {
	body := map[string]string{
		"name":        name,
		"description": description,
		"type":        "SERVICE",
		"category":    "SOFTWARE",
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/catalogs/products", body, &out, nil); err != nil {
		return "", fmt.Errorf("create product: %w", err)
	}
	return out.ID, nil
}

func (c *Client) CreatePlan(ctx context.Context, productID string, spec PlanSpec) (string, error) {
	price := map[string]string{"value": spec.Price, "currency_code": spec.Currency}
	body := map[string]any{
		"product_id":  productID,
		"name":        spec.Name,
		"description": spec.Description,
		"status":      "ACTIVE",
		"billing_cycles": []map[string]any{{
			"frequency":      map[string]any{"interval_unit": "MONTH", "interval_count": 1},
			"tenure_type":    "REGULAR",
			"sequence":       1,
			"total_cycles":   0,
			"pricing_scheme": map[string]any{"fixed_price": price},
		}},
		"payment_preferences": map[string]any{
			"auto_bill_outstanding":     true,
			"setup_fee":                 map[string]string{"value": "0", "currency_code": spec.Currency},
			"setup_fee_failure_action":  "CONTINUE",
			"payment_failure_threshold": 3,
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/billing/plans", body, &out, nil); err != nil {
		return "", fmt.Errorf("create plan: %w", err)
	}
	return out.ID, nil
}
