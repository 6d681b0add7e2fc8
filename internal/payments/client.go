// Package payments holds the checkout-provider integration: the outbound
// client that creates hosted checkout sessions, webhook signature
// verification, and the reconciliation between webhook events and the
// purchase ledger.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultProviderBaseURL = "https://api.stripe.com/v1"
	providerTimeout        = 15 * time.Second
)

// CheckoutSession is the provider's handle for one checkout attempt. ID is
// the join key the webhook reconciler later looks the purchase up by.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CheckoutParams describes the hosted checkout page to create.
type CheckoutParams struct {
	TemplateID   string
	TemplateName string
	UserID       string
	UserEmail    string
	Amount       int64 // minor units
	Currency     string
	SuccessURL   string
	CancelURL    string
}

// Client talks to the payment provider's REST API.
type Client struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewClient(secretKey string) *Client {
	return &Client{
		secretKey:  secretKey,
		baseURL:    defaultProviderBaseURL,
		httpClient: &http.Client{Timeout: providerTimeout},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(secretKey, baseURL string) *Client {
	c := NewClient(secretKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// CreateCheckoutSession creates a hosted checkout session scoped to one
// template. Template and user ids travel in session metadata so the webhook
// can reconcile without any shared state beyond the session id.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("customer_email", p.UserEmail)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", p.Currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", p.TemplateName)
	form.Set("metadata[templateId]", p.TemplateID)
	form.Set("metadata[userId]", p.UserID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("creating checkout session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return CheckoutSession{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return CheckoutSession{}, fmt.Errorf("decoding session response: %w", err)
	}
	if session.ID == "" {
		return CheckoutSession{}, fmt.Errorf("provider returned session without id")
	}
	return session, nil
}
