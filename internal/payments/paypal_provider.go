package payments

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PayPalLogger defines the logging contract for PayPal provider operations.
type PayPalLogger func(ctx context.Context, event string, fields map[string]any)

type paypalHTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// PayPalProviderConfig configures the PayPalProvider.
type PayPalProviderConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	HTTPClient   paypalHTTPDoer
	Logger       PayPalLogger
	Clock        func() time.Time
}

// PayPalProvider serves the alternative-wallet method through the Orders v2
// REST API: create an order, hand the approval link to the caller, then
// capture once the shopper approved.
type PayPalProvider struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   paypalHTTPDoer
	clock        func() time.Time
	logger       PayPalLogger

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewPayPalProvider constructs a PayPal Provider using the given configuration.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api-m.paypal.com"
	}
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("paypal: client credentials are required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PayPalProvider{
		baseURL:      baseURL,
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		httpClient:   httpClient,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string        `json:"reference_id,omitempty"`
	Amount      *paypalAmount `json:"amount,omitempty"`
	Payments    *struct {
		Captures []struct {
			ID     string       `json:"id"`
			Status string       `json:"status"`
			Amount paypalAmount `json:"amount"`
		} `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrderResponse struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []paypalLink         `json:"links"`
}

type paypalErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e paypalErrorResponse) message() string {
	if len(e.Details) > 0 && e.Details[0].Description != "" {
		return e.Details[0].Description
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Name
}

func (p *PayPalProvider) token(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.accessToken != "" && p.clock().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: request token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("paypal: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: token endpoint returned %d", resp.StatusCode)
	}

	var token paypalTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("paypal: decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("paypal: token response missing access_token")
	}

	p.accessToken = token.AccessToken
	// Renew one minute early so in-flight calls never present a stale token.
	p.tokenExpiry = p.clock().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

func (p *PayPalProvider) call(ctx context.Context, method, path, idempotencyKey string, payload any) (*paypalOrderResponse, int, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, 0, err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("paypal: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("PayPal-Request-Id", key)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("paypal: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("paypal: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr paypalErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.message() != "" {
			return nil, resp.StatusCode, fmt.Errorf("paypal: %s", apiErr.message())
		}
		return nil, resp.StatusCode, fmt.Errorf("paypal: %s %s returned %d", method, path, resp.StatusCode)
	}

	var order paypalOrderResponse
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("paypal: decode response: %w", err)
	}
	return &order, resp.StatusCode, nil
}

// CreateIntent opens a PayPal order and returns its approval link.
func (p *PayPalProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("paypal: provider is nil")
	}
	if req.Method != MethodAlternativeWallet {
		return Intent{}, fmt.Errorf("paypal: unsupported method %s", req.Method)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderID,
			"amount": map[string]string{
				"currency_code": currency,
				"value":         FormatMajorUnits(req.Amount, currency),
			},
		}},
	}
	if req.ReturnURL != "" || req.CancelURL != "" {
		payload["payment_source"] = map[string]any{
			"paypal": map[string]any{
				"experience_context": map[string]string{
					"return_url": req.ReturnURL,
					"cancel_url": req.CancelURL,
				},
			},
		}
	}

	order, _, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", req.IdempotencyKey, payload)
	if err != nil {
		return Intent{}, err
	}

	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}

	p.logger(ctx, "payments.paypal.order.created", map[string]any{
		"order":    order.ID,
		"status":   order.Status,
		"currency": currency,
	})

	return Intent{
		ID:         order.ID,
		Provider:   "paypal",
		Method:     MethodAlternativeWallet,
		ApproveURL: approveURL,
		Amount:     req.Amount,
		Currency:   currency,
		Status:     order.Status,
	}, nil
}

// Confirm captures an approved PayPal order and normalises the outcome.
func (p *PayPalProvider) Confirm(ctx context.Context, req ConfirmRequest) (Confirmation, error) {
	if p == nil {
		return Confirmation{}, errors.New("paypal: provider is nil")
	}

	path := "/v2/checkout/orders/" + url.PathEscape(req.IntentID) + "/capture"
	order, _, err := p.call(ctx, http.MethodPost, path, req.IdempotencyKey, nil)
	if err != nil {
		return Confirmation{}, err
	}

	p.logger(ctx, "payments.paypal.order.captured", map[string]any{
		"order":  order.ID,
		"status": order.Status,
	})

	return p.confirmationFromOrder(order), nil
}

// confirmationFromOrder maps the capture response onto the normalised result
// shape. PayPal reports decimal major-unit strings on the wire.
func (p *PayPalProvider) confirmationFromOrder(order *paypalOrderResponse) Confirmation {
	if order == nil {
		return Confirmation{Status: "unknown", Method: MethodAlternativeWallet, ConfirmedAt: p.clock()}
	}

	succeeded := order.Status == "COMPLETED"
	transactionID := order.ID
	var amount float64
	currency := ""

	for _, unit := range order.PurchaseUnits {
		if unit.Payments == nil {
			continue
		}
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				transactionID = capture.ID
			}
			currency = capture.Amount.CurrencyCode
			if parsed, err := strconv.ParseFloat(capture.Amount.Value, 64); err == nil {
				amount += parsed
			}
		}
	}

	message := ""
	if !succeeded {
		message = fmt.Sprintf("order is %s", strings.ToLower(order.Status))
	}

	return Confirmation{
		Succeeded:     succeeded,
		TransactionID: transactionID,
		Status:        strings.ToLower(order.Status),
		Amount:        amount,
		Currency:      currency,
		Method:        MethodAlternativeWallet,
		Message:       message,
		ConfirmedAt:   p.clock(),
	}
}
