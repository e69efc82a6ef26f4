package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/api/internal/payments"
	"github.com/oakmart/api/internal/platform/httpx"
	"github.com/oakmart/api/internal/services"
)

const (
	confirmRateLimit  = 30
	confirmRateWindow = time.Minute
)

// PaymentHandlers exposes the payment intent and confirmation endpoints.
type PaymentHandlers struct {
	storefront services.StorefrontService
	limiter    *simpleRateLimiter
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(storefront services.StorefrontService) *PaymentHandlers {
	return &PaymentHandlers{
		storefront: storefront,
		limiter:    newSimpleRateLimiter(confirmRateLimit, confirmRateWindow),
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/intents", h.createIntent)
	r.Post("/{intentID}:confirm", h.confirm)
}

type createIntentRequest struct {
	OrderID   string            `json:"order_id"`
	Method    string            `json:"method"`
	ReturnURL string            `json:"return_url"`
	CancelURL string            `json:"cancel_url"`
	Metadata  map[string]string `json:"metadata"`
}

type confirmRequest struct {
	OrderID  string            `json:"order_id"`
	Method   string            `json:"method"`
	Metadata map[string]string `json:"metadata"`
}

type intentResponse struct {
	Intent intentPayload `json:"intent"`
}

type intentPayload struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	Method       string `json:"method"`
	ClientSecret string `json:"client_secret,omitempty"`
	ApproveURL   string `json:"approve_url,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

type confirmResponse struct {
	Confirmation confirmationPayload  `json:"confirmation"`
	Order        orderPayload         `json:"order"`
	Notification *notificationPayload `json:"notification,omitempty"`
}

type confirmationPayload struct {
	Succeeded     bool    `json:"succeeded"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Method        string  `json:"method"`
	Message       string  `json:"message,omitempty"`
	ConfirmedAt   string  `json:"confirmed_at,omitempty"`
}

type notificationPayload struct {
	Succeeded bool   `json:"succeeded"`
	Message   string `json:"message,omitempty"`
	SentAt    string `json:"sent_at,omitempty"`
}

func (h *PaymentHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.storefront == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req createIntentRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	method, err := payments.ParseMethod(req.Method)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unsupported payment method", http.StatusBadRequest))
		return
	}

	intent, err := h.storefront.RequestPayment(ctx, services.RequestPaymentCommand{
		OrderID:   strings.TrimSpace(req.OrderID),
		Method:    method,
		ReturnURL: strings.TrimSpace(req.ReturnURL),
		CancelURL: strings.TrimSpace(req.CancelURL),
		Metadata:  req.Metadata,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, intentResponse{Intent: intentPayload{
		ID:           intent.ID,
		Provider:     intent.Provider,
		Method:       intent.Method.String(),
		ClientSecret: intent.ClientSecret,
		ApproveURL:   intent.ApproveURL,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Status:       intent.Status,
	}})
}

func (h *PaymentHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.storefront == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many confirmation attempts", http.StatusTooManyRequests))
		return
	}

	intentID := strings.TrimSpace(chi.URLParam(r, "intentID"))
	if intentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "intent id is required", http.StatusBadRequest))
		return
	}

	var req confirmRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	method, err := payments.ParseMethod(req.Method)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unsupported payment method", http.StatusBadRequest))
		return
	}

	result, err := h.storefront.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		OrderID:        strings.TrimSpace(req.OrderID),
		IntentID:       intentID,
		Method:         method,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if !result.Confirmation.Succeeded {
		status = http.StatusPaymentRequired
	}

	payload := confirmResponse{
		Confirmation: buildConfirmationPayload(result.Confirmation),
		Order:        buildOrderPayload(result.Order),
	}
	if result.Notification != nil {
		payload.Notification = &notificationPayload{
			Succeeded: result.Notification.Succeeded,
			Message:   result.Notification.Message,
			SentAt:    formatTime(result.Notification.SentAt),
		}
	}

	writeJSONResponse(w, status, payload)
}

func buildConfirmationPayload(c payments.Confirmation) confirmationPayload {
	payload := confirmationPayload{
		Succeeded:     c.Succeeded,
		TransactionID: c.TransactionID,
		Status:        c.Status,
		Amount:        c.Amount,
		Currency:      c.Currency,
		Method:        c.Method.String(),
		Message:       c.Message,
	}
	if !c.ConfirmedAt.IsZero() {
		payload.ConfirmedAt = formatTime(c.ConfirmedAt)
	}
	return payload
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
