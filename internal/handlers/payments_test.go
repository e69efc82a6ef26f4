package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/api/internal/payments"
	"github.com/oakmart/api/internal/services"
)

func paymentRouter(storefront services.StorefrontService) chi.Router {
	handler := NewPaymentHandlers(storefront)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)
	return router
}

func TestPaymentHandlersCreateIntentSuccess(t *testing.T) {
	var captured services.RequestPaymentCommand
	storefront := &stubStorefrontService{
		requestFn: func(ctx context.Context, cmd services.RequestPaymentCommand) (payments.Intent, error) {
			captured = cmd
			return payments.Intent{
				ID:           "pi_123",
				Provider:     "stripe",
				Method:       payments.MethodCard,
				ClientSecret: "pi_123_secret",
				Amount:       9100,
				Currency:     "USD",
				Status:       "requires_confirmation",
			}, nil
		},
	}
	router := paymentRouter(storefront)

	body := `{"order_id":"ord_1","method":"card","metadata":{"channel":"web"}}`
	req := httptest.NewRequest(http.MethodPost, "/payments/intents", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Method != payments.MethodCard {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.Metadata["channel"] != "web" {
		t.Fatalf("expected metadata to pass through, got %#v", captured.Metadata)
	}

	var resp intentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Intent.ID != "pi_123" || resp.Intent.Provider != "stripe" {
		t.Fatalf("unexpected intent payload: %#v", resp.Intent)
	}
	if resp.Intent.ClientSecret != "pi_123_secret" || resp.Intent.Amount != 9100 {
		t.Fatalf("unexpected intent payload: %#v", resp.Intent)
	}
}

func TestPaymentHandlersCreateIntentWalletApproveURL(t *testing.T) {
	storefront := &stubStorefrontService{
		requestFn: func(ctx context.Context, cmd services.RequestPaymentCommand) (payments.Intent, error) {
			if cmd.Method != payments.MethodAlternativeWallet {
				t.Fatalf("expected alternative wallet method, got %v", cmd.Method)
			}
			return payments.Intent{
				ID:         "PAY-77",
				Provider:   "paypal",
				Method:     payments.MethodAlternativeWallet,
				ApproveURL: "https://wallet.example.com/approve/PAY-77",
				Amount:     9100,
				Currency:   "USD",
				Status:     "created",
			}, nil
		},
	}
	router := paymentRouter(storefront)

	body := `{"order_id":"ord_1","method":"paypal","return_url":"https://shop.example.com/done","cancel_url":"https://shop.example.com/cancel"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/intents", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp intentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Intent.ApproveURL != "https://wallet.example.com/approve/PAY-77" {
		t.Fatalf("expected approve url, got %#v", resp.Intent)
	}
}

func TestPaymentHandlersCreateIntentUnknownMethod(t *testing.T) {
	router := paymentRouter(&stubStorefrontService{})

	req := httptest.NewRequest(http.MethodPost, "/payments/intents", strings.NewReader(`{"order_id":"ord_1","method":"barter"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersCreateIntentOrderNotPayable(t *testing.T) {
	storefront := &stubStorefrontService{
		requestFn: func(ctx context.Context, cmd services.RequestPaymentCommand) (payments.Intent, error) {
			return payments.Intent{}, fmt.Errorf("%w: order ord_1 is shipped", services.ErrPaymentOrderNotPayable)
		},
	}
	router := paymentRouter(storefront)

	req := httptest.NewRequest(http.MethodPost, "/payments/intents", strings.NewReader(`{"order_id":"ord_1","method":"card"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestPaymentHandlersConfirmSuccess(t *testing.T) {
	confirmedAt := time.Date(2025, 7, 1, 10, 5, 0, 0, time.UTC)

	var captured services.ConfirmPaymentCommand
	storefront := &stubStorefrontService{
		confirmFn: func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentResult, error) {
			captured = cmd
			order := sampleOrder()
			order.PaymentMethod = "Card"
			return services.PaymentResult{
				Confirmation: payments.Confirmation{
					Succeeded:     true,
					TransactionID: "txn_42",
					Status:        "succeeded",
					Amount:        91.00,
					Currency:      "USD",
					Method:        payments.MethodCard,
					ConfirmedAt:   confirmedAt,
				},
				Order: order,
				Notification: &services.NotificationResult{
					Succeeded: true,
					SentAt:    confirmedAt,
				},
			}, nil
		},
	}
	router := paymentRouter(storefront)

	req := httptest.NewRequest(http.MethodPost, "/payments/pi_123:confirm", strings.NewReader(`{"order_id":"ord_1","method":"card"}`))
	req.Header.Set("Idempotency-Key", "idem-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.IntentID != "pi_123" || captured.OrderID != "ord_1" {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.IdempotencyKey != "idem-1" {
		t.Fatalf("expected idempotency key from header, got %q", captured.IdempotencyKey)
	}

	var resp confirmResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Confirmation.Succeeded || resp.Confirmation.TransactionID != "txn_42" {
		t.Fatalf("unexpected confirmation payload: %#v", resp.Confirmation)
	}
	if resp.Order.PaymentMethod != "Card" {
		t.Fatalf("expected payment method on order, got %#v", resp.Order)
	}
	if resp.Notification == nil || !resp.Notification.Succeeded {
		t.Fatalf("expected notification payload, got %#v", resp.Notification)
	}
}

func TestPaymentHandlersConfirmGatewayDecline(t *testing.T) {
	storefront := &stubStorefrontService{
		confirmFn: func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentResult, error) {
			return services.PaymentResult{
				Confirmation: payments.Confirmation{
					Succeeded: false,
					Status:    "declined",
					Message:   "card declined",
					Method:    payments.MethodCard,
				},
				Order: sampleOrder(),
			}, nil
		},
	}
	router := paymentRouter(storefront)

	req := httptest.NewRequest(http.MethodPost, "/payments/pi_123:confirm", strings.NewReader(`{"order_id":"ord_1","method":"card"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp confirmResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Confirmation.Succeeded || resp.Confirmation.Message != "card declined" {
		t.Fatalf("unexpected confirmation payload: %#v", resp.Confirmation)
	}
	if resp.Notification != nil {
		t.Fatalf("expected no notification on decline, got %#v", resp.Notification)
	}
}

func TestPaymentHandlersConfirmUnknownMethod(t *testing.T) {
	router := paymentRouter(&stubStorefrontService{})

	req := httptest.NewRequest(http.MethodPost, "/payments/pi_123:confirm", strings.NewReader(`{"order_id":"ord_1","method":"barter"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersConfirmRateLimited(t *testing.T) {
	storefront := &stubStorefrontService{
		confirmFn: func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.PaymentResult, error) {
			return services.PaymentResult{
				Confirmation: payments.Confirmation{Succeeded: true, Method: payments.MethodCard},
				Order:        sampleOrder(),
			}, nil
		},
	}
	handler := NewPaymentHandlers(storefront)
	handler.limiter = newSimpleRateLimiter(2, time.Minute)
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)

	var lastCode int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payments/pi_123:confirm", strings.NewReader(`{"order_id":"ord_1","method":"card"}`))
		req.RemoteAddr = "10.0.0.9:4411"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		lastCode = rr.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 on third attempt, got %d", lastCode)
	}
}
