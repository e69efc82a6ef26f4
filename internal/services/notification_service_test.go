package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/oakmart/api/internal/domain"
	"github.com/oakmart/api/internal/payments"
)

type stubMailTransport struct {
	sent []MailMessage
	err  error
}

func (s *stubMailTransport) Send(_ context.Context, msg MailMessage) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func testOrderForMail() Order {
	return Order{
		ID:          "ord_1",
		UserID:      "u_1",
		Email:       "jo@example.com",
		Status:      domain.OrderStatusPending,
		Currency:    "USD",
		TotalAmount: 9100,
		Items: []domain.OrderItem{
			{ProductID: "prod_mug", Name: "Stoneware Mug", Quantity: 2, UnitPriceAtPurchase: 1850, LineTotal: 3700},
			{ProductID: "prod_pot", Name: "Teapot", Quantity: 1, UnitPriceAtPurchase: 5400, LineTotal: 5400},
		},
		Shipping: domain.ShippingDetails{Country: "US", City: "Portland", Zip: "97201"},
	}
}

func newTestNotificationService(t *testing.T, deps NotificationServiceDeps) NotificationService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
		}
	}
	svc, err := NewNotificationService(deps)
	if err != nil {
		t.Fatalf("new notification service: %v", err)
	}
	return svc
}

func TestNotificationServiceOrderPlaced(t *testing.T) {
	transport := &stubMailTransport{}
	svc := newTestNotificationService(t, NotificationServiceDeps{
		Mail:        transport,
		FromAddress: "orders@oakmart.example",
		ReplyTo:     "support@oakmart.example",
		BCC:         []string{"audit@oakmart.example"},
	})

	result := svc.OrderPlaced(context.Background(), testOrderForMail())
	if !result.Succeeded {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(transport.sent))
	}

	msg := transport.sent[0]
	if msg.To[0] != "jo@example.com" {
		t.Fatalf("unexpected recipient %v", msg.To)
	}
	if msg.BCC[0] != "audit@oakmart.example" {
		t.Fatalf("unexpected bcc %v", msg.BCC)
	}
	if msg.Subject != "Order ord_1 received" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.TextBody, "Stoneware Mug") || !strings.Contains(msg.HTMLBody, "Stoneware Mug") {
		t.Fatalf("expected item name in both bodies")
	}
	if !strings.Contains(msg.TextBody, "ord_1") {
		t.Fatalf("expected order reference in text body")
	}
}

func TestNotificationServiceStripsMarkupFromShipping(t *testing.T) {
	transport := &stubMailTransport{}
	svc := newTestNotificationService(t, NotificationServiceDeps{Mail: transport})

	order := testOrderForMail()
	order.Shipping.City = "<script>alert(1)</script>Portland"

	if result := svc.OrderPlaced(context.Background(), order); !result.Succeeded {
		t.Fatalf("expected success, got %+v", result)
	}
	body := transport.sent[0].HTMLBody
	if strings.Contains(body, "<script>") || strings.Contains(body, "alert(1)") {
		t.Fatalf("expected script to be stripped, got %s", body)
	}
	if !strings.Contains(body, "Portland") {
		t.Fatalf("expected city to survive sanitization")
	}
}

func TestNotificationServiceOrderCanceledIncludesReason(t *testing.T) {
	transport := &stubMailTransport{}
	svc := newTestNotificationService(t, NotificationServiceDeps{Mail: transport})

	order := testOrderForMail()
	reason := "changed my mind"
	order.Status = domain.OrderStatusCanceled
	order.CancelReason = &reason

	if result := svc.OrderCanceled(context.Background(), order); !result.Succeeded {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(transport.sent[0].TextBody, "changed my mind") {
		t.Fatalf("expected cancel reason in body")
	}
}

func TestNotificationServicePaymentConfirmed(t *testing.T) {
	transport := &stubMailTransport{}
	svc := newTestNotificationService(t, NotificationServiceDeps{Mail: transport})

	confirmation := payments.Confirmation{
		Succeeded:     true,
		TransactionID: "txn_42",
		Status:        "succeeded",
		Amount:        91.00,
		Currency:      "usd",
		Method:        payments.MethodCard,
	}
	if result := svc.PaymentConfirmed(context.Background(), testOrderForMail(), confirmation); !result.Succeeded {
		t.Fatalf("expected success, got %+v", result)
	}
	msg := transport.sent[0]
	if msg.Subject != "Payment received for order ord_1" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.TextBody, "txn_42") {
		t.Fatalf("expected transaction id in body")
	}
}

func TestNotificationServiceCapturesTransportFailure(t *testing.T) {
	transport := &stubMailTransport{err: errors.New("smtp unreachable")}
	svc := newTestNotificationService(t, NotificationServiceDeps{Mail: transport})

	result := svc.OrderPlaced(context.Background(), testOrderForMail())
	if result.Succeeded {
		t.Fatalf("expected failure result")
	}
	if result.Message != "smtp unreachable" {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if result.SentAt.IsZero() {
		t.Fatalf("expected timestamp on failure result")
	}
}

func TestNotificationServiceDisabledSendsSkipTransport(t *testing.T) {
	transport := &stubMailTransport{}
	svc := newTestNotificationService(t, NotificationServiceDeps{Mail: transport, DisableSends: true})

	result := svc.OrderPlaced(context.Background(), testOrderForMail())
	if !result.Succeeded {
		t.Fatalf("expected success, got %+v", result)
	}
	if len(transport.sent) != 0 {
		t.Fatalf("expected no transport calls, got %d", len(transport.sent))
	}
}

func TestNotificationServiceRequiresCustomerEmail(t *testing.T) {
	transport := &stubMailTransport{}
	svc := newTestNotificationService(t, NotificationServiceDeps{Mail: transport})

	order := testOrderForMail()
	order.Email = ""

	result := svc.OrderPlaced(context.Background(), order)
	if result.Succeeded {
		t.Fatalf("expected failure without customer email")
	}
	if len(transport.sent) != 0 {
		t.Fatalf("expected no transport calls")
	}
}

func TestNewNotificationServiceRequiresTransport(t *testing.T) {
	if _, err := NewNotificationService(NotificationServiceDeps{}); err == nil {
		t.Fatalf("expected constructor error without transport")
	}
}
