package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/oakmart/api/internal/domain"
	"github.com/oakmart/api/internal/payments"
	"github.com/oakmart/api/internal/platform/textutil"
)

// ErrPaymentOrderNotPayable indicates the order has left the state where a
// payment can be opened against it.
var ErrPaymentOrderNotPayable = errors.New("storefront: order is not payable")

var paymentMethodLabels = map[payments.Method]string{
	payments.MethodCard:              "Card",
	payments.MethodDeferredBilling:   "Deferred billing",
	payments.MethodProximityWallet:   "Proximity wallet",
	payments.MethodAlternativeWallet: "Alternative wallet",
}

// PaymentOrchestrator is the slice of the payment package the facade consumes.
type PaymentOrchestrator interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	Confirm(ctx context.Context, req payments.ConfirmRequest) payments.Confirmation
}

// StorefrontServiceDeps bundles collaborators for the storefront facade.
type StorefrontServiceDeps struct {
	Orders        OrderService
	Payments      PaymentOrchestrator
	Notifications NotificationService
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type storefrontService struct {
	orders        OrderService
	payments      PaymentOrchestrator
	notifications NotificationService
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewStorefrontService wires the order lifecycle and the payment orchestrator
// behind the single surface the HTTP boundary talks to.
func NewStorefrontService(deps StorefrontServiceDeps) (StorefrontService, error) {
	if deps.Orders == nil {
		return nil, errors.New("storefront service: order service is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("storefront service: payment orchestrator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &storefrontService{
		orders:        deps.Orders,
		payments:      deps.Payments,
		notifications: deps.Notifications,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *storefrontService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	return s.orders.CreateOrder(ctx, cmd.Order)
}

func (s *storefrontService) RequestPayment(ctx context.Context, cmd RequestPaymentCommand) (payments.Intent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return payments.Intent{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return payments.Intent{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return payments.Intent{}, fmt.Errorf("%w: order %s is %s", ErrPaymentOrderNotPayable, order.ID, order.Status)
	}

	metadata := textutil.NormalizeStringMap(cmd.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["user_id"] = order.UserID

	// Amount and currency always come from the stored order, never the caller.
	intent, err := s.payments.CreateIntent(ctx, payments.IntentRequest{
		OrderID:        order.ID,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		Method:         cmd.Method,
		ReturnURL:      strings.TrimSpace(cmd.ReturnURL),
		CancelURL:      strings.TrimSpace(cmd.CancelURL),
		IdempotencyKey: order.ID,
		Metadata:       metadata,
	})
	if err != nil {
		return payments.Intent{}, err
	}

	s.logger(ctx, "payment.intent.created", map[string]any{
		"order_id":  order.ID,
		"intent_id": intent.ID,
		"method":    intent.Method.String(),
	})
	return intent, nil
}

func (s *storefrontService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.IntentID) == "" {
		return PaymentResult{}, fmt.Errorf("%w: intent id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return PaymentResult{}, err
	}

	confirmation := s.payments.Confirm(ctx, payments.ConfirmRequest{
		IntentID:       strings.TrimSpace(cmd.IntentID),
		Method:         cmd.Method,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Metadata:       textutil.NormalizeStringMap(cmd.Metadata),
	})

	result := PaymentResult{Confirmation: confirmation, Order: order}
	if !confirmation.Succeeded {
		s.logger(ctx, "payment.confirm.failed", map[string]any{
			"order_id":  order.ID,
			"intent_id": cmd.IntentID,
			"status":    confirmation.Status,
			"message":   confirmation.Message,
		})
		return result, nil
	}

	// Confirmation records the method label but never advances the order
	// status; operators move the order to confirmed explicitly.
	updated, err := s.orders.SetPaymentMethod(ctx, SetPaymentMethodCommand{
		OrderID: order.ID,
		Label:   paymentMethodLabel(confirmation.Method),
	})
	if err != nil {
		s.logger(ctx, "payment.method.record_failed", map[string]any{
			"order_id": order.ID,
			"error":    err.Error(),
		})
	} else {
		result.Order = updated
	}

	if s.notifications != nil {
		notification := s.notifications.PaymentConfirmed(ctx, result.Order, confirmation)
		result.Notification = &notification
	}

	return result, nil
}

func paymentMethodLabel(method payments.Method) string {
	if label, ok := paymentMethodLabels[method]; ok {
		return label
	}
	return method.String()
}
