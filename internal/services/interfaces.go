package services

import (
	"context"
	"time"

	domain "github.com/oakmart/api/internal/domain"
	"github.com/oakmart/api/internal/payments"
	"github.com/oakmart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	SortOrder       = domain.SortOrder
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderStatus     = domain.OrderStatus
	ShippingDetails = domain.ShippingDetails
	StockRecord     = domain.StockRecord
	ProductInfo     = domain.ProductInfo
	RevenueReport   = domain.RevenueReport
)

// StockService exposes the inventory ledger for reads and administrative writes.
// Order-driven reservation and release happen transactionally inside the order
// repository; this surface covers everything else.
type StockService interface {
	GetStock(ctx context.Context, productID string) (StockRecord, error)
	AdjustStock(ctx context.Context, cmd StockAdjustCommand) (StockRecord, error)
	ReserveStock(ctx context.Context, cmd StockMutationCommand) (StockRecord, error)
	ReleaseStock(ctx context.Context, cmd StockMutationCommand) (StockRecord, error)
}

// OrderService owns the order lifecycle: creation with stock reservation,
// cancellation with stock release, guarded status transitions, and queries.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error)
	SetPaymentMethod(ctx context.Context, cmd SetPaymentMethodCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Revenue(ctx context.Context, query RevenueQuery) (RevenueReport, error)
}

// NotificationService renders and dispatches customer email. Every method
// returns a result instead of an error; delivery problems never propagate into
// the flow that triggered the notification.
type NotificationService interface {
	OrderPlaced(ctx context.Context, order Order) NotificationResult
	OrderCanceled(ctx context.Context, order Order) NotificationResult
	PaymentConfirmed(ctx context.Context, order Order, confirmation payments.Confirmation) NotificationResult
}

// StorefrontService is the facade the HTTP boundary talks to. It composes the
// order lifecycle, the payment orchestrator, and the notification dispatcher.
type StorefrontService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	RequestPayment(ctx context.Context, cmd RequestPaymentCommand) (payments.Intent, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentResult, error)
}

// CatalogGateway is the read-only view of the product catalog the core
// consumes. Catalog management lives outside this service.
type CatalogGateway interface {
	GetProduct(ctx context.Context, productID string) (ProductInfo, error)
}

// UserDirectory answers existence checks for customer accounts.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// MailTransport delivers a rendered message. Implementations wrap SMTP, an API
// relay, or a log sink for local development.
type MailTransport interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MailMessage carries a fully rendered email ready for transport.
type MailMessage struct {
	To       []string
	BCC      []string
	ReplyTo  string
	Subject  string
	HTMLBody string
	TextBody string
}

// OrderEventPublisher pushes order lifecycle events onto the side channel.
// Publishing is fire-and-forget from the caller's perspective.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEventMessage) (string, error)
}

// OrderEventMessage is the wire payload for published order events.
type OrderEventMessage struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NotificationResult reports the outcome of a single dispatch attempt.
type NotificationResult struct {
	Succeeded bool
	Message   string
	SentAt    time.Time
}

// Command and DTO definitions ------------------------------------------------

type StockAdjustCommand struct {
	ProductID string
	OnHand    int
}

type StockMutationCommand struct {
	ProductID string
	Quantity  int
}

// OrderLineInput names a product and quantity at order creation. Pricing comes
// from the catalog at creation time, never from the caller.
type OrderLineInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderCommand struct {
	// UserID is optional. Guest orders are identified by Email alone.
	UserID   string
	Email    string
	Currency string
	Items    []OrderLineInput
	Shipping ShippingDetails
}

type CancelOrderCommand struct {
	OrderID string
	Reason  string
}

type OrderStatusCommand struct {
	OrderID      string
	TargetStatus OrderStatus
}

type SetPaymentMethodCommand struct {
	OrderID string
	Label   string
}

type OrderListFilter = repositories.OrderListFilter

// RevenueQuery selects the aggregation window. At is a point-in-time upper
// bound; From/To bound a date range. The statuses that count as revenue come
// from service configuration, not from the caller.
type RevenueQuery struct {
	At   *time.Time
	From *time.Time
	To   *time.Time
}

type PlaceOrderCommand struct {
	Order CreateOrderCommand
}

type RequestPaymentCommand struct {
	OrderID   string
	Method    payments.Method
	ReturnURL string
	CancelURL string
	Metadata  map[string]string
}

type ConfirmPaymentCommand struct {
	OrderID        string
	IntentID       string
	Method         payments.Method
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentResult bundles the gateway outcome with the refreshed order and, when
// the payment succeeded, the notification attempt that followed.
type PaymentResult struct {
	Confirmation payments.Confirmation
	Order        Order
	Notification *NotificationResult
}
