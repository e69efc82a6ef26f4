package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/oakmart/api/internal/domain"
	"github.com/oakmart/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventCanceled      = "order.canceled"

	orderIDPrefix = "ord_"
	eventIDPrefix = "evt_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a duplicate order identifier or write collision.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidTransition indicates the status machine rejects the requested move.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderNotCancelable indicates the order has left the pending state.
	ErrOrderNotCancelable = errors.New("order: not cancelable")
	// ErrOrderUserUnknown indicates the user directory does not know the customer.
	ErrOrderUserUnknown = errors.New("order: unknown user")
)

// defaultRevenueStatuses counts an order as revenue once it is accepted and
// until money leaves again. Refunded, returned, canceled and not-yet-confirmed
// orders stay out.
var defaultRevenueStatuses = []domain.OrderStatus{
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Catalog         CatalogGateway
	Users           UserDirectory
	Notifications   NotificationService
	Events          OrderEventPublisher
	RevenueStatuses []domain.OrderStatus
	DefaultCurrency string
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	catalog         CatalogGateway
	users           UserDirectory
	notifications   NotificationService
	events          OrderEventPublisher
	revenueStatuses []domain.OrderStatus
	defaultCurrency string
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog gateway is required")
	}

	revenueStatuses := deps.RevenueStatuses
	if len(revenueStatuses) == 0 {
		revenueStatuses = defaultRevenueStatuses
	}
	for _, status := range revenueStatuses {
		if !domain.ValidOrderStatus(status) {
			return nil, fmt.Errorf("order service: unknown revenue status %q", status)
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:          deps.Orders,
		catalog:         deps.Catalog,
		users:           deps.Users,
		notifications:   deps.Notifications,
		events:          deps.Events,
		revenueStatuses: revenueStatuses,
		defaultCurrency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	email := strings.TrimSpace(cmd.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Order{}, fmt.Errorf("%w: a valid email address is required", ErrOrderInvalidInput)
	}

	lines, err := normalizeOrderLines(cmd.Items)
	if err != nil {
		return Order{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	// Guest checkouts carry no user id and are identified by email alone. The
	// directory is consulted only when a user reference is supplied.
	if userID != "" && s.users != nil {
		exists, err := s.users.Exists(ctx, userID)
		if err != nil {
			return Order{}, fmt.Errorf("order service: user lookup: %w", err)
		}
		if !exists {
			return Order{}, fmt.Errorf("%w: %s", ErrOrderUserUnknown, userID)
		}
	}

	// All lines are priced and checked against the catalog before anything is
	// written. The repository re-checks availability inside its transaction, so
	// this pass only rejects orders that cannot possibly succeed.
	items := make([]domain.OrderItem, 0, len(lines))
	stockLines := make([]repositories.StockLine, 0, len(lines))
	for _, line := range lines {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return Order{}, fmt.Errorf("%w: product %s: %v", ErrOrderInvalidInput, line.ProductID, err)
		}
		if product.Currency != "" && !strings.EqualFold(product.Currency, currency) {
			return Order{}, fmt.Errorf("%w: product %s is priced in %s, order currency is %s", ErrOrderInvalidInput, line.ProductID, product.Currency, currency)
		}
		if product.Stock < line.Quantity {
			return Order{}, fmt.Errorf("%w: product %s has %d on hand, %d requested", ErrStockInsufficient, line.ProductID, product.Stock, line.Quantity)
		}
		items = append(items, domain.OrderItem{
			ProductID:           product.ID,
			Name:                product.Name,
			Quantity:            line.Quantity,
			UnitPriceAtPurchase: product.UnitPrice,
			LineTotal:           product.UnitPrice * int64(line.Quantity),
		})
		stockLines = append(stockLines, repositories.StockLine{
			ProductID: product.ID,
			Quantity:  line.Quantity,
		})
	}

	now := s.clock()
	order := domain.Order{
		ID:          orderIDPrefix + s.newID(),
		UserID:      userID,
		Email:       email,
		Status:      domain.OrderStatusPending,
		Currency:    currency,
		TotalAmount: domain.ItemsTotal(items),
		Items:       items,
		Shipping:    cmd.Shipping,
	}

	created, err := s.orders.CreateWithReservation(ctx, repositories.OrderCreateRequest{
		Order: order,
		Lines: stockLines,
		Now:   now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, created, orderEventCreated, now)
	s.notify(ctx, created, func(n NotificationService) NotificationResult {
		return n.OrderPlaced(ctx, created)
	})

	return created, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	canceled, err := s.orders.CancelWithRelease(ctx, repositories.OrderCancelRequest{
		OrderID: orderID,
		Reason:  strings.TrimSpace(cmd.Reason),
		Now:     now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, canceled, orderEventCanceled, now)
	s.notify(ctx, canceled, func(n NotificationService) NotificationResult {
		return n.OrderCanceled(ctx, canceled)
	})

	return canceled, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if !domain.ValidOrderStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}
	if target == domain.OrderStatusCanceled {
		// Cancellation releases stock; the status table never reaches it, only
		// CancelOrder does.
		return Order{}, fmt.Errorf("%w: cancellation must go through the cancel operation", ErrOrderInvalidTransition)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !domain.CanTransition(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidTransition, order.Status, target)
	}

	now := s.clock()
	previous := order.Status
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.status.changed", map[string]any{
		"order_id": order.ID,
		"from":     string(previous),
		"to":       string(target),
	})
	s.publishEvent(ctx, order, orderEventStatusChanged, now)

	return order, nil
}

func (s *orderService) SetPaymentMethod(ctx context.Context, cmd SetPaymentMethodCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	label := strings.TrimSpace(cmd.Label)
	if label == "" {
		return Order{}, fmt.Errorf("%w: payment method label is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	order.PaymentMethod = label
	order.UpdatedAt = s.clock()

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Status {
		if !domain.ValidOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Revenue(ctx context.Context, query RevenueQuery) (RevenueReport, error) {
	if query.At != nil && (query.From != nil || query.To != nil) {
		return RevenueReport{}, fmt.Errorf("%w: at and from/to are mutually exclusive", ErrOrderInvalidInput)
	}
	if query.From != nil && query.To != nil && query.To.Before(*query.From) {
		return RevenueReport{}, fmt.Errorf("%w: to precedes from", ErrOrderInvalidInput)
	}

	repoQuery := repositories.RevenueQuery{
		Statuses: s.revenueStatuses,
		DateRange: domain.RangeQuery[time.Time]{
			From: query.From,
			To:   query.To,
		},
	}
	if query.At != nil {
		repoQuery.DateRange.To = query.At
	}

	report, err := s.orders.Revenue(ctx, repoQuery)
	if err != nil {
		return RevenueReport{}, s.mapRepositoryError(err)
	}
	return report, nil
}

func (s *orderService) publishEvent(ctx context.Context, order Order, eventType string, occurredAt time.Time) {
	if s.events == nil {
		return
	}
	_, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		EventID:    eventIDPrefix + s.newID(),
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		OccurredAt: occurredAt,
	})
	if err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"order_id":   order.ID,
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
}

func (s *orderService) notify(ctx context.Context, order Order, dispatch func(NotificationService) NotificationResult) {
	if s.notifications == nil {
		return
	}
	result := dispatch(s.notifications)
	if !result.Succeeded {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"order_id": order.ID,
			"message":  result.Message,
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderErr.Message)
		case repositories.OrderErrorConflict:
			return fmt.Errorf("%w: %s", ErrOrderConflict, orderErr.Message)
		case repositories.OrderErrorInvalidState:
			return fmt.Errorf("%w: %s", ErrOrderNotCancelable, orderErr.Message)
		}
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, stockErr.Message)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrStockInsufficient, stockErr.Message)
		case repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrOrderInvalidInput, stockErr.Message)
		}
	}

	return err
}

// normalizeOrderLines trims, validates, and merges duplicate product lines.
func normalizeOrderLines(items []OrderLineInput) ([]OrderLineInput, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	index := make(map[string]int, len(items))
	lines := make([]OrderLineInput, 0, len(items))
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
		}
		if at, ok := index[productID]; ok {
			lines[at].Quantity += item.Quantity
			continue
		}
		index[productID] = len(lines)
		lines = append(lines, OrderLineInput{ProductID: productID, Quantity: item.Quantity})
	}
	return lines, nil
}
