package domain

import (
	"time"
)

// Pagination carries cursor-based pagination parameters for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is created and stock is reserved, awaiting confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the order has been accepted for fulfillment.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order has reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusReturned indicates the customer has sent the order back.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusRefunded indicates the returned order has been refunded. Terminal.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCanceled indicates the order was canceled while pending and its stock released. Terminal.
	OrderStatusCanceled OrderStatus = "canceled"
)

// orderStatusTransitions is the closed transition table for order statuses.
// Canceled is reachable only through the cancellation path, which releases
// stock; it is intentionally absent from every row so a plain status update
// can never produce it.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed},
	OrderStatusConfirmed:  {OrderStatusProcessing},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:  {OrderStatusReturned},
	OrderStatusReturned:   {OrderStatusRefunded},
	OrderStatusRefunded:   nil,
	OrderStatusCanceled:   nil,
}

// ValidOrderStatus reports whether the value is a known order status.
func ValidOrderStatus(status OrderStatus) bool {
	_, ok := orderStatusTransitions[status]
	return ok
}

// CanTransition reports whether the status machine permits moving from current
// to target via a plain status update.
func CanTransition(current, target OrderStatus) bool {
	for _, next := range orderStatusTransitions[current] {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is permitted from the status.
func (s OrderStatus) Terminal() bool {
	next, ok := orderStatusTransitions[s]
	return ok && len(next) == 0
}

// Order is the aggregate owned by the order lifecycle manager. Monetary fields
// are minor units (e.g. cents) in the order currency.
type Order struct {
	ID            string
	UserID        string
	Email         string
	Status        OrderStatus
	Currency      string
	TotalAmount   int64
	PaymentMethod string
	Items         []OrderItem
	Shipping      ShippingDetails
	CancelReason  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
	RefundedAt    *time.Time
	CanceledAt    *time.Time
}

// OrderItem snapshots a purchased product. UnitPriceAtPurchase is fixed at
// order creation and never recomputed from the catalog.
type OrderItem struct {
	ProductID           string
	Name                string
	Quantity            int
	UnitPriceAtPurchase int64
	LineTotal           int64
}

// ShippingDetails carries the optional shipping fields captured at creation.
type ShippingDetails struct {
	Country string
	City    string
	Zip     string
	Phone   string
}

// ItemsTotal sums quantity times the purchase-time unit price across items.
func ItemsTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.UnitPriceAtPurchase * int64(item.Quantity)
	}
	return total
}

// ProductInfo is the catalog snapshot the core consumes. The catalog itself is
// owned elsewhere; only pricing and availability cross this boundary.
type ProductInfo struct {
	ID        string
	Name      string
	UnitPrice int64
	Currency  string
	Stock     int
}

// StockRecord is the ledger's view of a single product's availability.
type StockRecord struct {
	ProductID string
	OnHand    int
	UpdatedAt time.Time
}

// RevenueReport aggregates order totals for a status set over a window.
type RevenueReport struct {
	Currency   string
	OrderCount int
	Total      int64
	From       *time.Time
	To         *time.Time
}
