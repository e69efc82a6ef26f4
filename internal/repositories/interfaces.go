package repositories

import (
	"context"
	"time"

	domain "github.com/oakmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Stock() StockRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockLine names a product and the quantity to reserve or release.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockAdjustRequest sets a product's on-hand quantity to an absolute value.
type StockAdjustRequest struct {
	ProductID string
	OnHand    int
	Now       time.Time
}

// StockMutationRequest reserves or releases quantity for a single product.
type StockMutationRequest struct {
	ProductID string
	Quantity  int
	Now       time.Time
}

// StockRepository manages per-product availability with transactional guarantees.
// Reserve is a single atomic read-modify-write: the decrement only commits when
// the floor check passes inside the transaction.
type StockRepository interface {
	Get(ctx context.Context, productID string) (domain.StockRecord, error)
	Reserve(ctx context.Context, req StockMutationRequest) (domain.StockRecord, error)
	Release(ctx context.Context, req StockMutationRequest) (domain.StockRecord, error)
	Adjust(ctx context.Context, req StockAdjustRequest) (domain.StockRecord, error)
}

// OrderCreateRequest persists a pending order and reserves stock for every line
// in one transactional unit.
type OrderCreateRequest struct {
	Order domain.Order
	Lines []StockLine
	Now   time.Time
}

// OrderCancelRequest releases the order's reserved stock and marks it canceled
// in one transactional unit. The repository re-verifies the pending status
// inside the transaction.
type OrderCancelRequest struct {
	OrderID string
	Reason  string
	Now     time.Time
}

// OrderListFilter narrows order list queries.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Sort       domain.SortOrder
	Pagination domain.Pagination
}

// RevenueQuery selects the orders whose totals are aggregated into revenue.
type RevenueQuery struct {
	Statuses  []domain.OrderStatus
	DateRange domain.RangeQuery[time.Time]
}

// OrderRepository persists order aggregates. Creation and cancellation carry
// their stock side effects so that order state and inventory never diverge.
type OrderRepository interface {
	CreateWithReservation(ctx context.Context, req OrderCreateRequest) (domain.Order, error)
	CancelWithRelease(ctx context.Context, req OrderCancelRequest) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	Revenue(ctx context.Context, query RevenueQuery) (domain.RevenueReport, error)
}

// HealthRepository probes downstream dependencies for the readiness endpoint.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
