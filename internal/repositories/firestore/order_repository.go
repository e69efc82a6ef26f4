package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/oakmart/api/internal/domain"
	pfirestore "github.com/oakmart/api/internal/platform/firestore"
	"github.com/oakmart/api/internal/repositories"
)

const ordersCollection = "orders"

type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	stocks   *pfirestore.BaseRepository[stockDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, stocksCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders, stocks: stocks}, nil
}

// CreateWithReservation persists the pending order and decrements stock for
// every line inside one transaction. All stock documents are read and checked
// before any write happens, so either every line is reserved or none is.
func (r *OrderRepository) CreateWithReservation(ctx context.Context, req repositories.OrderCreateRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(req.Order.ID) == "" {
		return domain.Order{}, errors.New("order create: order id is required")
	}
	if len(req.Lines) == 0 {
		return domain.Order{}, errors.New("order create: at least one line is required")
	}

	now := req.Now.UTC()
	order := req.Order
	order.Status = domain.OrderStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now

	var created domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}

		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc stockDocument
		}
		writes := make([]pendingWrite, 0, len(req.Lines))

		for _, line := range req.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewStockError(repositories.StockErrorNotFound, "order create: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("quantity for %s must be > 0", productID), nil)
			}

			stockRef, err := r.stocks.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", productID), err)
				}
				return err
			}
			var doc stockDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", productID, err)
			}
			if doc.OnHand < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}
			doc.ProductID = productID
			doc.OnHand -= line.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pendingWrite{ref: stockRef, doc: doc})
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}

		orderDoc := newOrderDocument(order)
		if err := tx.Create(orderRef, orderDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorConflict, fmt.Sprintf("order %s already exists", order.ID), err)
			}
			return err
		}

		created = orderDoc.toDomain(order.ID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("order.create", err)
	}
	return created, nil
}

// CancelWithRelease re-verifies the pending status inside the transaction,
// returns every reserved unit to stock and marks the order canceled.
func (r *OrderRepository) CancelWithRelease(ctx context.Context, req repositories.OrderCancelRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order cancel: order id is required")
	}

	now := req.Now.UTC()
	var canceled domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		orderSnap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var orderDoc orderDocument
		if err := orderSnap.DataTo(&orderDoc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if domain.OrderStatus(orderDoc.Status) != domain.OrderStatusPending {
			return repositories.NewOrderError(repositories.OrderErrorInvalidState, fmt.Sprintf("order %s is %s, only pending orders can be canceled", orderID, orderDoc.Status), nil)
		}

		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc stockDocument
		}
		writes := make([]pendingWrite, 0, len(orderDoc.Items))

		for _, item := range orderDoc.Items {
			productID := strings.TrimSpace(item.ProductID)
			if productID == "" || item.Quantity <= 0 {
				continue
			}
			stockRef, err := r.stocks.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			var doc stockDocument
			snap, err := tx.Get(stockRef)
			if err != nil {
				if status.Code(err) != codes.NotFound {
					return err
				}
				doc = stockDocument{}
			} else if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode stock %s: %w", productID, err)
			}
			doc.ProductID = productID
			doc.OnHand += item.Quantity
			doc.UpdatedAt = now
			writes = append(writes, pendingWrite{ref: stockRef, doc: doc})
		}

		for _, w := range writes {
			if err := tx.Set(w.ref, w.doc); err != nil {
				return err
			}
		}

		orderDoc.Status = string(domain.OrderStatusCanceled)
		orderDoc.UpdatedAt = now
		orderDoc.CanceledAt = &now
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			orderDoc.CancelReason = &reason
		}
		if err := tx.Set(orderRef, orderDoc); err != nil {
			return err
		}

		canceled = orderDoc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("order.cancel", err)
	}
	return canceled, nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order update: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(orderRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		return tx.Set(orderRef, newOrderDocument(order))
	})
	if err != nil {
		return wrapOrderError("order.update", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, "order get: id is required", nil)
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrderError("order.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}

	direction := firestore.Desc
	if filter.Sort == domain.SortAsc {
		direction = firestore.Asc
	}
	query = query.OrderBy("createdAt", direction).OrderBy(firestore.DocumentID, direction).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("order.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

// Revenue sums totals over the orders whose status is in the configured
// revenue set, windowed by creation time.
func (r *OrderRepository) Revenue(ctx context.Context, query repositories.RevenueQuery) (domain.RevenueReport, error) {
	if r == nil || r.provider == nil {
		return domain.RevenueReport{}, errors.New("order repository not initialised")
	}
	if len(query.Statuses) == 0 {
		return domain.RevenueReport{}, errors.New("order revenue: at least one status is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.RevenueReport{}, wrapOrderError("order.revenue", err)
	}

	statuses := make([]string, len(query.Statuses))
	for i, s := range query.Statuses {
		statuses[i] = string(s)
	}

	firestoreQuery := client.Collection(ordersCollection).Query.Where("status", "in", statuses)
	if query.DateRange.From != nil {
		firestoreQuery = firestoreQuery.Where("createdAt", ">=", query.DateRange.From.UTC())
	}
	if query.DateRange.To != nil {
		firestoreQuery = firestoreQuery.Where("createdAt", "<=", query.DateRange.To.UTC())
	}

	iter := firestoreQuery.Documents(ctx)
	defer iter.Stop()

	report := domain.RevenueReport{
		From: query.DateRange.From,
		To:   query.DateRange.To,
	}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.RevenueReport{}, wrapOrderError("order.revenue", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.RevenueReport{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		report.OrderCount++
		report.Total += doc.TotalAmount
		if report.Currency == "" {
			report.Currency = doc.Currency
		}
	}
	return report, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	UserID        string              `firestore:"userId"`
	Email         string              `firestore:"email"`
	Status        string              `firestore:"status"`
	Currency      string              `firestore:"currency"`
	TotalAmount   int64               `firestore:"totalAmount"`
	PaymentMethod string              `firestore:"paymentMethod,omitempty"`
	Items         []orderItemDocument `firestore:"items"`
	Shipping      shippingDocument    `firestore:"shipping"`
	CancelReason  *string             `firestore:"cancelReason,omitempty"`
	CreatedAt     time.Time           `firestore:"createdAt"`
	UpdatedAt     time.Time           `firestore:"updatedAt"`
	ShippedAt     *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt   *time.Time          `firestore:"deliveredAt,omitempty"`
	RefundedAt    *time.Time          `firestore:"refundedAt,omitempty"`
	CanceledAt    *time.Time          `firestore:"canceledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
	LineTotal int64  `firestore:"lineTotal"`
}

type shippingDocument struct {
	Country string `firestore:"country,omitempty"`
	City    string `firestore:"city,omitempty"`
	Zip     string `firestore:"zip,omitempty"`
	Phone   string `firestore:"phone,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceAtPurchase,
			LineTotal: item.LineTotal,
		}
	}
	return orderDocument{
		UserID:        strings.TrimSpace(order.UserID),
		Email:         strings.TrimSpace(order.Email),
		Status:        string(order.Status),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalAmount:   order.TotalAmount,
		PaymentMethod: strings.TrimSpace(order.PaymentMethod),
		Items:         items,
		Shipping: shippingDocument{
			Country: strings.TrimSpace(order.Shipping.Country),
			City:    strings.TrimSpace(order.Shipping.City),
			Zip:     strings.TrimSpace(order.Shipping.Zip),
			Phone:   strings.TrimSpace(order.Shipping.Phone),
		},
		CancelReason: order.CancelReason,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
		ShippedAt:    order.ShippedAt,
		DeliveredAt:  order.DeliveredAt,
		RefundedAt:   order.RefundedAt,
		CanceledAt:   order.CanceledAt,
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:           item.ProductID,
			Name:                item.Name,
			Quantity:            item.Quantity,
			UnitPriceAtPurchase: item.UnitPrice,
			LineTotal:           item.LineTotal,
		}
	}
	return domain.Order{
		ID:            id,
		UserID:        d.UserID,
		Email:         d.Email,
		Status:        domain.OrderStatus(d.Status),
		Currency:      d.Currency,
		TotalAmount:   d.TotalAmount,
		PaymentMethod: d.PaymentMethod,
		Items:         items,
		Shipping: domain.ShippingDetails{
			Country: d.Shipping.Country,
			City:    d.Shipping.City,
			Zip:     d.Shipping.Zip,
			Phone:   d.Shipping.Phone,
		},
		CancelReason: d.CancelReason,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		ShippedAt:    d.ShippedAt,
		DeliveredAt:  d.DeliveredAt,
		RefundedAt:   d.RefundedAt,
		CanceledAt:   d.CanceledAt,
	}
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}
