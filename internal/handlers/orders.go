package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakmart/api/internal/domain"
	"github.com/oakmart/api/internal/platform/httpx"
	"github.com/oakmart/api/internal/platform/pagination"
	"github.com/oakmart/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
)

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	storefront services.StorefrontService
	orders     services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(storefront services.StorefrontService, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		storefront: storefront,
		orders:     orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/revenue", h.revenue)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:status", h.updateStatus)
}

type createOrderRequest struct {
	UserID   string                   `json:"user_id"`
	Email    string                   `json:"email"`
	Currency string                   `json:"currency"`
	Items    []createOrderItemRequest `json:"items"`
	Shipping shippingPayload          `json:"shipping"`
}

type createOrderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.storefront == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	items := make([]services.OrderLineInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderLineInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.storefront.PlaceOrder(ctx, services.PlaceOrderCommand{
		Order: services.CreateOrderCommand{
			UserID:   req.UserID,
			Email:    req.Email,
			Currency: req.Currency,
			Items:    items,
			Shipping: domain.ShippingDetails{
				Country: req.Shipping.Country,
				City:    req.Shipping.City,
				Zip:     req.Shipping.Zip,
				Phone:   req.Shipping.Phone,
			},
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize:    defaultOrderPageSize,
		MaxPageSize:        maxOrderPageSize,
		AllowedOrderFields: []string{"createdAt"},
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	query := r.URL.Query()

	statuses := make([]domain.OrderStatus, 0)
	for _, value := range parseFilterValues(query["status"]) {
		statuses = append(statuses, domain.OrderStatus(value))
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	sort := domain.SortDesc
	for _, order := range params.Orders {
		if order.Field == "createdAt" && !order.Desc {
			sort = domain.SortAsc
		}
	}

	filter := services.OrderListFilter{
		UserID:    strings.TrimSpace(query.Get("user_id")),
		Status:    statuses,
		DateRange: dateRange,
		Sort:      sort,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}

	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(body, &req); jsonErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// Cancellation without a reason is allowed.
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateStatusRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.OrderStatusCommand{
		OrderID:      orderID,
		TargetStatus: status,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) revenue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	query := r.URL.Query()
	revenueQuery := services.RevenueQuery{}

	for _, param := range []struct {
		name   string
		target **time.Time
	}{
		{"at", &revenueQuery.At},
		{"from", &revenueQuery.From},
		{"to", &revenueQuery.To},
	} {
		raw := strings.TrimSpace(query.Get(param.name))
		if raw == "" {
			continue
		}
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", param.name+" must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		*param.target = &ts
	}

	report, err := h.orders.Revenue(ctx, revenueQuery)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, revenueResponse{
		Currency:   report.Currency,
		OrderCount: report.OrderCount,
		Total:      report.Total,
		From:       formatTimePtr(report.From),
		To:         formatTimePtr(report.To),
	})
}

// Response payloads ----------------------------------------------------------

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	Email         string             `json:"email,omitempty"`
	Status        string             `json:"status"`
	Currency      string             `json:"currency"`
	TotalAmount   int64              `json:"total_amount"`
	PaymentMethod string             `json:"payment_method,omitempty"`
	Items         []orderItemPayload `json:"items"`
	Shipping      *shippingPayload   `json:"shipping,omitempty"`
	CancelReason  *string            `json:"cancel_reason,omitempty"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at,omitempty"`
	ShippedAt     string             `json:"shipped_at,omitempty"`
	DeliveredAt   string             `json:"delivered_at,omitempty"`
	RefundedAt    string             `json:"refunded_at,omitempty"`
	CanceledAt    string             `json:"canceled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

type shippingPayload struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Zip     string `json:"zip,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

type revenueResponse struct {
	Currency   string `json:"currency,omitempty"`
	OrderCount int    `json:"order_count"`
	Total      int64  `json:"total"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            strings.TrimSpace(order.ID),
		UserID:        strings.TrimSpace(order.UserID),
		Email:         strings.TrimSpace(order.Email),
		Status:        string(order.Status),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		TotalAmount:   order.TotalAmount,
		PaymentMethod: strings.TrimSpace(order.PaymentMethod),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		CancelReason:  order.CancelReason,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		ShippedAt:     formatTimePtr(order.ShippedAt),
		DeliveredAt:   formatTimePtr(order.DeliveredAt),
		RefundedAt:    formatTimePtr(order.RefundedAt),
		CanceledAt:    formatTimePtr(order.CanceledAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceAtPurchase,
			LineTotal: item.LineTotal,
		})
	}

	if order.Shipping != (domain.ShippingDetails{}) {
		payload.Shipping = &shippingPayload{
			Country: order.Shipping.Country,
			City:    order.Shipping.City,
			Zip:     order.Shipping.Zip,
			Phone:   order.Shipping.Phone,
		}
	}

	return payload
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "service unavailable", http.StatusServiceUnavailable))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderUserUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("user_unknown", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotCancelable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancelable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentOrderNotPayable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("stock_insufficient", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
