package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/api/internal/platform/httpx"
	"github.com/oakmart/api/internal/services"
)

// StockHandlers exposes the inventory ledger endpoints.
type StockHandlers struct {
	stock services.StockService
}

// NewStockHandlers constructs a new StockHandlers instance.
func NewStockHandlers(stock services.StockService) *StockHandlers {
	return &StockHandlers{stock: stock}
}

// Routes registers the /stock endpoints.
func (h *StockHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{productID}", h.getStock)
	r.Put("/{productID}", h.adjustStock)
	r.Post("/{productID}:reserve", h.reserveStock)
	r.Post("/{productID}:release", h.releaseStock)
}

type adjustStockRequest struct {
	OnHand int `json:"on_hand"`
}

type stockMutationRequest struct {
	Quantity int `json:"quantity"`
}

type stockResponse struct {
	Stock stockPayload `json:"stock"`
}

type stockPayload struct {
	ProductID string `json:"product_id"`
	OnHand    int    `json:"on_hand"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func (h *StockHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	record, err := h.stock.GetStock(ctx, strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(record)})
}

func (h *StockHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stock == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req adjustStockRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	record, err := h.stock.AdjustStock(ctx, services.StockAdjustCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		OnHand:    req.OnHand,
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(record)})
}

func (h *StockHandlers) reserveStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, func(ctx context.Context, cmd services.StockMutationCommand) (services.StockRecord, error) {
		return h.stock.ReserveStock(ctx, cmd)
	})
}

func (h *StockHandlers) releaseStock(w http.ResponseWriter, r *http.Request) {
	h.mutateStock(w, r, func(ctx context.Context, cmd services.StockMutationCommand) (services.StockRecord, error) {
		return h.stock.ReleaseStock(ctx, cmd)
	})
}

func (h *StockHandlers) mutateStock(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, cmd services.StockMutationCommand) (services.StockRecord, error)) {
	ctx := r.Context()
	if h.stock == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	var req stockMutationRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	record, err := op(ctx, services.StockMutationCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeStockError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(record)})
}

func buildStockPayload(record services.StockRecord) stockPayload {
	payload := stockPayload{
		ProductID: record.ProductID,
		OnHand:    record.OnHand,
	}
	if !record.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(record.UpdatedAt)
	}
	return payload
}

func writeStockError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrStockInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrStockInsufficient):
		httpx.WriteError(ctx, w, httpx.NewError("stock_insufficient", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("stock_error", "failed to process stock request", http.StatusInternalServerError))
	}
}
