package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oakmart/api/internal/repositories"
)

var (
	// ErrStockInvalidInput indicates the caller supplied invalid stock parameters.
	ErrStockInvalidInput = errors.New("stock: invalid input")
	// ErrStockNotFound indicates no ledger record exists for the product.
	ErrStockNotFound = errors.New("stock: not found")
	// ErrStockInsufficient indicates the requested quantity exceeds availability.
	ErrStockInsufficient = errors.New("stock: insufficient quantity")
)

// StockServiceDeps bundles collaborators required to construct a stock service instance.
type StockServiceDeps struct {
	Stock  repositories.StockRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type stockService struct {
	stock  repositories.StockRepository
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewStockService constructs the inventory ledger service on top of the stock repository.
func NewStockService(deps StockServiceDeps) (StockService, error) {
	if deps.Stock == nil {
		return nil, errors.New("stock service: stock repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &stockService{
		stock: deps.Stock,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *stockService) GetStock(ctx context.Context, productID string) (StockRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockRecord{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}

	record, err := s.stock.Get(ctx, productID)
	if err != nil {
		return StockRecord{}, s.mapStockError(err)
	}
	return record, nil
}

func (s *stockService) AdjustStock(ctx context.Context, cmd StockAdjustCommand) (StockRecord, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockRecord{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if cmd.OnHand < 0 {
		return StockRecord{}, fmt.Errorf("%w: on-hand quantity must not be negative", ErrStockInvalidInput)
	}

	record, err := s.stock.Adjust(ctx, repositories.StockAdjustRequest{
		ProductID: productID,
		OnHand:    cmd.OnHand,
		Now:       s.clock(),
	})
	if err != nil {
		return StockRecord{}, s.mapStockError(err)
	}

	s.logger(ctx, "stock.adjusted", map[string]any{
		"product_id": record.ProductID,
		"on_hand":    record.OnHand,
	})
	return record, nil
}

func (s *stockService) ReserveStock(ctx context.Context, cmd StockMutationCommand) (StockRecord, error) {
	req, err := s.mutationRequest(cmd)
	if err != nil {
		return StockRecord{}, err
	}

	record, err := s.stock.Reserve(ctx, req)
	if err != nil {
		return StockRecord{}, s.mapStockError(err)
	}
	return record, nil
}

func (s *stockService) ReleaseStock(ctx context.Context, cmd StockMutationCommand) (StockRecord, error) {
	req, err := s.mutationRequest(cmd)
	if err != nil {
		return StockRecord{}, err
	}

	record, err := s.stock.Release(ctx, req)
	if err != nil {
		return StockRecord{}, s.mapStockError(err)
	}
	return record, nil
}

func (s *stockService) mutationRequest(cmd StockMutationCommand) (repositories.StockMutationRequest, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return repositories.StockMutationRequest{}, fmt.Errorf("%w: product id is required", ErrStockInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return repositories.StockMutationRequest{}, fmt.Errorf("%w: quantity must be positive", ErrStockInvalidInput)
	}
	return repositories.StockMutationRequest{
		ProductID: productID,
		Quantity:  cmd.Quantity,
		Now:       s.clock(),
	}, nil
}

func (s *stockService) mapStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, stockErr.Message)
		case repositories.StockErrorInsufficient:
			return fmt.Errorf("%w: %s", ErrStockInsufficient, stockErr.Message)
		case repositories.StockErrorInvalidQuantity:
			return fmt.Errorf("%w: %s", ErrStockInvalidInput, stockErr.Message)
		}
	}
	return err
}
