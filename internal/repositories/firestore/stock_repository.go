package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/oakmart/api/internal/domain"
	pfirestore "github.com/oakmart/api/internal/platform/firestore"
	"github.com/oakmart/api/internal/repositories"
)

const stocksCollection = "stocks"

type StockRepository struct {
	provider *pfirestore.Provider
	stocks   *pfirestore.BaseRepository[stockDocument]
}

func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, stocksCollection, nil, nil)
	return &StockRepository{provider: provider, stocks: stocks}, nil
}

func (r *StockRepository) Get(ctx context.Context, productID string) (domain.StockRecord, error) {
	if r == nil || r.stocks == nil {
		return domain.StockRecord{}, errors.New("stock repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.StockRecord{}, repositories.NewStockError(repositories.StockErrorNotFound, "stock get: product id is required", nil)
	}

	doc, err := r.stocks.Get(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.StockRecord{}, repositories.NewStockError(repositories.StockErrorNotFound, fmt.Sprintf("stock %s not found", productID), err)
		}
		return domain.StockRecord{}, wrapStockError("stock.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *StockRepository) Reserve(ctx context.Context, req repositories.StockMutationRequest) (domain.StockRecord, error) {
	return r.mutate(ctx, "stock.reserve", req, func(doc *stockDocument, qty int) error {
		if doc.OnHand < qty {
			return repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", req.ProductID), nil)
		}
		doc.OnHand -= qty
		return nil
	})
}

func (r *StockRepository) Release(ctx context.Context, req repositories.StockMutationRequest) (domain.StockRecord, error) {
	return r.mutate(ctx, "stock.release", req, func(doc *stockDocument, qty int) error {
		doc.OnHand += qty
		return nil
	})
}

func (r *StockRepository) mutate(ctx context.Context, op string, req repositories.StockMutationRequest, apply func(*stockDocument, int) error) (domain.StockRecord, error) {
	if r == nil || r.provider == nil {
		return domain.StockRecord{}, errors.New("stock repository not initialised")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.StockRecord{}, repositories.NewStockError(repositories.StockErrorNotFound, "stock mutation: product id is required", nil)
	}
	if req.Quantity <= 0 {
		return domain.StockRecord{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("quantity for %s must be > 0", productID), nil)
	}

	now := req.Now.UTC()
	var updated domain.StockRecord
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
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
		if err := apply(&doc, req.Quantity); err != nil {
			return err
		}
		doc.ProductID = productID
		doc.UpdatedAt = now
		if err := tx.Set(stockRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.StockRecord{}, wrapStockError(op, err)
	}
	return updated, nil
}

func (r *StockRepository) Adjust(ctx context.Context, req repositories.StockAdjustRequest) (domain.StockRecord, error) {
	if r == nil || r.provider == nil {
		return domain.StockRecord{}, errors.New("stock repository not initialised")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.StockRecord{}, repositories.NewStockError(repositories.StockErrorNotFound, "stock adjust: product id is required", nil)
	}
	if req.OnHand < 0 {
		return domain.StockRecord{}, repositories.NewStockError(repositories.StockErrorInvalidQuantity, fmt.Sprintf("on-hand for %s must be >= 0", productID), nil)
	}

	now := req.Now.UTC()
	doc := stockDocument{
		ProductID: productID,
		OnHand:    req.OnHand,
		UpdatedAt: now,
	}
	if _, err := r.stocks.Set(ctx, productID, doc); err != nil {
		return domain.StockRecord{}, wrapStockError("stock.adjust", err)
	}
	return doc.toDomain(productID), nil
}

// Helper structures ---------------------------------------------------------

type stockDocument struct {
	ProductID string    `firestore:"productId"`
	OnHand    int       `firestore:"onHand"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s stockDocument) toDomain(id string) domain.StockRecord {
	return domain.StockRecord{
		ProductID: id,
		OnHand:    s.OnHand,
		UpdatedAt: s.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
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
