package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/oakmart/api/internal/platform/firestore"
	"github.com/oakmart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the injection
// contract and owns the shared provider's lifecycle.
type Registry struct {
	provider *pfirestore.Provider
	orders   *OrderRepository
	stock    *StockRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository on top of the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{provider: provider, orders: orders, stock: stock}, nil
}

func (r *Registry) Orders() repositories.OrderRepository {
	if r == nil {
		return nil
	}
	return r.orders
}

func (r *Registry) Stock() repositories.StockRepository {
	if r == nil {
		return nil
	}
	return r.stock
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
