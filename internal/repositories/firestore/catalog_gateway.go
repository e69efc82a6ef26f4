package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/oakmart/api/internal/domain"
	pfirestore "github.com/oakmart/api/internal/platform/firestore"
)

const productsCollection = "products"

// ErrProductNotFound indicates the catalog has no document for the product.
var ErrProductNotFound = errors.New("catalog: product not found")

// CatalogGateway is the read-only catalog view the order core consumes.
// Pricing comes from the product document; availability comes from the stock
// ledger so the fail-fast check sees the same numbers the reservation will.
type CatalogGateway struct {
	products *pfirestore.BaseRepository[productDocument]
	stocks   *pfirestore.BaseRepository[stockDocument]
}

func NewCatalogGateway(provider *pfirestore.Provider) (*CatalogGateway, error) {
	if provider == nil {
		return nil, errors.New("catalog gateway requires firestore provider")
	}
	return &CatalogGateway{
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		stocks:   pfirestore.NewBaseRepository[stockDocument](provider, stocksCollection, nil, nil),
	}, nil
}

func (g *CatalogGateway) GetProduct(ctx context.Context, productID string) (domain.ProductInfo, error) {
	if g == nil || g.products == nil {
		return domain.ProductInfo{}, errors.New("catalog gateway not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductInfo{}, fmt.Errorf("%w: product id is required", ErrProductNotFound)
	}

	doc, err := g.products.Get(ctx, productID)
	if err != nil {
		if repoErr, ok := err.(*pfirestore.Error); ok && repoErr.IsNotFound() {
			return domain.ProductInfo{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return domain.ProductInfo{}, pfirestore.WrapError("catalog.get", err)
	}

	info := doc.Data.toDomain(doc.ID)

	stock, err := g.stocks.Get(ctx, productID)
	switch {
	case err == nil:
		info.Stock = stock.Data.OnHand
	default:
		if repoErr, ok := err.(*pfirestore.Error); !ok || !repoErr.IsNotFound() {
			return domain.ProductInfo{}, pfirestore.WrapError("catalog.stock", err)
		}
		// No ledger entry yet means nothing to sell.
		info.Stock = 0
	}

	return info, nil
}

type productDocument struct {
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Currency  string `firestore:"currency"`
}

func (p productDocument) toDomain(id string) domain.ProductInfo {
	return domain.ProductInfo{
		ID:        id,
		Name:      p.Name,
		UnitPrice: p.UnitPrice,
		Currency:  strings.ToUpper(strings.TrimSpace(p.Currency)),
	}
}
