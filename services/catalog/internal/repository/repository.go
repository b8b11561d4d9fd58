package repository

import (
	"context"

	"github.com/shopline/commerce/services/catalog/internal/domain"
)

// ProductRepository defines persistence for products and their stock ledger.
type ProductRepository interface {
	// Create inserts a new product with its initial stock.
	Create(ctx context.Context, product *domain.Product) error

	// GetByID retrieves a product by its identifier.
	GetByID(ctx context.Context, id string) (*domain.Product, error)

	// List returns products newest first together with the total count.
	List(ctx context.Context, limit, offset int) ([]domain.Product, int, error)

	// AdjustStock applies adj.Delta to the product's stock in one transaction.
	// The result is never negative. When adj.IdempotencyKey is set and was
	// already applied, the stored outcome is returned with Replayed set.
	AdjustStock(ctx context.Context, adj *domain.StockAdjustment) (*domain.AdjustmentResult, error)

	// ListAdjustments returns the most recent adjustments for a product.
	ListAdjustments(ctx context.Context, productID string, limit, offset int) ([]domain.StockAdjustment, int, error)
}
