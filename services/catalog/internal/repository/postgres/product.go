package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shopline/commerce/pkg/database"
	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/services/catalog/internal/domain"
)

// ProductRepository implements repository.ProductRepository using PostgreSQL.
type ProductRepository struct {
	pool database.DBTX
}

// NewProductRepository creates a new PostgreSQL-backed product repository.
func NewProductRepository(pool database.DBTX) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Create inserts a new product.
func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) (err error) {
	query := `
		INSERT INTO products (id, name, description, price, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, end := database.TraceQuery(ctx, "INSERT", "insert product")
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Price,
		p.Stock,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "products_pkey") {
			return apperrors.AlreadyExists("product", "id", p.ID)
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return nil
}

// GetByID retrieves a product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (_ *domain.Product, err error) {
	query := `
		SELECT id, name, description, price, stock, created_at, updated_at
		FROM products
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "SELECT", "get product")
	defer func() { end(err) }()

	var p domain.Product
	err = r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.Stock,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", id)
		}
		return nil, fmt.Errorf("get product by id: %w", err)
	}

	return &p, nil
}

// List returns products newest first with the total row count.
func (r *ProductRepository) List(ctx context.Context, limit, offset int) ([]domain.Product, int, error) {
	query := `
		SELECT id, name, description, price, stock, created_at, updated_at,
			   count(*) OVER() AS total_count
		FROM products
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var (
		products   []domain.Product
		totalCount int
	)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Description,
			&p.Price,
			&p.Stock,
			&p.CreatedAt,
			&p.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate product rows: %w", err)
	}

	return products, totalCount, nil
}

// AdjustStock applies a relative stock change in a single transaction:
//
//  1. lock the product row (404 if missing),
//  2. record the adjustment, deduplicated on its idempotency key,
//  3. apply the delta only if the result stays non-negative,
//  4. store the resulting stock on the adjustment row.
//
// A key that was already committed short-circuits at step 2 with the stored
// outcome. Concurrent requests carrying the same key serialize on the row lock.
func (r *ProductRepository) AdjustStock(ctx context.Context, adj *domain.StockAdjustment) (_ *domain.AdjustmentResult, err error) {
	ctx, end := database.TraceQuery(ctx, "UPDATE", "adjust product stock")
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current int
	err = tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, adj.ProductID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product", adj.ProductID)
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	if adj.ID == "" {
		adj.ID = uuid.New().String()
	}

	insertQuery := `
		INSERT INTO stock_adjustments (id, product_id, delta, reason, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := tx.Exec(ctx, insertQuery, adj.ID, adj.ProductID, adj.Delta, adj.Reason, adj.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("insert stock adjustment: %w", err)
	}
	if tag.RowsAffected() == 0 && adj.IdempotencyKey != nil {
		return r.replay(ctx, tx, adj)
	}

	var stock int
	updateQuery := `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock`

	err = tx.QueryRow(ctx, updateQuery, adj.ProductID, adj.Delta).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.InsufficientStock(adj.ProductID, -adj.Delta, current)
		}
		return nil, fmt.Errorf("update product stock: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE stock_adjustments SET resulting_stock = $2 WHERE id = $1`, adj.ID, stock)
	if err != nil {
		return nil, fmt.Errorf("record resulting stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	adj.ResultingStock = stock
	return &domain.AdjustmentResult{
		ProductID: adj.ProductID,
		Stock:     stock,
		Delta:     adj.Delta,
	}, nil
}

// replay loads the adjustment already stored under adj's idempotency key.
func (r *ProductRepository) replay(ctx context.Context, tx pgx.Tx, adj *domain.StockAdjustment) (*domain.AdjustmentResult, error) {
	query := `
		SELECT id, product_id, delta, COALESCE(resulting_stock, 0), reason, created_at
		FROM stock_adjustments
		WHERE idempotency_key = $1`

	var prior domain.StockAdjustment
	err := tx.QueryRow(ctx, query, *adj.IdempotencyKey).Scan(
		&prior.ID,
		&prior.ProductID,
		&prior.Delta,
		&prior.ResultingStock,
		&prior.Reason,
		&prior.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("load adjustment for idempotency key: %w", err)
	}

	if !prior.Matches(adj.ProductID, adj.Delta) {
		return nil, domain.IdempotencyKeyReused(*adj.IdempotencyKey)
	}

	return &domain.AdjustmentResult{
		ProductID: prior.ProductID,
		Stock:     prior.ResultingStock,
		Delta:     prior.Delta,
		Replayed:  true,
	}, nil
}

// ListAdjustments returns a product's adjustments newest first.
func (r *ProductRepository) ListAdjustments(ctx context.Context, productID string, limit, offset int) ([]domain.StockAdjustment, int, error) {
	query := `
		SELECT id, product_id, delta, COALESCE(resulting_stock, 0), idempotency_key, reason, created_at,
			   count(*) OVER() AS total_count
		FROM stock_adjustments
		WHERE product_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, productID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock adjustments: %w", err)
	}
	defer rows.Close()

	var (
		adjustments []domain.StockAdjustment
		totalCount  int
	)
	for rows.Next() {
		var a domain.StockAdjustment
		if err := rows.Scan(
			&a.ID,
			&a.ProductID,
			&a.Delta,
			&a.ResultingStock,
			&a.IdempotencyKey,
			&a.Reason,
			&a.CreatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan stock adjustment row: %w", err)
		}
		adjustments = append(adjustments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate stock adjustment rows: %w", err)
	}

	return adjustments, totalCount, nil
}
