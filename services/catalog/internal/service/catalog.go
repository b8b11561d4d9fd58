package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/pkg/idempotency"
	"github.com/shopline/commerce/pkg/pagination"
	"github.com/shopline/commerce/services/catalog/internal/domain"
	"github.com/shopline/commerce/services/catalog/internal/event"
	"github.com/shopline/commerce/services/catalog/internal/repository"
)

// CatalogService implements product reads and the stock ledger.
type CatalogService struct {
	repo     repository.ProductRepository
	producer *event.Producer
	logger   *slog.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(repo repository.ProductRepository, producer *event.Producer, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		repo:     repo,
		producer: producer,
		logger:   logger,
	}
}

// CreateProductInput holds the data needed to register a product.
type CreateProductInput struct {
	ID          string
	Name        string
	Description string
	Price       int64
	Stock       int
}

// AdjustStockInput describes one relative stock change.
type AdjustStockInput struct {
	ProductID      string
	Delta          int
	IdempotencyKey string
	Reason         string
}

// CreateProduct registers a product with its opening stock. A missing ID is
// generated.
func (s *CatalogService) CreateProduct(ctx context.Context, input CreateProductInput) (*domain.Product, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.InvalidInput("name is required")
	}
	if input.Price < 0 {
		return nil, apperrors.InvalidInput("price must be non-negative")
	}
	if input.Stock < 0 {
		return nil, apperrors.InvalidInput("stock must be non-negative")
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC()
	product := &domain.Product{
		ID:          id,
		Name:        name,
		Description: input.Description,
		Price:       input.Price,
		Stock:       input.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.logger.InfoContext(ctx, "product created",
		slog.String("product_id", product.ID),
		slog.Int("stock", product.Stock),
	)

	return product, nil
}

// GetProduct returns a product with its current stock.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", id, err)
	}
	return product, nil
}

// ListProducts returns one page of products, newest first.
func (s *CatalogService) ListProducts(ctx context.Context, page pagination.Params) ([]domain.Product, int, error) {
	products, total, err := s.repo.List(ctx, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return products, total, nil
}

// AdjustStock applies a relative change to a product's stock. The ledger
// never goes negative: a decrement larger than the available stock fails
// with INSUFFICIENT_STOCK and changes nothing. With an idempotency key the
// change is applied at most once; replays return the original outcome.
func (s *CatalogService) AdjustStock(ctx context.Context, input AdjustStockInput) (*domain.AdjustmentResult, error) {
	if input.Delta == 0 {
		return nil, apperrors.InvalidInput("quantity must be non-zero")
	}
	if input.Reason == "" {
		input.Reason = domain.ReasonForDelta(input.Delta)
	}
	if !domain.IsValidReason(input.Reason) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("invalid reason %q", input.Reason))
	}

	adj := &domain.StockAdjustment{
		ProductID: input.ProductID,
		Delta:     input.Delta,
		Reason:    input.Reason,
	}
	if input.IdempotencyKey != "" {
		if err := idempotency.Validate(input.IdempotencyKey); err != nil {
			return nil, err
		}
		key := input.IdempotencyKey
		adj.IdempotencyKey = &key
	}

	res, err := s.repo.AdjustStock(ctx, adj)
	if err != nil {
		s.logRejection(ctx, input, err)
		return nil, fmt.Errorf("adjust stock for product %s: %w", input.ProductID, err)
	}

	if res.Replayed {
		s.logger.InfoContext(ctx, "stock adjustment replayed",
			slog.String("product_id", res.ProductID),
			slog.String("idempotency_key", input.IdempotencyKey),
			slog.Int("stock", res.Stock),
		)
		return res, nil
	}

	s.logger.InfoContext(ctx, "stock adjusted",
		slog.String("product_id", res.ProductID),
		slog.Int("delta", res.Delta),
		slog.Int("stock", res.Stock),
		slog.String("reason", input.Reason),
	)

	if err := s.producer.PublishStockAdjusted(ctx, res, input.Reason, input.IdempotencyKey); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish catalog.stock_adjusted event",
			slog.String("product_id", res.ProductID),
			slog.String("error", err.Error()),
		)
	}

	return res, nil
}

// ApplyCompensation credits quantity back to a product under the given
// idempotency key. Redelivered requests replay instead of double-crediting.
func (s *CatalogService) ApplyCompensation(ctx context.Context, productID string, quantity int, idempotencyKey string) (*domain.AdjustmentResult, error) {
	if quantity <= 0 {
		return nil, apperrors.InvalidInput("compensation quantity must be positive")
	}
	if idempotencyKey == "" {
		return nil, apperrors.InvalidInput("compensation requires an idempotency key")
	}
	return s.AdjustStock(ctx, AdjustStockInput{
		ProductID:      productID,
		Delta:          quantity,
		IdempotencyKey: idempotencyKey,
		Reason:         domain.ReasonCompensation,
	})
}

// ListAdjustments returns one page of a product's ledger history.
func (s *CatalogService) ListAdjustments(ctx context.Context, productID string, page pagination.Params) ([]domain.StockAdjustment, int, error) {
	if _, err := s.repo.GetByID(ctx, productID); err != nil {
		return nil, 0, fmt.Errorf("get product %s: %w", productID, err)
	}
	adjustments, total, err := s.repo.ListAdjustments(ctx, productID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list adjustments for product %s: %w", productID, err)
	}
	return adjustments, total, nil
}

func (s *CatalogService) logRejection(ctx context.Context, input AdjustStockInput, err error) {
	attrs := []any{
		slog.String("product_id", input.ProductID),
		slog.Int("delta", input.Delta),
		slog.String("idempotency_key", input.IdempotencyKey),
		slog.String("error", err.Error()),
	}
	if apperrors.HTTPStatus(err) < 500 {
		s.logger.WarnContext(ctx, "stock adjustment rejected", attrs...)
		return
	}
	s.logger.ErrorContext(ctx, "stock adjustment failed", attrs...)
}
