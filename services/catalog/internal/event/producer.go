package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/shopline/commerce/pkg/kafka"
	"github.com/shopline/commerce/pkg/logger"
	"github.com/shopline/commerce/services/catalog/internal/domain"
)

// TopicStockAdjusted carries every applied (non-replayed) stock change.
var TopicStockAdjusted = pkgkafka.Topic("catalog", "stock_adjusted")

// AggregateTypeProduct is the aggregate type of catalog events.
const AggregateTypeProduct = "product"

// SourceCatalogService identifies events originating from the catalog service.
const SourceCatalogService = "catalog-service"

// StockAdjustedData is the payload of a catalog.stock_adjusted event.
type StockAdjustedData struct {
	ProductID      string `json:"product_id"`
	Delta          int    `json:"delta"`
	Stock          int    `json:"stock"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Producer publishes catalog domain events to Kafka.
type Producer struct {
	publisher pkgkafka.Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the catalog service.
func NewProducer(publisher pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishStockAdjusted publishes a catalog.stock_adjusted event.
func (p *Producer) PublishStockAdjusted(ctx context.Context, res *domain.AdjustmentResult, reason, idempotencyKey string) error {
	data := StockAdjustedData{
		ProductID:      res.ProductID,
		Delta:          res.Delta,
		Stock:          res.Stock,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	}

	event, err := pkgkafka.NewEvent(TopicStockAdjusted, res.ProductID, AggregateTypeProduct, SourceCatalogService, data)
	if err != nil {
		return fmt.Errorf("create catalog.stock_adjusted event: %w", err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx))

	if err := p.publisher.Publish(ctx, TopicStockAdjusted, event); err != nil {
		return fmt.Errorf("publish catalog.stock_adjusted event: %w", err)
	}

	p.logger.DebugContext(ctx, "published catalog.stock_adjusted event",
		slog.String("product_id", res.ProductID),
		slog.Int("delta", res.Delta),
		slog.Int("stock", res.Stock),
	)

	return nil
}
