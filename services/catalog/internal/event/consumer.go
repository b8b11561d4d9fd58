package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopline/commerce/pkg/idempotency"
	pkgkafka "github.com/shopline/commerce/pkg/kafka"
	"github.com/shopline/commerce/services/catalog/internal/domain"
)

// TopicCompensationRequested is published by the order service when a saga
// compensation could not be applied synchronously.
var TopicCompensationRequested = pkgkafka.Topic("stock", "compensation_requested")

// StockCompensator is the service capability the consumer needs.
type StockCompensator interface {
	ApplyCompensation(ctx context.Context, productID string, quantity int, idempotencyKey string) (*domain.AdjustmentResult, error)
}

// CompensationRequestedData is the payload of a stock.compensation_requested event.
type CompensationRequestedData struct {
	PlacementID    string `json:"placement_id"`
	Seq            int    `json:"seq"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Consumer processes incoming Kafka events for the catalog service.
type Consumer struct {
	logger  *slog.Logger
	service StockCompensator
}

// NewConsumer creates a new event consumer for the catalog service.
func NewConsumer(service StockCompensator, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// HandleCompensationRequested credits the requested quantity back to the
// product. The event's idempotency key makes redelivery harmless.
func (c *Consumer) HandleCompensationRequested(ctx context.Context, event *pkgkafka.Event) error {
	var data CompensationRequestedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal stock.compensation_requested data: %w", err)
	}
	if data.ProductID == "" || data.Quantity <= 0 || data.IdempotencyKey == "" {
		return fmt.Errorf("stock.compensation_requested %s: product_id, positive quantity and idempotency_key are required", event.EventID)
	}
	if err := checkCreditKey(data); err != nil {
		return fmt.Errorf("stock.compensation_requested %s: %w", event.EventID, err)
	}

	c.logger.InfoContext(ctx, "processing stock.compensation_requested event",
		slog.String("placement_id", data.PlacementID),
		slog.Int("seq", data.Seq),
		slog.String("product_id", data.ProductID),
		slog.Int("quantity", data.Quantity),
	)

	res, err := c.service.ApplyCompensation(ctx, data.ProductID, data.Quantity, data.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("compensate placement %s step %d: %w", data.PlacementID, data.Seq, err)
	}

	c.logger.InfoContext(ctx, "stock compensation applied",
		slog.String("placement_id", data.PlacementID),
		slog.String("product_id", data.ProductID),
		slog.Int("stock", res.Stock),
		slog.Bool("replayed", res.Replayed),
	)

	return nil
}

// checkCreditKey rejects keys that are not the credit key of the step the
// event names. A debit key would be deduplicated against the original
// decrement and the credit silently dropped.
func checkCreditKey(data CompensationRequestedData) error {
	placementID, seq, dir, err := idempotency.ParseStepKey(data.IdempotencyKey)
	if err != nil {
		return err
	}
	if dir != idempotency.Credit {
		return fmt.Errorf("idempotency_key %q is a %s key", data.IdempotencyKey, dir)
	}
	if placementID != data.PlacementID || seq != data.Seq {
		return fmt.Errorf("idempotency_key %q does not belong to placement %s step %d", data.IdempotencyKey, data.PlacementID, data.Seq)
	}
	return nil
}
