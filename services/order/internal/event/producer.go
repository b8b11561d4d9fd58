package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	pkgkafka "github.com/shopline/commerce/pkg/kafka"
	"github.com/shopline/commerce/pkg/logger"
	"github.com/shopline/commerce/services/order/internal/domain"
)

// Kafka topics for order domain events.
var (
	TopicOrderCreated          = pkgkafka.Topic("order", "created")
	TopicOrderStatusChanged    = pkgkafka.Topic("order", "status_changed")
	TopicPlacementFailed       = pkgkafka.Topic("order", "placement_failed")
	TopicCompensationRequested = pkgkafka.Topic("stock", "compensation_requested")
)

// Aggregate types.
const (
	AggregateTypeOrder     = "order"
	AggregateTypePlacement = "placement"
)

// SourceOrderService identifies events originating from the order service.
const SourceOrderService = "order-service"

// OrderCreatedData is the payload for an order.created event (full order snapshot).
type OrderCreatedData struct {
	ID          int64           `json:"id"`
	UserID      string          `json:"user_id"`
	Status      string          `json:"status"`
	TotalAmount int64           `json:"total_amount"`
	PlacementID string          `json:"placement_id"`
	Items       []OrderItemData `json:"items"`
}

// OrderItemData is the event payload for an order item.
type OrderItemData struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
}

// OrderStatusChangedData is the payload for an order.status_changed event.
type OrderStatusChangedData struct {
	OrderID   int64  `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// PlacementFailedData is the payload for an order.placement_failed event.
// Steps lists every ledger write the placement issued with its final status.
type PlacementFailedData struct {
	PlacementID string     `json:"placement_id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	Kind        string     `json:"kind"`
	ProductID   string     `json:"product_id,omitempty"`
	Reason      string     `json:"reason"`
	Retryable   bool       `json:"retryable"`
	Partial     bool       `json:"partial_application"`
	Steps       []StepData `json:"steps"`
}

// StepData is the event payload for one placement step.
type StepData struct {
	Seq            int    `json:"seq"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
}

// CompensationRequestedData asks the catalog to credit back a decrement whose
// synchronous compensation failed. IdempotencyKey is the step's credit key.
type CompensationRequestedData struct {
	PlacementID    string `json:"placement_id"`
	Seq            int    `json:"seq"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Producer publishes order domain events to Kafka.
type Producer struct {
	publisher pkgkafka.Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the order service.
func NewProducer(publisher pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishOrderCreated publishes an order.created event with the full order snapshot.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	items := make([]OrderItemData, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemData{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
		}
	}

	data := OrderCreatedData{
		ID:          order.ID,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		PlacementID: order.PlacementID,
		Items:       items,
	}

	return p.publish(ctx, TopicOrderCreated, strconv.FormatInt(order.ID, 10), AggregateTypeOrder, data)
}

// PublishOrderStatusChanged publishes an order.status_changed event.
func (p *Producer) PublishOrderStatusChanged(ctx context.Context, orderID int64, oldStatus, newStatus string) error {
	data := OrderStatusChangedData{
		OrderID:   orderID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	}

	return p.publish(ctx, TopicOrderStatusChanged, strconv.FormatInt(orderID, 10), AggregateTypeOrder, data)
}

// PublishPlacementFailed publishes an order.placement_failed event.
func (p *Producer) PublishPlacementFailed(ctx context.Context, placement *domain.Placement, perr *domain.PlacementError) error {
	steps := make([]StepData, len(placement.Steps))
	for i, s := range placement.Steps {
		steps[i] = StepData{
			Seq:            s.Seq,
			ProductID:      s.ProductID,
			Quantity:       s.Quantity,
			IdempotencyKey: s.IdempotencyKey,
			Status:         s.Status,
		}
	}

	data := PlacementFailedData{
		PlacementID: placement.ID,
		UserID:      placement.UserID,
		Status:      placement.Status,
		Kind:        string(perr.Kind),
		ProductID:   perr.ProductID,
		Reason:      perr.Error(),
		Retryable:   perr.Retryable(),
		Partial:     perr.Partial,
		Steps:       steps,
	}

	return p.publish(ctx, TopicPlacementFailed, placement.ID, AggregateTypePlacement, data)
}

// PublishCompensationRequested publishes a stock.compensation_requested event
// for a step whose credit could not be applied synchronously.
func (p *Producer) PublishCompensationRequested(ctx context.Context, step *domain.PlacementStep) error {
	data := CompensationRequestedData{
		PlacementID:    step.PlacementID,
		Seq:            step.Seq,
		ProductID:      step.ProductID,
		Quantity:       step.Quantity,
		IdempotencyKey: step.CompensationKey(),
	}

	return p.publish(ctx, TopicCompensationRequested, step.PlacementID, AggregateTypePlacement, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceOrderService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	event.WithCorrelationID(logger.CorrelationIDFromContext(ctx))
	if id := logger.PlacementIDFromContext(ctx); id != "" {
		event.WithMetadata("placement_id", id)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
	return nil
}
