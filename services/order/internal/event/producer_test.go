package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shopline/commerce/pkg/errors"
	pkgkafka "github.com/shopline/commerce/pkg/kafka"
	"github.com/shopline/commerce/pkg/logger"
	"github.com/shopline/commerce/services/order/internal/domain"
)

type recordingPublisher struct {
	topics []string
	events []*pkgkafka.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, ev *pkgkafka.Event) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.events = append(p.events, ev)
	return nil
}

func newTestProducer() (*Producer, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewProducer(pub, slog.New(slog.NewTextHandler(io.Discard, nil))), pub
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "ecommerce.order.created", TopicOrderCreated)
	assert.Equal(t, "ecommerce.order.status_changed", TopicOrderStatusChanged)
	assert.Equal(t, "ecommerce.order.placement_failed", TopicPlacementFailed)
	assert.Equal(t, "ecommerce.stock.compensation_requested", TopicCompensationRequested)
}

func TestPublishOrderCreated(t *testing.T) {
	producer, pub := newTestProducer()
	order := domain.NewOrder("user-1", "pl-1", []domain.OrderItem{{ProductID: "P1", Name: "Mug", Price: 1250, Quantity: 2}})
	order.ID = 42
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	require.NoError(t, producer.PublishOrderCreated(ctx, order))

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, TopicOrderCreated, pub.topics[0])
	assert.Equal(t, "42", ev.AggregateID)
	assert.Equal(t, "corr-1", ev.CorrelationID)

	var data OrderCreatedData
	require.NoError(t, ev.UnmarshalData(&data))
	assert.Equal(t, int64(2500), data.TotalAmount)
	assert.Equal(t, "pl-1", data.PlacementID)
	assert.Len(t, data.Items, 1)
}

func TestPublishPlacementFailed(t *testing.T) {
	producer, pub := newTestProducer()
	p := domain.NewPlacement("pl-1", "user-1")
	step := domain.NewStep(p.ID, 1, "P1", 3)
	step.Status = domain.StepStatusApplied
	p.Steps = append(p.Steps, step)
	p.Status = domain.PlacementStatusReconciliationRequired
	perr := &domain.PlacementError{
		Kind:      domain.KindProductLookupFailed,
		ProductID: "P9",
		Partial:   true,
		Err:       apperrors.NotFound("product", "P9"),
	}
	ctx := logger.WithPlacementID(context.Background(), p.ID)

	require.NoError(t, producer.PublishPlacementFailed(ctx, p, perr))

	ev := pub.events[0]
	assert.Equal(t, "pl-1", ev.Metadata["placement_id"])

	var data PlacementFailedData
	require.NoError(t, ev.UnmarshalData(&data))
	assert.Equal(t, "product_lookup_failed", data.Kind)
	assert.Equal(t, domain.PlacementStatusReconciliationRequired, data.Status)
	assert.True(t, data.Partial)
	assert.False(t, data.Retryable)
	require.Len(t, data.Steps, 1)
	assert.Equal(t, "pl-1:1:debit", data.Steps[0].IdempotencyKey)
}

func TestPublishCompensationRequested_UsesCreditKey(t *testing.T) {
	producer, pub := newTestProducer()
	step := domain.NewStep("pl-1", 2, "P2", 4)

	require.NoError(t, producer.PublishCompensationRequested(context.Background(), &step))

	assert.Equal(t, TopicCompensationRequested, pub.topics[0])
	var data CompensationRequestedData
	require.NoError(t, pub.events[0].UnmarshalData(&data))
	assert.Equal(t, CompensationRequestedData{
		PlacementID: "pl-1", Seq: 2, ProductID: "P2", Quantity: 4, IdempotencyKey: "pl-1:2:credit",
	}, data)
}

func TestPublish_Error(t *testing.T) {
	producer, pub := newTestProducer()
	pub.err = errors.New("broker down")

	err := producer.PublishOrderStatusChanged(context.Background(), 42, "pending", "shipped")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish ecommerce.order.status_changed event")
}
