package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/pkg/logger"
	"github.com/shopline/commerce/services/order/internal/catalog"
	"github.com/shopline/commerce/services/order/internal/domain"
	"github.com/shopline/commerce/services/order/internal/event"
	"github.com/shopline/commerce/services/order/internal/repository"
)

// Reasons sent with ledger adjustments.
const (
	reasonOrder        = "order"
	reasonCompensation = "compensation"
)

// StockLedger is the catalog's product read and stock adjustment contract.
type StockLedger interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
	AdjustStock(ctx context.Context, productID string, delta int, idempotencyKey, reason string) (*catalog.Adjustment, error)
}

// PlacementConfig bounds each remote step and selects the failure policy.
type PlacementConfig struct {
	LookupTimeout  time.Duration
	AdjustTimeout  time.Duration
	PersistTimeout time.Duration

	// Compensate credits back applied decrements when a later step fails.
	// When false they stay applied and the placement needs reconciliation.
	Compensate bool
}

// PlaceOrderItem is one requested line.
type PlaceOrderItem struct {
	ProductID string
	Quantity  int
}

// PlaceOrderInput is a place-order request.
type PlaceOrderInput struct {
	UserID string
	Items  []PlaceOrderItem
}

// PlacementService runs the order placement workflow: for each line it reads
// the product, checks stock and decrements it in the catalog, then stores the
// order with all its items in one local transaction. Each decrement is logged
// as a placement step before it is sent.
type PlacementService struct {
	orders     repository.OrderRepository
	placements repository.PlacementRepository
	ledger     StockLedger
	producer   *event.Producer
	cfg        PlacementConfig
	logger     *slog.Logger
	newID      func() string
}

// NewPlacementService creates a new placement service.
func NewPlacementService(
	orders repository.OrderRepository,
	placements repository.PlacementRepository,
	ledger StockLedger,
	producer *event.Producer,
	cfg PlacementConfig,
	logger *slog.Logger,
) *PlacementService {
	return &PlacementService{
		orders:     orders,
		placements: placements,
		ledger:     ledger,
		producer:   producer,
		cfg:        cfg,
		logger:     logger,
		newID:      func() string { return uuid.New().String() },
	}
}

// PlaceOrder runs one placement attempt. Items are processed strictly in
// request order. Every failure is returned as a *domain.PlacementError.
func (s *PlacementService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*domain.Order, error) {
	start := time.Now()

	userID := strings.TrimSpace(input.UserID)
	if err := validatePlaceOrder(userID, input.Items); err != nil {
		perr := &domain.PlacementError{Kind: domain.KindInvalidRequest, Err: err}
		s.observe(start, string(perr.Kind), perr.Kind)
		return nil, perr
	}

	placement := domain.NewPlacement(s.newID(), userID)
	ctx = logger.WithPlacementID(ctx, placement.ID)
	log := logger.WithContext(ctx, s.logger)

	if err := s.placements.Create(ctx, placement); err != nil {
		perr := &domain.PlacementError{
			Kind:        domain.KindPersistenceFailed,
			PlacementID: placement.ID,
			Err:         fmt.Errorf("record placement: %w", err),
		}
		log.ErrorContext(ctx, "placement could not be recorded", slog.String("error", err.Error()))
		s.observe(start, domain.PlacementStatusFailed, perr.Kind)
		return nil, perr
	}

	items := make([]domain.OrderItem, 0, len(input.Items))
	for i, line := range input.Items {
		product, err := s.lookup(ctx, line.ProductID)
		if err != nil {
			return nil, s.fail(ctx, start, placement, &domain.PlacementError{
				Kind:      domain.KindProductLookupFailed,
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Err:       err,
			})
		}

		if product.Stock < line.Quantity {
			return nil, s.fail(ctx, start, placement, &domain.PlacementError{
				Kind:      domain.KindInsufficientStock,
				ProductID: line.ProductID,
				Requested: line.Quantity,
				Available: product.Stock,
				Err:       apperrors.InsufficientStock(line.ProductID, line.Quantity, product.Stock),
			})
		}

		items = append(items, domain.OrderItem{
			ProductID: line.ProductID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  line.Quantity,
		})

		if perr := s.decrement(ctx, placement, i+1, line); perr != nil {
			return nil, s.fail(ctx, start, placement, perr)
		}
	}

	order := domain.NewOrder(userID, placement.ID, items)
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	err := s.orders.CreateWithItems(pctx, order)
	cancel()
	if err != nil {
		orderID, committed := s.committedOrderID(ctx, placement.ID)
		if !committed {
			return nil, s.fail(ctx, start, placement, &domain.PlacementError{
				Kind: domain.KindPersistenceFailed,
				Err:  fmt.Errorf("store order: %w", err),
			})
		}
		log.WarnContext(ctx, "order commit reported an error but the order is stored",
			slog.Int64("order_id", orderID),
			slog.String("error", err.Error()),
		)
		order.ID = orderID
	}
	placement.Status = domain.PlacementStatusCompleted
	placement.OrderID = &order.ID

	// Answer with what was committed, not with what was sent.
	stored, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		log.WarnContext(ctx, "order re-read failed, returning written values",
			slog.Int64("order_id", order.ID),
			slog.String("error", err.Error()),
		)
		stored = order
	}

	if err := s.producer.PublishOrderCreated(ctx, stored); err != nil {
		log.ErrorContext(ctx, "failed to publish order.created event",
			slog.Int64("order_id", stored.ID),
			slog.String("error", err.Error()),
		)
	}

	s.observe(start, domain.PlacementStatusCompleted, "")
	log.InfoContext(ctx, "order placed",
		slog.Int64("order_id", stored.ID),
		slog.String("user_id", stored.UserID),
		slog.Int("items", len(stored.Items)),
		slog.Int64("total_amount", stored.TotalAmount),
	)

	return stored, nil
}

// committedOrderID reports whether a commit that returned an error did in fact
// complete. The placement is marked completed in the same transaction as the
// order insert, so a completed placement is proof of the commit.
func (s *PlacementService) committedOrderID(ctx context.Context, placementID string) (int64, bool) {
	p, err := s.placements.GetByID(context.WithoutCancel(ctx), placementID)
	if err != nil || p.Status != domain.PlacementStatusCompleted || p.OrderID == nil {
		return 0, false
	}
	return *p.OrderID, true
}

func validatePlaceOrder(userID string, items []PlaceOrderItem) error {
	if userID == "" {
		return apperrors.InvalidInput("user_id is required")
	}
	if len(items) == 0 {
		return apperrors.InvalidInput("order must contain at least one item")
	}
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].product_id is required", i))
		}
		if item.Quantity < 1 {
			return apperrors.InvalidInput(fmt.Sprintf("items[%d].quantity must be at least 1", i))
		}
	}
	return nil
}

func (s *PlacementService) lookup(ctx context.Context, productID string) (*catalog.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()
	return s.ledger.GetProduct(ctx, productID)
}

// decrement records step seq as pending, then sends its debit. The step ends
// applied, failed (the ledger said no) or unknown (no trustworthy answer).
func (s *PlacementService) decrement(ctx context.Context, p *domain.Placement, seq int, line PlaceOrderItem) *domain.PlacementError {
	step := domain.NewStep(p.ID, seq, line.ProductID, line.Quantity)
	if err := s.placements.CreateStep(ctx, &step); err != nil {
		return &domain.PlacementError{
			Kind:      domain.KindPersistenceFailed,
			ProductID: line.ProductID,
			Requested: line.Quantity,
			Err:       fmt.Errorf("record step %d: %w", seq, err),
		}
	}

	actx, cancel := context.WithTimeout(ctx, s.cfg.AdjustTimeout)
	_, err := s.ledger.AdjustStock(actx, line.ProductID, -line.Quantity, step.IdempotencyKey, reasonOrder)
	cancel()

	switch {
	case err == nil:
		step.Status = domain.StepStatusApplied
	case errors.Is(err, catalog.ErrOutcomeUnknown):
		step.Status = domain.StepStatusUnknown
		step.Error = err.Error()
	default:
		step.Status = domain.StepStatusFailed
		step.Error = err.Error()
	}
	p.Steps = append(p.Steps, step)
	s.saveStep(ctx, &p.Steps[len(p.Steps)-1])

	if err == nil {
		return nil
	}

	perr := &domain.PlacementError{
		Kind:      domain.KindStockAdjustmentFailed,
		ProductID: line.ProductID,
		Requested: line.Quantity,
		Err:       err,
	}
	if available, ok := availableStock(err); ok {
		perr.Available = available
	}
	return perr
}

// fail settles a failed placement: it optionally compensates, decides the
// final placement status, records it and reports it. It keeps running when
// the caller's context is canceled so the step log stays accurate.
func (s *PlacementService) fail(ctx context.Context, start time.Time, p *domain.Placement, perr *domain.PlacementError) error {
	ctx = context.WithoutCancel(ctx)
	log := logger.WithContext(ctx, s.logger)
	perr.PlacementID = p.ID

	if s.cfg.Compensate {
		s.compensate(ctx, p)
	}

	outstanding := p.OutstandingSteps()
	switch {
	case len(outstanding) > 0:
		perr.Partial = true
		p.Status = domain.PlacementStatusReconciliationRequired
	case hasStatus(p.Steps, domain.StepStatusCompensated):
		p.Status = domain.PlacementStatusCompensated
	default:
		p.Status = domain.PlacementStatusFailed
	}
	p.FailureKind = string(perr.Kind)
	p.FailureReason = perr.Error()

	if err := s.placements.Update(ctx, p); err != nil {
		log.ErrorContext(ctx, "failed to record placement outcome",
			slog.String("status", p.Status),
			slog.String("error", err.Error()),
		)
	}

	if perr.Partial {
		keys := make([]string, len(outstanding))
		for i, step := range outstanding {
			keys[i] = step.IdempotencyKey + "=" + step.Status
		}
		log.ErrorContext(ctx, "placement failed with stock decrements left in place",
			slog.String("kind", string(perr.Kind)),
			slog.Any("steps", keys),
			slog.String("error", perr.Error()),
		)
	} else {
		log.WarnContext(ctx, "placement failed",
			slog.String("kind", string(perr.Kind)),
			slog.String("status", p.Status),
			slog.String("error", perr.Error()),
		)
	}

	if err := s.producer.PublishPlacementFailed(ctx, p, perr); err != nil {
		log.ErrorContext(ctx, "failed to publish order.placement_failed event", slog.String("error", err.Error()))
	}

	s.observe(start, p.Status, perr.Kind)
	return perr
}

// compensate walks the steps in reverse order. Unknown debits are first
// replayed under their own key, which settles whether they were applied.
// Applied debits are then credited back under their credit key.
func (s *PlacementService) compensate(ctx context.Context, p *domain.Placement) {
	log := logger.WithContext(ctx, s.logger)

	for i := len(p.Steps) - 1; i >= 0; i-- {
		step := &p.Steps[i]

		if step.Status == domain.StepStatusUnknown {
			s.resolveUnknown(ctx, step)
		}
		if step.Status != domain.StepStatusApplied {
			continue
		}

		if err := credit(ctx, s.ledger, step, s.cfg.AdjustTimeout); err != nil {
			step.Status = domain.StepStatusCompensationFailed
			step.Error = err.Error()
			compensationsTotal.WithLabelValues("failed").Inc()
			log.WarnContext(ctx, "compensation failed, handing off to catalog",
				slog.String("idempotency_key", step.CompensationKey()),
				slog.String("error", err.Error()),
			)
			if err := s.producer.PublishCompensationRequested(ctx, step); err != nil {
				log.ErrorContext(ctx, "failed to publish stock.compensation_requested event",
					slog.String("idempotency_key", step.CompensationKey()),
					slog.String("error", err.Error()),
				)
			}
		} else {
			step.Status = domain.StepStatusCompensated
			step.Error = ""
			compensationsTotal.WithLabelValues("applied").Inc()
		}
		s.saveStep(ctx, step)
	}
}

// resolveUnknown resends an unknown debit with the same key. The ledger either
// replays the earlier application or applies it now; a definitive rejection
// means the first attempt never took effect.
func (s *PlacementService) resolveUnknown(ctx context.Context, step *domain.PlacementStep) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.AdjustTimeout)
	_, err := s.ledger.AdjustStock(actx, step.ProductID, -step.Quantity, step.IdempotencyKey, reasonOrder)
	cancel()

	switch {
	case err == nil:
		step.Status = domain.StepStatusApplied
	case errors.Is(err, catalog.ErrOutcomeUnknown):
		return
	default:
		step.Status = domain.StepStatusFailed
		step.Error = err.Error()
	}
	s.saveStep(ctx, step)
}

func (s *PlacementService) saveStep(ctx context.Context, step *domain.PlacementStep) {
	if err := s.placements.UpdateStep(ctx, step); err != nil {
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "failed to record placement step",
			slog.Int("seq", step.Seq),
			slog.String("status", step.Status),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PlacementService) observe(start time.Time, outcome string, kind domain.FailureKind) {
	placementsTotal.WithLabelValues(outcome, string(kind)).Inc()
	placementDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// credit issues the compensating +quantity adjustment for step.
func credit(ctx context.Context, ledger StockLedger, step *domain.PlacementStep, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := ledger.AdjustStock(ctx, step.ProductID, step.Quantity, step.CompensationKey(), reasonCompensation)
	return err
}

func hasStatus(steps []domain.PlacementStep, status string) bool {
	for _, s := range steps {
		if s.Status == status {
			return true
		}
	}
	return false
}

// availableStock extracts the ledger's reported availability from a stock
// rejection. Decoded JSON details arrive as float64.
func availableStock(err error) (int, bool) {
	if !errors.Is(err, apperrors.ErrInsufficientStock) {
		return 0, false
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return 0, false
	}
	switch v := appErr.Details["available"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
