package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/pkg/logger"
	"github.com/shopline/commerce/services/order/internal/catalog"
	"github.com/shopline/commerce/services/order/internal/domain"
	"github.com/shopline/commerce/services/order/internal/repository"
)

// ReconcilerConfig controls the background compensation retry loop.
type ReconcilerConfig struct {
	Interval      time.Duration
	BatchSize     int
	AdjustTimeout time.Duration
}

// Reconciler retries credits for steps whose compensation failed. It reuses
// each step's credit key, so a credit the catalog already applied from the
// compensation_requested event is replayed rather than applied twice.
type Reconciler struct {
	placements repository.PlacementRepository
	ledger     StockLedger
	cfg        ReconcilerConfig
	logger     *slog.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(placements repository.PlacementRepository, ledger StockLedger, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		placements: placements,
		ledger:     ledger,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run reconciles on every tick until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("placement reconciler started", slog.Duration("interval", r.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("placement reconciler stopped")
			return nil
		case <-ticker.C:
			n, err := r.ReconcileOnce(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "reconciliation pass failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				r.logger.InfoContext(ctx, "reconciliation pass compensated steps", slog.Int("steps", n))
			}
		}
	}
}

// ReconcileOnce retries one batch of compensation_failed steps and returns how
// many were credited. A retry that fails again is written back so the step
// moves behind the rest of the queue; a credit the ledger refuses outright is
// marked compensation_rejected and no longer retried. Placements left with
// nothing outstanding are marked compensated.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	steps, err := r.placements.ListStepsByStatus(ctx, domain.StepStatusCompensationFailed, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list compensation_failed steps: %w", err)
	}

	compensated := 0
	touched := make(map[string]struct{})
	for i := range steps {
		step := &steps[i]
		sctx := logger.WithPlacementID(ctx, step.PlacementID)
		log := logger.WithContext(sctx, r.logger).With(
			slog.String("idempotency_key", step.CompensationKey()),
			slog.Int("seq", step.Seq),
			slog.String("product_id", step.ProductID),
		)

		err := credit(sctx, r.ledger, step, r.cfg.AdjustTimeout)
		switch {
		case err == nil:
			compensationsTotal.WithLabelValues("reconciled").Inc()
			step.Status = domain.StepStatusCompensated
			step.Error = ""
		case creditRetryable(err):
			log.WarnContext(sctx, "compensation retry failed", slog.String("error", err.Error()))
			step.Error = err.Error()
		default:
			compensationsTotal.WithLabelValues("rejected").Inc()
			log.ErrorContext(sctx, "compensation rejected by catalog, operator action required",
				slog.Int("quantity", step.Quantity),
				slog.String("error", err.Error()),
			)
			step.Status = domain.StepStatusCompensationRejected
			step.Error = err.Error()
		}

		if err := r.placements.UpdateStep(sctx, step); err != nil {
			log.ErrorContext(sctx, "failed to record reconciled step",
				slog.String("status", step.Status),
				slog.String("error", err.Error()),
			)
			continue
		}
		if step.Status == domain.StepStatusCompensated {
			compensated++
			touched[step.PlacementID] = struct{}{}
		}
	}

	for id := range touched {
		r.settle(ctx, id)
	}
	return compensated, nil
}

// creditRetryable reports whether a failed credit may succeed later: the
// catalog was unreachable, its circuit was open or it answered with a 5xx.
func creditRetryable(err error) bool {
	return errors.Is(err, catalog.ErrOutcomeUnknown) ||
		errors.Is(err, apperrors.ErrServiceUnavail) ||
		errors.Is(err, apperrors.ErrBadGateway) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *Reconciler) settle(ctx context.Context, placementID string) {
	p, err := r.placements.GetByID(ctx, placementID)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to load placement for settlement",
			slog.String("placement_id", placementID),
			slog.String("error", err.Error()),
		)
		return
	}
	if p.Status != domain.PlacementStatusReconciliationRequired || len(p.OutstandingSteps()) > 0 {
		return
	}

	p.Status = domain.PlacementStatusCompensated
	if err := r.placements.Update(ctx, p); err != nil {
		r.logger.ErrorContext(ctx, "failed to mark placement compensated",
			slog.String("placement_id", placementID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.logger.InfoContext(ctx, "placement fully compensated", slog.String("placement_id", placementID))
}
