package domain

import (
	"time"

	"github.com/shopline/commerce/pkg/idempotency"
)

// Placement status constants.
const (
	PlacementStatusStarted                = "started"
	PlacementStatusCompleted              = "completed"
	PlacementStatusFailed                 = "failed"
	PlacementStatusCompensated            = "compensated"
	PlacementStatusReconciliationRequired = "reconciliation_required"
)

// Step status constants. A step starts pending and becomes applied, failed or
// unknown once its decrement returns; applied steps may later be compensated.
// A compensation the ledger refuses outright ends compensation_rejected and
// is left for an operator.
const (
	StepStatusPending              = "pending"
	StepStatusApplied              = "applied"
	StepStatusFailed               = "failed"
	StepStatusUnknown              = "unknown"
	StepStatusCompensated          = "compensated"
	StepStatusCompensationFailed   = "compensation_failed"
	StepStatusCompensationRejected = "compensation_rejected"
)

// Placement is the durable record of one place-order attempt.
type Placement struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Status        string          `json:"status"`
	OrderID       *int64          `json:"order_id,omitempty"`
	FailureKind   string          `json:"failure_kind,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Steps         []PlacementStep `json:"steps"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PlacementStep records one stock decrement issued by a placement.
type PlacementStep struct {
	PlacementID    string    `json:"placement_id"`
	Seq            int       `json:"seq"`
	ProductID      string    `json:"product_id"`
	Quantity       int       `json:"quantity"`
	IdempotencyKey string    `json:"idempotency_key"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewPlacement returns a started placement.
func NewPlacement(id, userID string) *Placement {
	now := time.Now().UTC()
	return &Placement{
		ID:        id,
		UserID:    userID,
		Status:    PlacementStatusStarted,
		Steps:     []PlacementStep{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewStep returns the pending step for the seq-th line item (1-based).
func NewStep(placementID string, seq int, productID string, quantity int) PlacementStep {
	now := time.Now().UTC()
	return PlacementStep{
		PlacementID:    placementID,
		Seq:            seq,
		ProductID:      productID,
		Quantity:       quantity,
		IdempotencyKey: idempotency.StepKey(placementID, seq, idempotency.Debit),
		Status:         StepStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// CompensationKey is the key of the credit that reverses this step.
func (s *PlacementStep) CompensationKey() string {
	return idempotency.StepKey(s.PlacementID, s.Seq, idempotency.Credit)
}

// Outstanding reports whether the step may have left a ledger write in place
// that nothing has reversed yet.
func (s *PlacementStep) Outstanding() bool {
	switch s.Status {
	case StepStatusApplied, StepStatusUnknown, StepStatusCompensationFailed, StepStatusCompensationRejected:
		return true
	}
	return false
}

// OutstandingSteps returns the steps that still need reconciliation.
func (p *Placement) OutstandingSteps() []PlacementStep {
	var out []PlacementStep
	for _, s := range p.Steps {
		if s.Outstanding() {
			out = append(out, s)
		}
	}
	return out
}
