package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/shopline/commerce/pkg/errors"
)

// ErrIdempotencyKeyReused is returned when an idempotency key is presented
// again for a different product or delta.
var ErrIdempotencyKeyReused = errors.New("idempotency key reused")

// Product is a catalog entry together with its ledger quantity. Price is in
// minor currency units.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StockAdjustment records one relative change applied to a product's stock.
type StockAdjustment struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	Delta          int       `json:"delta"`
	ResultingStock int       `json:"resulting_stock"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// AdjustmentResult is returned by a stock adjustment. Replayed is true when
// the idempotency key had already been applied and the stored outcome is
// returned instead.
type AdjustmentResult struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
	Delta     int    `json:"delta"`
	Replayed  bool   `json:"replayed"`
}

// Adjustment reasons.
const (
	ReasonOrder        = "order"
	ReasonCompensation = "compensation"
	ReasonManual       = "manual"
)

// IsValidReason reports whether reason is a known adjustment reason.
func IsValidReason(reason string) bool {
	switch reason {
	case ReasonOrder, ReasonCompensation, ReasonManual:
		return true
	}
	return false
}

// ReasonForDelta picks the default reason when the caller gives none:
// decrements are order debits, increments are manual restocks.
func ReasonForDelta(delta int) string {
	if delta < 0 {
		return ReasonOrder
	}
	return ReasonManual
}

// Matches reports whether a stored adjustment was made for the same product
// and delta, i.e. whether reusing its idempotency key is a genuine replay.
func (a *StockAdjustment) Matches(productID string, delta int) bool {
	return a.ProductID == productID && a.Delta == delta
}

// IdempotencyKeyReused creates the 409 returned for a key that was already
// used for a different adjustment.
func IdempotencyKeyReused(key string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    "IDEMPOTENCY_KEY_REUSED",
		Message: fmt.Sprintf("idempotency key %q was already used for a different adjustment", key),
		Status:  http.StatusConflict,
		Err:     ErrIdempotencyKeyReused,
	}
}
