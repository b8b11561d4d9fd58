package domain

import (
	"errors"
	"fmt"

	apperrors "github.com/shopline/commerce/pkg/errors"
)

// FailureKind classifies why a placement failed.
type FailureKind string

const (
	KindInvalidRequest        FailureKind = "invalid_request"
	KindProductLookupFailed   FailureKind = "product_lookup_failed"
	KindInsufficientStock     FailureKind = "insufficient_stock"
	KindStockAdjustmentFailed FailureKind = "stock_adjustment_failed"
	KindPersistenceFailed     FailureKind = "persistence_failed"
)

// PlacementError is the tagged failure of a place-order attempt. Err holds the
// underlying cause, usually an *apperrors.AppError from the catalog or store.
type PlacementError struct {
	Kind        FailureKind
	PlacementID string
	ProductID   string
	Requested   int
	Available   int

	// Partial is set when the attempt left stock decrements behind that were
	// not compensated.
	Partial bool

	Err error
}

func (e *PlacementError) Error() string {
	msg := string(e.Kind)
	if e.ProductID != "" {
		msg += fmt.Sprintf(" (product %s)", e.ProductID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// ProductNotFound reports whether the catalog answered that the product does
// not exist, as opposed to being unreachable.
func (e *PlacementError) ProductNotFound() bool {
	return e.Kind == KindProductLookupFailed && errors.Is(e.Err, apperrors.ErrNotFound)
}

// StockRejected reports whether the failure was a stock shortfall, either seen
// on the product read or returned by the ledger on decrement.
func (e *PlacementError) StockRejected() bool {
	return errors.Is(e.Err, apperrors.ErrInsufficientStock)
}

// Retryable reports whether the same request may succeed if sent again later.
// Stock shortfalls and bad input will not; an unreachable catalog or store may.
func (e *PlacementError) Retryable() bool {
	switch e.Kind {
	case KindInvalidRequest, KindInsufficientStock:
		return false
	case KindProductLookupFailed:
		return !e.ProductNotFound()
	case KindStockAdjustmentFailed:
		return !e.StockRejected() && !errors.Is(e.Err, apperrors.ErrNotFound)
	default:
		return true
	}
}

// AsPlacementError unwraps err into a *PlacementError.
func AsPlacementError(err error) (*PlacementError, bool) {
	var pe *PlacementError
	ok := errors.As(err, &pe)
	return pe, ok
}
