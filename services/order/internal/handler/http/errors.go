package http

import (
	"errors"
	"net/http"

	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/services/order/internal/domain"
)

// placementFailure converts a failed placement into the API error the client
// sees. Every kind keeps its own code; the status says who is at fault.
func placementFailure(perr *domain.PlacementError) *apperrors.AppError {
	appErr := &apperrors.AppError{Err: perr}

	switch perr.Kind {
	case domain.KindInvalidRequest:
		appErr.Code = "INVALID_INPUT"
		appErr.Status = http.StatusBadRequest
		appErr.Message = causeMessage(perr.Err)
	case domain.KindProductLookupFailed:
		appErr.Code = "PRODUCT_LOOKUP_FAILED"
		if perr.ProductNotFound() {
			appErr.Status = http.StatusUnprocessableEntity
			appErr.Message = "product " + perr.ProductID + " does not exist"
		} else {
			appErr.Status = http.StatusBadGateway
			appErr.Message = "catalog could not be reached for product " + perr.ProductID
		}
	case domain.KindInsufficientStock:
		appErr.Code = "INSUFFICIENT_STOCK"
		appErr.Status = http.StatusConflict
		appErr.Message = causeMessage(perr.Err)
	case domain.KindStockAdjustmentFailed:
		appErr.Code = "STOCK_ADJUSTMENT_FAILED"
		switch {
		case perr.StockRejected():
			appErr.Status = http.StatusConflict
			appErr.Message = "stock for product " + perr.ProductID + " changed before it could be reserved"
		case errors.Is(perr.Err, apperrors.ErrNotFound):
			appErr.Status = http.StatusUnprocessableEntity
			appErr.Message = "product " + perr.ProductID + " no longer exists"
		default:
			appErr.Status = http.StatusBadGateway
			appErr.Message = "stock for product " + perr.ProductID + " could not be adjusted"
		}
	default:
		appErr.Code = "PERSISTENCE_FAILED"
		appErr.Status = http.StatusInternalServerError
		appErr.Message = "order could not be stored"
	}

	appErr.Details = map[string]any{
		"kind":                string(perr.Kind),
		"retryable":           perr.Retryable(),
		"partial_application": perr.Partial,
	}
	if perr.PlacementID != "" {
		appErr.Details["placement_id"] = perr.PlacementID
	}
	if perr.ProductID != "" {
		appErr.Details["product_id"] = perr.ProductID
		appErr.Details["requested"] = perr.Requested
		if perr.StockRejected() {
			appErr.Details["available"] = perr.Available
		}
	}
	return appErr
}

func causeMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
