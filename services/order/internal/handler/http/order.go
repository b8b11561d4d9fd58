package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopline/commerce/pkg/httputil"
	"github.com/shopline/commerce/pkg/pagination"
	"github.com/shopline/commerce/pkg/validator"
	"github.com/shopline/commerce/services/order/internal/domain"
	"github.com/shopline/commerce/services/order/internal/service"
)

const maxBodyBytes = 1 << 20

// OrderHandler handles HTTP requests for order and placement endpoints.
type OrderHandler struct {
	orders     *service.OrderService
	placements *service.PlacementService
	logger     *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(orders *service.OrderService, placements *service.PlacementService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:     orders,
		placements: placements,
		logger:     logger,
	}
}

// --- Request DTOs ---

// PlaceOrderItemRequest is one requested line.
type PlaceOrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// PlaceOrderRequest is the JSON request body for placing an order.
type PlaceOrderRequest struct {
	UserID string                  `json:"user_id" validate:"required,max=255"`
	Items  []PlaceOrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// UpdateStatusRequest is the JSON request body for updating order status.
// The value itself is checked by the service so unknown statuses get INVALID_STATUS.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// --- Handlers ---

// PlaceOrder handles POST /api/v1/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req PlaceOrderRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	items := make([]service.PlaceOrderItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.PlaceOrderItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	order, err := h.placements.PlaceOrder(r.Context(), service.PlaceOrderInput{
		UserID: req.UserID,
		Items:  items,
	})
	if err != nil {
		if perr, ok := domain.AsPlacementError(err); ok {
			err = placementFailure(perr)
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.FromRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	orders, total, err := h.orders.ListOrders(r.Context(), r.URL.Query().Get("status"), page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(orders, total, page.Page, page.PerPage))
}

// ListUserOrders handles GET /api/v1/orders/user/{user_id}
func (h *OrderHandler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pagination.FromRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	orders, total, err := h.orders.ListUserOrders(r.Context(), chi.URLParam(r, "user_id"), page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(orders, total, page.Page, page.PerPage))
}

// UpdateOrderStatus handles PATCH /api/v1/orders/{id}/status
func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req UpdateStatusRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	order, err := h.orders.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// GetPlacement handles GET /api/v1/placements/{id}
func (h *OrderHandler) GetPlacement(w http.ResponseWriter, r *http.Request) {
	placement, err := h.orders.GetPlacement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: placement})
}
