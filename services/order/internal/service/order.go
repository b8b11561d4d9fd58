package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/pkg/pagination"
	"github.com/shopline/commerce/services/order/internal/domain"
	"github.com/shopline/commerce/services/order/internal/event"
	"github.com/shopline/commerce/services/order/internal/repository"
)

// OrderService implements reads and administrative updates of placed orders.
type OrderService struct {
	repo       repository.OrderRepository
	placements repository.PlacementRepository
	producer   *event.Producer
	logger     *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	repo repository.OrderRepository,
	placements repository.PlacementRepository,
	producer *event.Producer,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		repo:       repo,
		placements: placements,
		producer:   producer,
		logger:     logger,
	}
}

// GetOrder retrieves an order by its ID.
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return order, nil
}

// ListOrders returns all orders newest first, optionally filtered by status.
func (s *OrderService) ListOrders(ctx context.Context, status string, page pagination.Params) ([]domain.Order, int, error) {
	filter := repository.OrderFilter{Page: page.Page, PerPage: page.PerPage}
	if status != "" {
		if !domain.IsValidStatus(status) {
			return nil, 0, invalidStatus(status)
		}
		filter.Status = &status
	}

	orders, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// ListUserOrders returns a user's orders newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID string, page pagination.Params) ([]domain.Order, int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, 0, apperrors.InvalidInput("user_id is required")
	}

	orders, total, err := s.repo.List(ctx, repository.OrderFilter{
		UserID:  &userID,
		Page:    page.Page,
		PerPage: page.PerPage,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list user orders: %w", err)
	}
	return orders, total, nil
}

// UpdateOrderStatus sets the order's status. Any valid status may follow any
// other; placement never calls this.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id int64, newStatus string) (*domain.Order, error) {
	if !domain.IsValidStatus(newStatus) {
		return nil, invalidStatus(newStatus)
	}

	order, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order for status update: %w", err)
	}
	oldStatus := order.Status

	if err := s.repo.UpdateStatus(ctx, id, newStatus); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload order after status update: %w", err)
	}

	if oldStatus != newStatus {
		if err := s.producer.PublishOrderStatusChanged(ctx, id, oldStatus, newStatus); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
				slog.Int64("order_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "order status updated",
		slog.Int64("order_id", id),
		slog.String("old_status", oldStatus),
		slog.String("new_status", newStatus),
	)

	return updated, nil
}

// GetPlacement returns a placement attempt with its step log.
func (s *OrderService) GetPlacement(ctx context.Context, id string) (*domain.Placement, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("placement", id)
	}

	placement, err := s.placements.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get placement: %w", err)
	}
	return placement, nil
}

func invalidStatus(status string) *apperrors.AppError {
	e := apperrors.InvalidStatus(status)
	e.Message = fmt.Sprintf("invalid status %q, must be one of: %s", status, strings.Join(domain.ValidStatuses(), ", "))
	return e
}
