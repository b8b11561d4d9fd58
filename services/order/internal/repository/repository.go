package repository

import (
	"context"

	"github.com/shopline/commerce/services/order/internal/domain"
)

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	UserID  *string
	Status  *string
	Page    int
	PerPage int
}

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// CreateWithItems inserts the order and its items in one transaction and
	// fills in the generated ids and timestamps. When the order carries a
	// placement id the placement is marked completed in the same transaction.
	CreateWithItems(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order by its identifier, including items.
	GetByID(ctx context.Context, id int64) (*domain.Order, error)

	// List returns orders matching the filter, newest first, with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// UpdateStatus sets the order status and refreshes updated_at.
	UpdateStatus(ctx context.Context, id int64, status string) error
}

// PlacementRepository persists placement attempts and their step log.
type PlacementRepository interface {
	Create(ctx context.Context, p *domain.Placement) error
	Update(ctx context.Context, p *domain.Placement) error
	GetByID(ctx context.Context, id string) (*domain.Placement, error)

	CreateStep(ctx context.Context, step *domain.PlacementStep) error
	UpdateStep(ctx context.Context, step *domain.PlacementStep) error

	// ListStepsByStatus returns up to limit steps in the given status, oldest
	// update first.
	ListStepsByStatus(ctx context.Context, status string, limit int) ([]domain.PlacementStep, error)
}
