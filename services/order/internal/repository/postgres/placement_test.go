package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/services/order/internal/domain"
)

var (
	placementColumns = []string{"id", "user_id", "status", "order_id", "failure_kind", "failure_reason", "created_at", "updated_at"}
	stepRowColumns   = []string{"placement_id", "seq", "product_id", "quantity", "idempotency_key", "status", "error", "created_at", "updated_at"}
)

func TestPlacementRepository_Create(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)
	p := domain.NewPlacement("pl-1", "user-1")

	mock.ExpectExec("INSERT INTO placements").
		WithArgs("pl-1", "user-1", domain.PlacementStatusStarted, p.CreatedAt, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlacementRepository_Update(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)
	p := domain.NewPlacement("pl-1", "user-1")
	p.Status = domain.PlacementStatusReconciliationRequired
	p.FailureKind = string(domain.KindInsufficientStock)
	p.FailureReason = "requested 3, available 2"

	mock.ExpectExec("UPDATE placements").
		WithArgs("pl-1", p.Status, p.OrderID, p.FailureKind, p.FailureReason, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Update(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlacementRepository_Update_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)

	mock.ExpectExec("UPDATE placements").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), domain.NewPlacement("missing", "u"))

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPlacementRepository_GetByID_WithSteps(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)
	now := time.Now().UTC()
	orderID := int64(42)

	mock.ExpectQuery("FROM placements").
		WithArgs("pl-1").
		WillReturnRows(pgxmock.NewRows(placementColumns).
			AddRow("pl-1", "user-1", "completed", &orderID, "", "", now, now))
	mock.ExpectQuery("FROM placement_steps").
		WithArgs("pl-1").
		WillReturnRows(pgxmock.NewRows(stepRowColumns).
			AddRow("pl-1", 1, "P1", 3, "pl-1:1:debit", "applied", "", now, now).
			AddRow("pl-1", 2, "P2", 1, "pl-1:2:debit", "applied", "", now, now))

	p, err := repo.GetByID(context.Background(), "pl-1")

	require.NoError(t, err)
	require.NotNil(t, p.OrderID)
	assert.Equal(t, int64(42), *p.OrderID)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "pl-1:2:debit", p.Steps[1].IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlacementRepository_GetByID_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)

	mock.ExpectQuery("FROM placements").
		WithArgs("pl-x").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "pl-x")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPlacementRepository_CreateStep(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)
	s := domain.NewStep("pl-1", 1, "P1", 3)

	mock.ExpectExec("INSERT INTO placement_steps").
		WithArgs("pl-1", 1, "P1", 3, "pl-1:1:debit", domain.StepStatusPending, "", s.CreatedAt, s.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.CreateStep(context.Background(), &s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlacementRepository_UpdateStep(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)
	s := domain.NewStep("pl-1", 1, "P1", 3)
	s.Status = domain.StepStatusUnknown
	s.Error = "context deadline exceeded"

	mock.ExpectExec("UPDATE placement_steps").
		WithArgs("pl-1", 1, domain.StepStatusUnknown, s.Error, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.UpdateStep(context.Background(), &s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlacementRepository_ListStepsByStatus(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)
	now := time.Now().UTC()

	mock.ExpectQuery("FROM placement_steps").
		WithArgs(domain.StepStatusCompensationFailed, 50).
		WillReturnRows(pgxmock.NewRows(stepRowColumns).
			AddRow("pl-1", 1, "P1", 3, "pl-1:1:debit", "compensation_failed", "catalog unavailable", now, now))

	steps, err := repo.ListStepsByStatus(context.Background(), domain.StepStatusCompensationFailed, 50)

	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "pl-1:1:credit", steps[0].CompensationKey())
}

func TestPlacementRepository_ListStepsByStatus_QueryError(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPlacementRepository(mock)

	mock.ExpectQuery("FROM placement_steps").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("timeout"))

	_, err := repo.ListStepsByStatus(context.Background(), domain.StepStatusCompensationFailed, 50)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "list placement steps")
}
