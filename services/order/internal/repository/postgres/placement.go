package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/shopline/commerce/pkg/database"
	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/services/order/internal/domain"
)

const stepColumns = `placement_id, seq, product_id, quantity, idempotency_key, status, error, created_at, updated_at`

// PlacementRepository implements repository.PlacementRepository using PostgreSQL.
type PlacementRepository struct {
	pool database.DBTX
}

// NewPlacementRepository creates a new PostgreSQL-backed placement repository.
func NewPlacementRepository(pool database.DBTX) *PlacementRepository {
	return &PlacementRepository{pool: pool}
}

// Create inserts a new placement record.
func (r *PlacementRepository) Create(ctx context.Context, p *domain.Placement) (err error) {
	query := `
		INSERT INTO placements (id, user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	ctx, end := database.TraceQuery(ctx, "INSERT", "insert placement")
	defer func() { end(err) }()

	if _, err = r.pool.Exec(ctx, query, p.ID, p.UserID, p.Status, p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("insert placement: %w", err)
	}
	return nil
}

// Update writes the placement's outcome fields.
func (r *PlacementRepository) Update(ctx context.Context, p *domain.Placement) (err error) {
	query := `
		UPDATE placements
		SET status = $2, order_id = $3, failure_kind = $4, failure_reason = $5, updated_at = $6
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "UPDATE", "update placement")
	defer func() { end(err) }()

	p.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, query, p.ID, p.Status, p.OrderID, p.FailureKind, p.FailureReason, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update placement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("placement", p.ID)
	}
	return nil
}

// GetByID returns a placement together with its step log ordered by seq.
func (r *PlacementRepository) GetByID(ctx context.Context, id string) (_ *domain.Placement, err error) {
	query := `
		SELECT id, user_id, status, order_id, failure_kind, failure_reason, created_at, updated_at
		FROM placements
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "SELECT", "get placement")
	defer func() { end(err) }()

	var p domain.Placement
	err = r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.UserID,
		&p.Status,
		&p.OrderID,
		&p.FailureKind,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("placement", id)
		}
		return nil, fmt.Errorf("get placement by id: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+stepColumns+` FROM placement_steps WHERE placement_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query placement steps: %w", err)
	}
	p.Steps, err = scanSteps(rows)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// CreateStep records a step as issued, before its ledger call goes out.
func (r *PlacementRepository) CreateStep(ctx context.Context, s *domain.PlacementStep) (err error) {
	query := `
		INSERT INTO placement_steps (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	ctx, end := database.TraceQuery(ctx, "INSERT", "insert placement step")
	defer func() { end(err) }()

	_, err = r.pool.Exec(ctx, query,
		s.PlacementID,
		s.Seq,
		s.ProductID,
		s.Quantity,
		s.IdempotencyKey,
		s.Status,
		s.Error,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, "placement_steps_pkey") {
			return apperrors.AlreadyExists("placement step", "seq", strconv.Itoa(s.Seq))
		}
		return fmt.Errorf("insert placement step: %w", err)
	}
	return nil
}

// UpdateStep writes the step's status and error message.
func (r *PlacementRepository) UpdateStep(ctx context.Context, s *domain.PlacementStep) (err error) {
	query := `
		UPDATE placement_steps
		SET status = $3, error = $4, updated_at = $5
		WHERE placement_id = $1 AND seq = $2`

	ctx, end := database.TraceQuery(ctx, "UPDATE", "update placement step")
	defer func() { end(err) }()

	s.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, query, s.PlacementID, s.Seq, s.Status, s.Error, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update placement step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("placement step", s.IdempotencyKey)
	}
	return nil
}

// ListStepsByStatus returns up to limit steps in status, least recently
// updated first.
func (r *PlacementRepository) ListStepsByStatus(ctx context.Context, status string, limit int) (_ []domain.PlacementStep, err error) {
	query := `SELECT ` + stepColumns + `
		FROM placement_steps
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2`

	ctx, end := database.TraceQuery(ctx, "SELECT", "list placement steps by status")
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list placement steps: %w", err)
	}
	return scanSteps(rows)
}

func scanSteps(rows pgx.Rows) ([]domain.PlacementStep, error) {
	defer rows.Close()

	steps := make([]domain.PlacementStep, 0)
	for rows.Next() {
		var s domain.PlacementStep
		if err := rows.Scan(
			&s.PlacementID,
			&s.Seq,
			&s.ProductID,
			&s.Quantity,
			&s.IdempotencyKey,
			&s.Status,
			&s.Error,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan placement step: %w", err)
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placement steps: %w", err)
	}
	return steps, nil
}
