package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/spin-wheel/internal/model"
	"github.com/fairyhunter13/spin-wheel/internal/service"
)

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const wheelColumns = `id, name, description, cost_points, daily_limit, is_active, is_default, timezone, updated_at`

// WheelRepository provides read access to wheels and prizes using pgx.
type WheelRepository struct {
	pool PoolInterface
}

// NewWheelRepository creates a new WheelRepository with the given pool.
func NewWheelRepository(pool *pgxpool.Pool) *WheelRepository {
	return &WheelRepository{pool: pool}
}

// NewWheelRepositoryWithPool creates a new WheelRepository with a custom pool interface.
// This is primarily used for testing.
func NewWheelRepositoryWithPool(pool PoolInterface) *WheelRepository {
	return &WheelRepository{pool: pool}
}

// GetActiveByID retrieves an active wheel by id.
// Returns nil, nil if no active wheel has that id.
func (r *WheelRepository) GetActiveByID(ctx context.Context, id int64) (*model.Wheel, error) {
	query := `SELECT ` + wheelColumns + ` FROM spin_wheels WHERE id = $1 AND is_active`
	return r.getWheel(ctx, fmt.Sprintf("get wheel %d", id), query, id)
}

// GetActiveDefault retrieves the newest active wheel flagged as default.
// Returns nil, nil if there is none.
func (r *WheelRepository) GetActiveDefault(ctx context.Context) (*model.Wheel, error) {
	query := `SELECT ` + wheelColumns + ` FROM spin_wheels WHERE is_active AND is_default ORDER BY id DESC LIMIT 1`
	return r.getWheel(ctx, "get default wheel", query)
}

// GetLatestActive retrieves the newest active wheel.
// Returns nil, nil if no wheel is active.
func (r *WheelRepository) GetLatestActive(ctx context.Context) (*model.Wheel, error) {
	query := `SELECT ` + wheelColumns + ` FROM spin_wheels WHERE is_active ORDER BY id DESC LIMIT 1`
	return r.getWheel(ctx, "get latest active wheel", query)
}

func (r *WheelRepository) getWheel(ctx context.Context, op, query string, args ...any) (*model.Wheel, error) {
	var w model.Wheel
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&w.ID,
		&w.Name,
		&w.Description,
		&w.CostPoints,
		&w.DailyLimit,
		&w.IsActive,
		&w.IsDefault,
		&w.Timezone,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found - let service handle
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("%w: wheel %d: %w", service.ErrInvalidWheel, w.ID, err)
	}
	return &w, nil
}

// GetActivePrizes retrieves the active prizes of a wheel ordered by display_order, then id.
// On success, returns an empty slice (not nil) when the wheel has no active prizes.
func (r *WheelRepository) GetActivePrizes(ctx context.Context, wheelID int64) ([]model.Prize, error) {
	query := `SELECT id, wheel_id, name, prize_type, prize_value, probability_weight, color, icon, display_order, is_active
		FROM spin_prizes
		WHERE wheel_id = $1 AND is_active
		ORDER BY display_order ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, wheelID)
	if err != nil {
		return nil, fmt.Errorf("get prizes for wheel %d: %w", wheelID, err)
	}
	defer rows.Close()

	prizes := []model.Prize{}
	for rows.Next() {
		var p model.Prize
		if err := rows.Scan(
			&p.ID,
			&p.WheelID,
			&p.Name,
			&p.Type,
			&p.Value,
			&p.Weight,
			&p.Color,
			&p.Icon,
			&p.DisplayOrder,
			&p.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan prize: %w", err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: prize %d: %w", service.ErrInvalidPrize, p.ID, err)
		}
		prizes = append(prizes, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prize rows: %w", err)
	}

	return prizes, nil
}
