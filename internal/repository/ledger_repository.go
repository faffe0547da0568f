package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/spin-wheel/internal/model"
	"github.com/fairyhunter13/spin-wheel/internal/service"
	"github.com/fairyhunter13/spin-wheel/pkg/database"
)

const countSpinsQuery = `SELECT COUNT(*) FROM spin_history
	WHERE user_id = $1 AND wheel_id = $2 AND created_at >= $3 AND created_at < $4`

// LedgerRepository provides data access for point balances and spin history using pgx.
type LedgerRepository struct {
	pool PoolInterface
}

// NewLedgerRepository creates a new LedgerRepository with the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// NewLedgerRepositoryWithPool creates a new LedgerRepository with a custom pool interface.
// This is primarily used for testing.
func NewLedgerRepositoryWithPool(pool PoolInterface) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// GetBalance returns the user's balance, or 0 if the user has no balance row.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM user_points WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance for user %d: %w", userID, err)
	}
	return balance, nil
}

// CountSpins counts the user's committed spins on a wheel within [from, to).
func (r *LedgerRepository) CountSpins(ctx context.Context, userID, wheelID int64, from, to time.Time) (int, error) {
	return countSpins(ctx, r.pool, userID, wheelID, from, to)
}

// CountSpinsTx is CountSpins inside a transaction.
func (r *LedgerRepository) CountSpinsTx(ctx context.Context, tx database.TxQuerier, userID, wheelID int64, from, to time.Time) (int, error) {
	return countSpins(ctx, tx, userID, wheelID, from, to)
}

func countSpins(ctx context.Context, q database.TxQuerier, userID, wheelID int64, from, to time.Time) (int, error) {
	var n int
	if err := q.QueryRow(ctx, countSpinsQuery, userID, wheelID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("count spins for user %d: %w", userID, err)
	}
	return n, nil
}

// LockBalance ensures the user has a balance row and locks it (SELECT FOR UPDATE)
// until the transaction completes. Returns the locked balance.
func (r *LedgerRepository) LockBalance(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error) {
	_, err := tx.Exec(ctx,
		`INSERT INTO user_points (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("ensure balance row for user %d: %w", userID, err)
	}

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM user_points WHERE user_id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock balance for user %d: %w", userID, err)
	}
	return balance, nil
}

// SetBalance writes the user's balance. Must be called after LockBalance in the same transaction.
func (r *LedgerRepository) SetBalance(ctx context.Context, tx database.TxQuerier, userID, balance int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE user_points SET balance = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, balance)
	if err != nil {
		return fmt.Errorf("set balance for user %d: %w", userID, err)
	}
	return nil
}

// InsertSpin inserts a history row within a transaction and sets rec.ID.
func (r *LedgerRepository) InsertSpin(ctx context.Context, tx database.TxQuerier, rec *model.SpinRecord) error {
	query := `INSERT INTO spin_history
		(user_id, wheel_id, prize_id, prize_name, prize_type, prize_value, cost_points, status, is_claimed, claimed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err := tx.QueryRow(ctx, query,
		rec.UserID,
		rec.WheelID,
		rec.PrizeID,
		rec.PrizeName,
		string(rec.PrizeType),
		rec.PrizeValue,
		rec.CostPoints,
		rec.Status,
		rec.IsClaimed,
		rec.ClaimedAt,
		rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert spin: %w", err)
	}
	return nil
}

// ListByUser returns the user's most recent spins, newest first.
// On success, returns an empty slice (not nil) when the user has no spins.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]model.SpinRecord, error) {
	query := `SELECT id, user_id, wheel_id, prize_id, prize_name, prize_type, prize_value, cost_points,
		status, is_claimed, claimed_at, created_at
		FROM spin_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list spins for user %d: %w", userID, err)
	}
	defer rows.Close()

	records := []model.SpinRecord{}
	for rows.Next() {
		var rec model.SpinRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.WheelID,
			&rec.PrizeID,
			&rec.PrizeName,
			&rec.PrizeType,
			&rec.PrizeValue,
			&rec.CostPoints,
			&rec.Status,
			&rec.IsClaimed,
			&rec.ClaimedAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan spin: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spin rows: %w", err)
	}

	return records, nil
}

// MarkClaimed flags one of the user's spins as claimed.
// Returns service.ErrSpinNotFound if the spin does not belong to the user,
// service.ErrAlreadyClaimed if it was claimed before.
func (r *LedgerRepository) MarkClaimed(ctx context.Context, spinID, userID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE spin_history SET is_claimed = TRUE, claimed_at = $3
		WHERE id = $1 AND user_id = $2 AND NOT is_claimed`,
		spinID, userID, at)
	if err != nil {
		return fmt.Errorf("mark spin %d claimed: %w", spinID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var claimed bool
	err = r.pool.QueryRow(ctx,
		`SELECT is_claimed FROM spin_history WHERE id = $1 AND user_id = $2`,
		spinID, userID).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return service.ErrSpinNotFound
		}
		return fmt.Errorf("get spin %d: %w", spinID, err)
	}
	return service.ErrAlreadyClaimed
}
