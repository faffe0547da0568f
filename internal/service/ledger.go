package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/spin-wheel/internal/model"
	"github.com/fairyhunter13/spin-wheel/pkg/database"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// LedgerRepositoryInterface defines data access for balances and spin history.
type LedgerRepositoryInterface interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	CountSpins(ctx context.Context, userID, wheelID int64, from, to time.Time) (int, error)
	LockBalance(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error)
	CountSpinsTx(ctx context.Context, tx database.TxQuerier, userID, wheelID int64, from, to time.Time) (int, error)
	SetBalance(ctx context.Context, tx database.TxQuerier, userID, balance int64) error
	InsertSpin(ctx context.Context, tx database.TxQuerier, rec *model.SpinRecord) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]model.SpinRecord, error)
	MarkClaimed(ctx context.Context, spinID, userID int64, at time.Time) error
}

// TxBeginner defines the interface for beginning transactions.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LedgerOptions tunes a Ledger. Zero values fall back to UTC, no timeout and time.Now.
type LedgerOptions struct {
	Location     *time.Location
	Timeout      time.Duration
	HistoryLimit int
	Now          func() time.Time
}

// Eligibility is the outcome of checking whether a user may spin a wheel right now.
type Eligibility struct {
	SpinsUsed      int
	SpinsRemaining int
	Balance        int64
	Required       int64
}

// Eligible reports whether both the daily quota and the balance allow a spin.
func (e Eligibility) Eligible() bool {
	return e.SpinsRemaining > 0 && e.Balance >= e.Required
}

// Err returns nil when eligible, otherwise an *IneligibleError.
// The daily limit is reported ahead of the balance when both fail.
func (e Eligibility) Err() error {
	if ie := e.failure(); ie != nil {
		return ie
	}
	return nil
}

func (e Eligibility) failure() *IneligibleError {
	switch {
	case e.SpinsRemaining <= 0:
		return &IneligibleError{Reason: ErrDailyLimitReached, SpinsRemaining: 0, Balance: e.Balance, Required: e.Required}
	case e.Balance < e.Required:
		return &IneligibleError{Reason: ErrInsufficientPoints, SpinsRemaining: e.SpinsRemaining, Balance: e.Balance, Required: e.Required}
	}
	return nil
}

func evaluate(wheel *model.Wheel, used int, balance int64) Eligibility {
	remaining := wheel.DailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return Eligibility{
		SpinsUsed:      used,
		SpinsRemaining: remaining,
		Balance:        balance,
		Required:       wheel.CostPoints,
	}
}

// CommitResult is what CommitSpin persisted.
type CommitResult struct {
	Record          model.SpinRecord
	PreviousBalance int64
	Balance         int64
	PointsAwarded   int64
	SpinsRemaining  int
}

// Ledger owns point balances and spin history.
type Ledger struct {
	pool         TxBeginner
	repo         LedgerRepositoryInterface
	loc          *time.Location
	timeout      time.Duration
	historyLimit int
	now          func() time.Time
}

// NewLedger creates a Ledger backed by the given pool and repository.
func NewLedger(pool *pgxpool.Pool, repo LedgerRepositoryInterface, opts LedgerOptions) *Ledger {
	return NewLedgerWithTxBeginner(pool, repo, opts)
}

// NewLedgerWithTxBeginner creates a Ledger with a custom TxBeginner.
// Primarily used for testing.
func NewLedgerWithTxBeginner(pool TxBeginner, repo LedgerRepositoryInterface, opts LedgerOptions) *Ledger {
	l := &Ledger{
		pool:         pool,
		repo:         repo,
		loc:          opts.Location,
		timeout:      opts.Timeout,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
	}
	if l.loc == nil {
		l.loc = time.UTC
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.historyLimit <= 0 {
		l.historyLimit = defaultHistoryLimit
	}
	return l
}

func (l *Ledger) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

// today returns the [start, end) bounds of the current day in the wheel's timezone.
func (l *Ledger) today(wheel *model.Wheel) (time.Time, time.Time) {
	loc := wheel.Location(l.loc)
	now := l.now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// CheckEligibility reads the committed spin count and balance and evaluates both gates.
// The returned error is only set for store failures; ineligibility is reported by Eligibility.Err.
func (l *Ledger) CheckEligibility(ctx context.Context, userID int64, wheel *model.Wheel) (Eligibility, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	from, to := l.today(wheel)

	var (
		used    int
		balance int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := l.repo.CountSpins(gctx, userID, wheel.ID, from, to)
		if err != nil {
			return storeError("count spins", err)
		}
		used = n
		return nil
	})
	g.Go(func() error {
		b, err := l.repo.GetBalance(gctx, userID)
		if err != nil {
			return storeError("get balance", err)
		}
		balance = b
		return nil
	})
	if err := g.Wait(); err != nil {
		return Eligibility{}, err
	}

	return evaluate(wheel, used, balance), nil
}

// SpinsRemainingToday returns daily_limit minus today's committed spins, floored at 0.
func (l *Ledger) SpinsRemainingToday(ctx context.Context, userID int64, wheel *model.Wheel) (int, error) {
	elig, err := l.CheckEligibility(ctx, userID, wheel)
	if err != nil {
		return 0, err
	}
	return elig.SpinsRemaining, nil
}

// CommitSpin atomically re-validates eligibility, debits the spin cost, credits a points
// prize and inserts the history row.
// The user's balance row is locked (SELECT FOR UPDATE) for the whole transaction, so
// concurrent spins of one user are serialized and each recount sees the previous commit.
// Returns a *RaceLostError when eligibility no longer holds.
func (l *Ledger) CommitSpin(ctx context.Context, userID int64, wheel *model.Wheel, prize *model.Prize) (*CommitResult, error) {
	credit, err := prize.Points()
	if err != nil {
		return nil, fmt.Errorf("prize %d: %w: %w", prize.ID, ErrInvalidPrize, err)
	}

	// Once started the commit runs to completion or timeout, regardless of the caller.
	ctx, cancel := l.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, storeError("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // Safe: no-op if committed

	// 1. Lock the balance row
	balance, err := l.repo.LockBalance(ctx, tx, userID)
	if err != nil {
		return nil, storeError("lock balance", err)
	}

	// 2. Recount today's spins under the lock
	from, to := l.today(wheel)
	used, err := l.repo.CountSpinsTx(ctx, tx, userID, wheel.ID, from, to)
	if err != nil {
		return nil, storeError("count spins", err)
	}

	elig := evaluate(wheel, used, balance)
	if ie := elig.failure(); ie != nil {
		return nil, &RaceLostError{Ineligible: ie}
	}

	// 3. Debit cost, credit points prize
	newBalance := balance - wheel.CostPoints + credit
	if err := l.repo.SetBalance(ctx, tx, userID, newBalance); err != nil {
		return nil, storeError("set balance", err)
	}

	// 4. Insert history
	prizeID := prize.ID
	rec := model.SpinRecord{
		UserID:     userID,
		WheelID:    wheel.ID,
		PrizeID:    &prizeID,
		PrizeName:  prize.Name,
		PrizeType:  prize.Type,
		PrizeValue: prize.Value,
		CostPoints: wheel.CostPoints,
		Status:     model.HistoryStatusWon,
		IsClaimed:  prize.Type.SettledOnSpin(),
		CreatedAt:  l.now(),
	}
	if rec.IsClaimed {
		claimedAt := rec.CreatedAt
		rec.ClaimedAt = &claimedAt
	}
	if err := l.repo.InsertSpin(ctx, tx, &rec); err != nil {
		return nil, storeError("insert spin", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("commit", err)
	}

	return &CommitResult{
		Record:          rec,
		PreviousBalance: balance,
		Balance:         newBalance,
		PointsAwarded:   credit,
		SpinsRemaining:  elig.SpinsRemaining - 1,
	}, nil
}

// Balance returns the user's point balance, zero if the user has none recorded.
func (l *Ledger) Balance(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	balance, err := l.repo.GetBalance(ctx, userID)
	if err != nil {
		return 0, storeError("get balance", err)
	}
	return balance, nil
}

// History returns the user's most recent spins, newest first.
// limit <= 0 uses the configured default; larger values are capped.
func (l *Ledger) History(ctx context.Context, userID int64, limit int) ([]model.SpinRecord, error) {
	if userID <= 0 {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 {
		limit = l.historyLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	records, err := l.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, storeError("list spins", err)
	}
	return records, nil
}

// MarkClaimed sets the claimed flag of one of the user's spins.
// Returns ErrSpinNotFound or ErrAlreadyClaimed.
func (l *Ledger) MarkClaimed(ctx context.Context, spinID, userID int64) error {
	if spinID <= 0 || userID <= 0 {
		return ErrInvalidRequest
	}

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	return storeError("mark claimed", l.repo.MarkClaimed(ctx, spinID, userID, l.now()))
}
