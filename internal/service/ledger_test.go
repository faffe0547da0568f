package service

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/spin-wheel/internal/model"
	"github.com/fairyhunter13/spin-wheel/pkg/database"
)

// mockLedgerRepository is a mock implementation of LedgerRepositoryInterface.
type mockLedgerRepository struct {
	getBalanceFn   func(ctx context.Context, userID int64) (int64, error)
	countSpinsFn   func(ctx context.Context, userID, wheelID int64, from, to time.Time) (int, error)
	lockBalanceFn  func(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error)
	countSpinsTxFn func(ctx context.Context, tx database.TxQuerier, userID, wheelID int64, from, to time.Time) (int, error)
	setBalanceFn   func(ctx context.Context, tx database.TxQuerier, userID, balance int64) error
	insertSpinFn   func(ctx context.Context, tx database.TxQuerier, rec *model.SpinRecord) error
	listByUserFn   func(ctx context.Context, userID int64, limit int) ([]model.SpinRecord, error)
	markClaimedFn  func(ctx context.Context, spinID, userID int64, at time.Time) error
}

func (m *mockLedgerRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	if m.getBalanceFn != nil {
		return m.getBalanceFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockLedgerRepository) CountSpins(ctx context.Context, userID, wheelID int64, from, to time.Time) (int, error) {
	if m.countSpinsFn != nil {
		return m.countSpinsFn(ctx, userID, wheelID, from, to)
	}
	return 0, nil
}

func (m *mockLedgerRepository) LockBalance(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error) {
	if m.lockBalanceFn != nil {
		return m.lockBalanceFn(ctx, tx, userID)
	}
	return 0, nil
}

func (m *mockLedgerRepository) CountSpinsTx(ctx context.Context, tx database.TxQuerier, userID, wheelID int64, from, to time.Time) (int, error) {
	if m.countSpinsTxFn != nil {
		return m.countSpinsTxFn(ctx, tx, userID, wheelID, from, to)
	}
	return 0, nil
}

func (m *mockLedgerRepository) SetBalance(ctx context.Context, tx database.TxQuerier, userID, balance int64) error {
	if m.setBalanceFn != nil {
		return m.setBalanceFn(ctx, tx, userID, balance)
	}
	return nil
}

func (m *mockLedgerRepository) InsertSpin(ctx context.Context, tx database.TxQuerier, rec *model.SpinRecord) error {
	if m.insertSpinFn != nil {
		return m.insertSpinFn(ctx, tx, rec)
	}
	rec.ID = 1
	return nil
}

func (m *mockLedgerRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]model.SpinRecord, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID, limit)
	}
	return []model.SpinRecord{}, nil
}

func (m *mockLedgerRepository) MarkClaimed(ctx context.Context, spinID, userID int64, at time.Time) error {
	if m.markClaimedFn != nil {
		return m.markClaimedFn(ctx, spinID, userID, at)
	}
	return nil
}

func newTestLedger(pool TxBeginner, repo LedgerRepositoryInterface) *Ledger {
	return NewLedgerWithTxBeginner(pool, repo, LedgerOptions{Now: fixedClock})
}

func TestLedger_CheckEligibility_Eligible(t *testing.T) {
	repo := &mockLedgerRepository{
		getBalanceFn: func(ctx context.Context, userID int64) (int64, error) { return 500, nil },
		countSpinsFn: func(ctx context.Context, userID, wheelID int64, from, to time.Time) (int, error) { return 1, nil },
	}
	wheel := testWheel(100, 3)

	elig, err := newTestLedger(nil, repo).CheckEligibility(context.Background(), 7, &wheel)

	require.NoError(t, err)
	assert.True(t, elig.Eligible())
	assert.NoError(t, elig.Err())
	assert.Equal(t, 2, elig.SpinsRemaining)
	assert.Equal(t, int64(500), elig.Balance)
}

func TestLedger_CheckEligibility_DailyLimitReached(t *testing.T) {
	repo := &mockLedgerRepository{
		getBalanceFn: func(ctx context.Context, userID int64) (int64, error) { return 0, nil },
		countSpinsFn: func(ctx context.Context, userID, wheelID int64, from, to time.Time) (int, error) { return 5, nil },
	}
	wheel := testWheel(100, 3)

	elig, err := newTestLedger(nil, repo).CheckEligibility(context.Background(), 7, &wheel)

	require.NoError(t, err)
	assert.False(t, elig.Eligible())
	assert.Equal(t, 0, elig.SpinsRemaining, "remaining spins are floored at zero")
	assert.ErrorIs(t, elig.Err(), ErrDailyLimitReached, "daily limit is reported ahead of balance")
}

func TestLedger_CheckEligibility_InsufficientPoints(t *testing.T) {
	repo := &mockLedgerRepository{
		getBalanceFn: func(ctx context.Context, userID int64) (int64, error) { return 40, nil },
	}
	wheel := testWheel(100, 3)

	elig, err := newTestLedger(nil, repo).CheckEligibility(context.Background(), 7, &wheel)

	require.NoError(t, err)
	var ie *IneligibleError
	require.True(t, errors.As(elig.Err(), &ie))
	assert.ErrorIs(t, ie, ErrInsufficientPoints)
	assert.Equal(t, int64(60), ie.Shortfall())
	assert.Equal(t, 3, ie.SpinsRemaining)
}

func TestLedger_CheckEligibility_CountsWithinLocalDay(t *testing.T) {
	var gotFrom, gotTo time.Time
	repo := &mockLedgerRepository{
		countSpinsFn: func(ctx context.Context, userID, wheelID int64, from, to time.Time) (int, error) {
			gotFrom, gotTo = from, to
			return 0, nil
		},
	}
	wheel := testWheel(0, 1)
	wheel.Timezone = "Asia/Yangon" // UTC+06:30

	_, err := newTestLedger(nil, repo).CheckEligibility(context.Background(), 7, &wheel)
	require.NoError(t, err)

	// 15:30 UTC is 22:00 in Yangon, so the day started at 17:30 UTC the previous evening.
	assert.Equal(t, time.Date(2026, 10, 18, 17, 30, 0, 0, time.UTC), gotFrom.UTC())
	assert.Equal(t, 24*time.Hour, gotTo.Sub(gotFrom))
}

func TestLedger_CheckEligibility_StoreTimeout(t *testing.T) {
	repo := &mockLedgerRepository{
		getBalanceFn: func(ctx context.Context, userID int64) (int64, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
	}
	wheel := testWheel(100, 3)
	ledger := NewLedgerWithTxBeginner(nil, repo, LedgerOptions{Timeout: 20 * time.Millisecond})

	_, err := ledger.CheckEligibility(context.Background(), 7, &wheel)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestLedger_CommitSpin_Success(t *testing.T) {
	var setBalance int64
	var inserted model.SpinRecord
	repo := &mockLedgerRepository{
		lockBalanceFn: func(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error) { return 150, nil },
		setBalanceFn: func(ctx context.Context, tx database.TxQuerier, userID, balance int64) error {
			setBalance = balance
			return nil
		},
		insertSpinFn: func(ctx context.Context, tx database.TxQuerier, rec *model.SpinRecord) error {
			rec.ID = 42
			inserted = *rec
			return nil
		},
	}
	wheel := testWheel(100, 1)
	prize := pointsPrize(9, "50", 1)

	res, err := newTestLedger(&mockTxBeginner{}, repo).CommitSpin(context.Background(), 7, &wheel, &prize)

	require.NoError(t, err)
	assert.Equal(t, int64(100), setBalance, "150 - 100 + 50")
	assert.Equal(t, int64(100), res.Balance)
	assert.Equal(t, int64(150), res.PreviousBalance)
	assert.Equal(t, int64(50), res.PointsAwarded)
	assert.Equal(t, 0, res.SpinsRemaining)
	assert.Equal(t, int64(42), res.Record.ID)

	require.NotNil(t, inserted.PrizeID)
	assert.Equal(t, int64(9), *inserted.PrizeID)
	assert.Equal(t, "50 points", inserted.PrizeName)
	assert.Equal(t, model.PrizeTypePoints, inserted.PrizeType)
	assert.Equal(t, int64(100), inserted.CostPoints)
	assert.Equal(t, model.HistoryStatusWon, inserted.Status)
	assert.True(t, inserted.IsClaimed, "points are settled by the spin")
	assert.Equal(t, fixedNow, inserted.CreatedAt)
}

func TestLedger_CommitSpin_ClaimedStateByPrizeType(t *testing.T) {
	tests := []struct {
		name        string
		prize       model.Prize
		wantClaimed bool
	}{
		{"coupon waits for issuing", model.Prize{ID: 3, Name: "10% off", Type: model.PrizeTypeCoupon, Value: "10%", Weight: 1}, false},
		{"product awarded by the spin", model.Prize{ID: 4, Name: "Mug", Type: model.PrizeTypeProduct, Value: "88", Weight: 1}, true},
		{"message awarded by the spin", model.Prize{ID: 5, Name: "Try again", Type: model.PrizeTypeMessage, Weight: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inserted model.SpinRecord
			repo := &mockLedgerRepository{
				lockBalanceFn: func(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error) { return 100, nil },
				insertSpinFn: func(ctx context.Context, tx database.TxQuerier, rec *model.SpinRecord) error {
					inserted = *rec
					return nil
				},
			}
			wheel := testWheel(100, 1)

			res, err := newTestLedger(&mockTxBeginner{}, repo).CommitSpin(context.Background(), 7, &wheel, &tt.prize)

			require.NoError(t, err)
			assert.Equal(t, int64(0), res.Balance)
			assert.Equal(t, int64(0), res.PointsAwarded)
			assert.Equal(t, tt.wantClaimed, inserted.IsClaimed)
			if tt.wantClaimed {
				require.NotNil(t, inserted.ClaimedAt)
				assert.Equal(t, fixedNow, *inserted.ClaimedAt)
			} else {
				assert.Nil(t, inserted.ClaimedAt)
			}
		})
	}
}

func TestLedger_CommitSpin_RaceLostOnQuota(t *testing.T) {
	setCalled := false
	repo := &mockLedgerRepository{
		lockBalanceFn: func(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error) { return 1000, nil },
		countSpinsTxFn: func(ctx context.Context, tx database.TxQuerier, userID, wheelID int64, from, to time.Time) (int, error) {
			return 1, nil
		},
		setBalanceFn: func(ctx context.Context, tx database.TxQuerier, userID, balance int64) error {
			setCalled = true
			return nil
		},
	}
	wheel := testWheel(100, 1)
	prize := pointsPrize(9, "50", 1)

	_, err := newTestLedger(&mockTxBeginner{}, repo).CommitSpin(context.Background(), 7, &wheel, &prize)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEligibilityRaceLost)
	assert.ErrorIs(t, err, ErrDailyLimitReached)
	assert.False(t, setCalled, "balance must not change when the race is lost")
}

func TestLedger_CommitSpin_RaceLostOnBalance(t *testing.T) {
	repo := &mockLedgerRepository{
		lockBalanceFn: func(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error) { return 99, nil },
	}
	wheel := testWheel(100, 3)
	prize := pointsPrize(9, "50", 1)

	_, err := newTestLedger(&mockTxBeginner{}, repo).CommitSpin(context.Background(), 7, &wheel, &prize)

	var lost *RaceLostError
	require.True(t, errors.As(err, &lost))
	assert.ErrorIs(t, lost.Ineligible, ErrInsufficientPoints)
	assert.Equal(t, int64(1), lost.Ineligible.Shortfall())
}

func TestLedger_CommitSpin_BeginTxError(t *testing.T) {
	pool := &mockTxBeginner{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			return nil, errors.New("database connection pool exhausted")
		},
	}
	wheel := testWheel(0, 1)
	prize := pointsPrize(9, "50", 1)

	_, err := newTestLedger(pool, &mockLedgerRepository{}).CommitSpin(context.Background(), 7, &wheel, &prize)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestLedger_CommitSpin_InsertErrorRollsBack(t *testing.T) {
	rollbackCalled := false
	committed := false
	tx := &mockTx{
		rollbackFn: func(ctx context.Context) error {
			rollbackCalled = true
			return nil
		},
		commitFn: func(ctx context.Context) error {
			committed = true
			return nil
		},
	}
	pool := &mockTxBeginner{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
	repo := &mockLedgerRepository{
		insertSpinFn: func(ctx context.Context, tx database.TxQuerier, rec *model.SpinRecord) error {
			return errors.New("database insert timeout")
		},
	}
	wheel := testWheel(0, 1)
	prize := pointsPrize(9, "50", 1)

	_, err := newTestLedger(pool, repo).CommitSpin(context.Background(), 7, &wheel, &prize)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert spin")
	assert.True(t, rollbackCalled)
	assert.False(t, committed)
}

func TestLedger_CommitSpin_CommitError(t *testing.T) {
	commitErr := errors.New("database commit timeout")
	tx := &mockTx{commitFn: func(ctx context.Context) error { return commitErr }}
	pool := &mockTxBeginner{beginFn: func(ctx context.Context) (pgx.Tx, error) { return tx, nil }}
	wheel := testWheel(0, 1)
	prize := pointsPrize(9, "50", 1)

	_, err := newTestLedger(pool, &mockLedgerRepository{}).CommitSpin(context.Background(), 7, &wheel, &prize)

	require.Error(t, err)
	assert.ErrorIs(t, err, commitErr)
}

func TestLedger_CommitSpin_InvalidPointsValue(t *testing.T) {
	pool := &mockTxBeginner{
		beginFn: func(ctx context.Context) (pgx.Tx, error) {
			t.Fatal("no transaction expected for an invalid prize")
			return nil, nil
		},
	}
	wheel := testWheel(0, 1)
	prize := pointsPrize(9, "lots", 1)

	_, err := newTestLedger(pool, &mockLedgerRepository{}).CommitSpin(context.Background(), 7, &wheel, &prize)

	assert.ErrorIs(t, err, ErrInvalidPrize)
}

func TestLedger_CommitSpin_IgnoresCallerCancellation(t *testing.T) {
	store := newMemStore()
	store.setBalance(7, 100)
	ledger := NewLedgerWithTxBeginner(store, store, LedgerOptions{Now: fixedClock})
	wheel := testWheel(100, 1)
	prize := pointsPrize(9, "0", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := ledger.CommitSpin(ctx, 7, &wheel, &prize)

	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Balance)
	assert.Equal(t, 1, store.spinCount())
}

func TestLedger_History_ClampsLimit(t *testing.T) {
	var gotLimit int
	repo := &mockLedgerRepository{
		listByUserFn: func(ctx context.Context, userID int64, limit int) ([]model.SpinRecord, error) {
			gotLimit = limit
			return []model.SpinRecord{}, nil
		},
	}
	ledger := NewLedgerWithTxBeginner(nil, repo, LedgerOptions{HistoryLimit: 5})

	_, err := ledger.History(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, gotLimit)

	_, err = ledger.History(context.Background(), 7, 1000)
	require.NoError(t, err)
	assert.Equal(t, maxHistoryLimit, gotLimit)

	_, err = ledger.History(context.Background(), 0, 10)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLedger_MarkClaimed(t *testing.T) {
	store := newMemStore()
	store.setBalance(7, 100)
	ledger := NewLedgerWithTxBeginner(store, store, LedgerOptions{Now: fixedClock})
	wheel := testWheel(0, 2)
	coupon := model.Prize{ID: 3, Name: "10% off", Type: model.PrizeTypeCoupon, Value: "10%", Weight: 1}

	res, err := ledger.CommitSpin(context.Background(), 7, &wheel, &coupon)
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.MarkClaimed(context.Background(), res.Record.ID, 8), ErrSpinNotFound, "other users cannot claim")
	require.NoError(t, ledger.MarkClaimed(context.Background(), res.Record.ID, 7))
	assert.ErrorIs(t, ledger.MarkClaimed(context.Background(), res.Record.ID, 7), ErrAlreadyClaimed)
	assert.ErrorIs(t, ledger.MarkClaimed(context.Background(), 0, 7), ErrInvalidRequest)

	history, err := ledger.History(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsClaimed)
}
