package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fairyhunter13/spin-wheel/internal/model"
	"github.com/fairyhunter13/spin-wheel/pkg/database"
)

// mockTx is a mock implementation of pgx.Tx for testing transactions.
type mockTx struct {
	commitFn   func(ctx context.Context) error
	rollbackFn func(ctx context.Context) error
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions not supported")
}

func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitFn != nil {
		return m.commitFn(ctx)
	}
	return nil
}

func (m *mockTx) Rollback(ctx context.Context) error {
	if m.rollbackFn != nil {
		return m.rollbackFn(ctx)
	}
	return nil
}

func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	return nil
}

func (m *mockTx) LargeObjects() pgx.LargeObjects {
	return pgx.LargeObjects{}
}

func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (m *mockTx) Conn() *pgx.Conn {
	return nil
}

// mockTxBeginner is a mock implementation of TxBeginner.
type mockTxBeginner struct {
	beginFn func(ctx context.Context) (pgx.Tx, error)
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	if m.beginFn != nil {
		return m.beginFn(ctx)
	}
	return &mockTx{}, nil
}

// memStore is an in-memory ledger. A transaction holds txLock from Begin until Commit or
// Rollback, standing in for the row lock on the user's balance, and buffers its writes
// until Commit.
type memStore struct {
	txLock sync.Mutex

	mu       sync.Mutex
	balances map[int64]int64
	spins    []model.SpinRecord
	nextID   int64

	insertErr error
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{balances: make(map[int64]int64)}
}

func (s *memStore) setBalance(userID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *memStore) balance(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memStore) spinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spins)
}

// memTx buffers writes of one transaction.
type memTx struct {
	mockTx
	store    *memStore
	done     bool
	balances map[int64]int64
	spins    []model.SpinRecord
}

func (s *memStore) Begin(ctx context.Context) (pgx.Tx, error) {
	s.txLock.Lock()
	tx := &memTx{store: s, balances: make(map[int64]int64)}
	tx.commitFn = tx.commit
	tx.rollbackFn = tx.rollback
	return tx, nil
}

func (t *memTx) commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	if t.store.commitErr != nil {
		return t.rollback(ctx)
	}
	t.store.mu.Lock()
	for user, balance := range t.balances {
		t.store.balances[user] = balance
	}
	t.store.spins = append(t.store.spins, t.spins...)
	t.store.mu.Unlock()

	t.done = true
	t.store.txLock.Unlock()
	return nil
}

func (t *memTx) rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txLock.Unlock()
	if t.store.commitErr != nil {
		return t.store.commitErr
	}
	return nil
}

func countSpins(spins []model.SpinRecord, userID, wheelID int64, from, to time.Time) int {
	n := 0
	for _, r := range spins {
		if r.UserID == userID && r.WheelID == wheelID && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			n++
		}
	}
	return n
}

func (s *memStore) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.balance(userID), nil
}

func (s *memStore) CountSpins(ctx context.Context, userID, wheelID int64, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countSpins(s.spins, userID, wheelID, from, to), nil
}

func (s *memStore) LockBalance(ctx context.Context, tx database.TxQuerier, userID int64) (int64, error) {
	return s.balance(userID), nil
}

func (s *memStore) CountSpinsTx(ctx context.Context, tx database.TxQuerier, userID, wheelID int64, from, to time.Time) (int, error) {
	mt := tx.(*memTx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return countSpins(s.spins, userID, wheelID, from, to) + countSpins(mt.spins, userID, wheelID, from, to), nil
}

func (s *memStore) SetBalance(ctx context.Context, tx database.TxQuerier, userID, balance int64) error {
	tx.(*memTx).balances[userID] = balance
	return nil
}

func (s *memStore) InsertSpin(ctx context.Context, tx database.TxQuerier, rec *model.SpinRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	s.nextID++
	rec.ID = s.nextID
	s.mu.Unlock()

	mt := tx.(*memTx)
	mt.spins = append(mt.spins, *rec)
	return nil
}

func (s *memStore) ListByUser(ctx context.Context, userID int64, limit int) ([]model.SpinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := []model.SpinRecord{}
	for i := len(s.spins) - 1; i >= 0 && len(records) < limit; i-- {
		if s.spins[i].UserID == userID {
			records = append(records, s.spins[i])
		}
	}
	return records, nil
}

func (s *memStore) MarkClaimed(ctx context.Context, spinID, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.spins {
		if s.spins[i].ID != spinID || s.spins[i].UserID != userID {
			continue
		}
		if s.spins[i].IsClaimed {
			return ErrAlreadyClaimed
		}
		s.spins[i].IsClaimed = true
		s.spins[i].ClaimedAt = &at
		return nil
	}
	return ErrSpinNotFound
}

// staticWheels serves a fixed configuration.
type staticWheels struct {
	cfg   *model.WheelConfig
	err   error
	calls int
	mu    sync.Mutex
}

func (s *staticWheels) Load(ctx context.Context, wheelID *int64) (*model.WheelConfig, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if wheelID != nil && *wheelID != s.cfg.Wheel.ID {
		return nil, ErrNoActiveWheel
	}
	return s.cfg, nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []SpinCompleted
	onPub  func(evt SpinCompleted)
}

func (r *recordingPublisher) Publish(ctx context.Context, evt SpinCompleted) {
	if r.onPub != nil {
		r.onPub(evt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func pointsPrize(id int64, value string, weight int) model.Prize {
	return model.Prize{ID: id, WheelID: 1, Name: value + " points", Type: model.PrizeTypePoints, Value: value, Weight: weight, IsActive: true}
}

func testWheel(cost int64, limit int) model.Wheel {
	return model.Wheel{ID: 1, Name: "Daily Wheel", CostPoints: cost, DailyLimit: limit, IsActive: true, IsDefault: true}
}

var fixedNow = time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }
