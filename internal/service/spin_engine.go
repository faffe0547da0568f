package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/spin-wheel/internal/model"
)

const tracerName = "github.com/fairyhunter13/spin-wheel/internal/service"

// WheelSource supplies wheel configuration snapshots.
type WheelSource interface {
	Load(ctx context.Context, wheelID *int64) (*model.WheelConfig, error)
}

// LedgerInterface defines the eligibility and commit operations the engine needs.
type LedgerInterface interface {
	CheckEligibility(ctx context.Context, userID int64, wheel *model.Wheel) (Eligibility, error)
	CommitSpin(ctx context.Context, userID int64, wheel *model.Wheel, prize *model.Prize) (*CommitResult, error)
}

// EventPublisher delivers SpinCompleted events.
type EventPublisher interface {
	Publish(ctx context.Context, evt SpinCompleted)
}

// SpinEngine runs spin transactions.
type SpinEngine struct {
	wheels   WheelSource
	ledger   LedgerInterface
	selector *Selector
	events   EventPublisher
	tracer   trace.Tracer
	now      func() time.Time
}

// NewSpinEngine creates a SpinEngine. events may be nil.
func NewSpinEngine(wheels WheelSource, ledger LedgerInterface, selector *Selector, events EventPublisher) *SpinEngine {
	if selector == nil {
		selector = NewSelector(nil)
	}
	return &SpinEngine{
		wheels:   wheels,
		ledger:   ledger,
		selector: selector,
		events:   events,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
}

// ExecuteSpin runs one spin for the user. A nil wheelID spins the default wheel.
// Returns:
//   - ErrNoActiveWheel if no matching active wheel exists
//   - *IneligibleError (ErrDailyLimitReached, ErrInsufficientPoints) if the user may not spin,
//     including when a concurrent spin took the last slot or points
//   - ErrNoPrizesAvailable if no active prize has a positive weight
//   - an error matching ErrStoreUnavailable on store timeouts
func (e *SpinEngine) ExecuteSpin(ctx context.Context, userID int64, wheelID *int64) (*model.SpinResult, error) {
	if userID <= 0 || (wheelID != nil && *wheelID <= 0) {
		return nil, ErrInvalidRequest
	}

	ctx, span := e.tracer.Start(ctx, "SpinEngine.ExecuteSpin", trace.WithAttributes(
		attribute.Int64("user_id", userID),
	))
	defer span.End()

	result, err := e.executeSpin(ctx, userID, wheelID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("wheel_id", result.WheelID),
		attribute.Int64("spin_id", result.SpinID),
	)
	return result, nil
}

func (e *SpinEngine) executeSpin(ctx context.Context, userID int64, wheelID *int64) (*model.SpinResult, error) {
	// 1. Resolve wheel
	cfg, err := e.wheels.Load(ctx, wheelID)
	if err != nil {
		return nil, err
	}
	wheel := cfg.Wheel

	// 2. Fast eligibility gate
	elig, err := e.ledger.CheckEligibility(ctx, userID, &wheel)
	if err != nil {
		return nil, err
	}
	if ie := elig.failure(); ie != nil {
		logRejected(userID, wheel.ID, ie)
		return nil, ie
	}

	// 3+4. Weighted selection
	prize, err := e.selector.Select(cfg.Prizes)
	if err != nil {
		return nil, err
	}

	// 5. Commit
	committed, err := e.commit(ctx, userID, &wheel, &prize)
	if err != nil {
		var lost *RaceLostError
		if errors.As(err, &lost) {
			logRejected(userID, wheel.ID, lost.Ineligible)
			return nil, lost.Ineligible
		}
		return nil, err
	}

	// 6. Result
	snapshot := prize.Snapshot()
	details := prize.Details(committed.Balance)
	snapshot.Details = &details
	result := &model.SpinResult{
		SpinID:          committed.Record.ID,
		UserID:          userID,
		WheelID:         wheel.ID,
		Prize:           snapshot,
		PointsSpent:     wheel.CostPoints,
		PointsAwarded:   committed.PointsAwarded,
		PreviousBalance: committed.PreviousBalance,
		Balance:         committed.Balance,
		SpinsRemaining:  committed.SpinsRemaining,
		PrizeAwarded:    committed.Record.IsClaimed,
		CreatedAt:       committed.Record.CreatedAt,
	}

	log.Info().
		Int64("user_id", userID).
		Int64("wheel_id", wheel.ID).
		Int64("spin_id", result.SpinID).
		Int64("prize_id", prize.ID).
		Str("prize_type", string(prize.Type)).
		Int64("points_spent", result.PointsSpent).
		Int64("balance", result.Balance).
		Int("spins_left", result.SpinsRemaining).
		Msg("spin completed")

	// 7. Notify subscribers after the commit is durable
	if e.events != nil {
		e.events.Publish(ctx, SpinCompleted{
			EventID:    uuid.New().String(),
			UserID:     userID,
			Result:     *result,
			OccurredAt: e.now(),
		})
	}

	return result, nil
}

func (e *SpinEngine) commit(ctx context.Context, userID int64, wheel *model.Wheel, prize *model.Prize) (*CommitResult, error) {
	ctx, span := e.tracer.Start(ctx, "Ledger.CommitSpin", trace.WithAttributes(
		attribute.Int64("wheel_id", wheel.ID),
		attribute.Int64("prize_id", prize.ID),
	))
	defer span.End()

	committed, err := e.ledger.CommitSpin(ctx, userID, wheel, prize)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return committed, nil
}

func logRejected(userID, wheelID int64, ie *IneligibleError) {
	log.Warn().
		Int64("user_id", userID).
		Int64("wheel_id", wheelID).
		Str("reason", ie.Reason.Error()).
		Int("spins_left", ie.SpinsRemaining).
		Int64("balance", ie.Balance).
		Int64("required", ie.Required).
		Msg("spin rejected")
}

// GetWheelSnapshot returns the wheel, its prizes with normalized win percentages and the
// user's eligibility, computed exactly as ExecuteSpin computes it.
func (e *SpinEngine) GetWheelSnapshot(ctx context.Context, userID int64, wheelID *int64) (*model.WheelSnapshot, error) {
	if userID <= 0 || (wheelID != nil && *wheelID <= 0) {
		return nil, ErrInvalidRequest
	}

	cfg, err := e.wheels.Load(ctx, wheelID)
	if err != nil {
		return nil, err
	}
	wheel := cfg.Wheel

	elig, err := e.ledger.CheckEligibility(ctx, userID, &wheel)
	if err != nil {
		return nil, err
	}

	total := TotalWeight(cfg.Prizes)
	odds := make([]model.PrizeOdds, 0, len(cfg.Prizes))
	for i := range cfg.Prizes {
		p := &cfg.Prizes[i]
		odds = append(odds, model.PrizeOdds{
			PrizeSnapshot: p.Snapshot(),
			Weight:        p.Weight,
			Percent:       percent(p.Weight, total),
		})
	}

	return &model.WheelSnapshot{
		Wheel:          wheel,
		Prizes:         odds,
		CanSpin:        elig.Eligible() && total > 0,
		SpinsRemaining: elig.SpinsRemaining,
		Balance:        elig.Balance,
	}, nil
}

// percent returns weight/total as a percentage rounded to two decimals.
func percent(weight int, total int64) float64 {
	if weight <= 0 || total <= 0 {
		return 0
	}
	return math.Round(float64(weight)/float64(total)*10000) / 100
}
