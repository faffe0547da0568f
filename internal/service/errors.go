package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNoActiveWheel is returned when no active wheel matches the request
	ErrNoActiveWheel = errors.New("no active spin wheel")

	// ErrNoPrizesAvailable is returned when the wheel has no active prize with a positive weight
	ErrNoPrizesAvailable = errors.New("no prizes available")

	// ErrDailyLimitReached is returned when the user has used all spins for today
	ErrDailyLimitReached = errors.New("daily spin limit reached")

	// ErrInsufficientPoints is returned when the user's balance does not cover the spin cost
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrEligibilityRaceLost is returned by CommitSpin when eligibility no longer holds at commit time.
	// It never crosses the engine boundary.
	ErrEligibilityRaceLost = errors.New("eligibility lost at commit")

	// ErrStoreUnavailable is returned when the backing store times out or cannot be reached
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidWheel is returned when a stored wheel violates its invariants
	ErrInvalidWheel = errors.New("invalid wheel configuration")

	// ErrInvalidPrize is returned when a stored prize violates its invariants
	ErrInvalidPrize = errors.New("invalid prize configuration")

	// ErrSpinNotFound is returned when a spin record does not exist for the user
	ErrSpinNotFound = errors.New("spin not found")

	// ErrAlreadyClaimed is returned when a spin prize has already been claimed
	ErrAlreadyClaimed = errors.New("spin already claimed")
)

// IneligibleError is the typed failure for a spin the user may not take.
// It unwraps to ErrDailyLimitReached or ErrInsufficientPoints.
type IneligibleError struct {
	Reason         error
	SpinsRemaining int
	Balance        int64
	Required       int64
}

func (e *IneligibleError) Error() string {
	if errors.Is(e.Reason, ErrInsufficientPoints) {
		return fmt.Sprintf("%v: need %d points, have %d", e.Reason, e.Required, e.Balance)
	}
	return e.Reason.Error()
}

func (e *IneligibleError) Unwrap() error { return e.Reason }

// Shortfall is how many points the user is missing. Zero unless the reason is ErrInsufficientPoints.
func (e *IneligibleError) Shortfall() int64 {
	if !errors.Is(e.Reason, ErrInsufficientPoints) || e.Balance >= e.Required {
		return 0
	}
	return e.Required - e.Balance
}

// RaceLostError reports which invariant failed when CommitSpin re-validated eligibility.
// It matches both ErrEligibilityRaceLost and its Reason.
type RaceLostError struct {
	Ineligible *IneligibleError
}

func (e *RaceLostError) Error() string {
	return fmt.Sprintf("%v: %v", ErrEligibilityRaceLost, e.Ineligible)
}

func (e *RaceLostError) Unwrap() []error {
	return []error{ErrEligibilityRaceLost, e.Ineligible}
}

// storeError wraps err so that errors.Is(err, ErrStoreUnavailable) holds when the cause is
// a deadline, a cancelled store call or a connection-level failure.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
