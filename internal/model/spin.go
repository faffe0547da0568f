package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PrizeType identifies how a prize value is interpreted.
type PrizeType string

const (
	PrizeTypePoints  PrizeType = "points"
	PrizeTypeCoupon  PrizeType = "coupon"
	PrizeTypeProduct PrizeType = "product"
	PrizeTypeMessage PrizeType = "message"
)

// Valid reports whether t is one of the known prize types.
func (t PrizeType) Valid() bool {
	switch t {
	case PrizeTypePoints, PrizeTypeCoupon, PrizeTypeProduct, PrizeTypeMessage:
		return true
	}
	return false
}

// SettledOnSpin reports whether the prize is awarded by the spin itself.
// Only coupons wait for another system to issue a code and start unclaimed.
func (t PrizeType) SettledOnSpin() bool {
	return t == PrizeTypePoints || t == PrizeTypeMessage || t == PrizeTypeProduct
}

// HistoryStatusWon is the status stored on every committed spin.
const HistoryStatusWon = "won"

// Wheel is a spin wheel configuration.
type Wheel struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CostPoints  int64     `json:"cost_points"`
	DailyLimit  int       `json:"daily_limit"`
	IsActive    bool      `json:"is_active"`
	IsDefault   bool      `json:"is_default"`
	Timezone    string    `json:"timezone,omitempty"`
	UpdatedAt   time.Time `json:"-"`
}

// Validate checks the invariants a wheel row must satisfy before the engine uses it.
func (w *Wheel) Validate() error {
	if w.ID <= 0 {
		return errors.New("id must be positive")
	}
	if w.DailyLimit < 1 {
		return fmt.Errorf("daily_limit must be >= 1, got %d", w.DailyLimit)
	}
	if w.CostPoints < 0 {
		return fmt.Errorf("cost_points must be >= 0, got %d", w.CostPoints)
	}
	if w.Timezone != "" {
		if _, err := loadLocation(w.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", w.Timezone, err)
		}
	}
	return nil
}

// Location returns the wheel's timezone, or fallback when none is configured.
func (w *Wheel) Location(fallback *time.Location) *time.Location {
	if w.Timezone == "" {
		return fallback
	}
	loc, err := loadLocation(w.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// locations memoizes resolved zones; time.LoadLocation reads zone data on every call.
var locations sync.Map

func loadLocation(name string) (*time.Location, error) {
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	actual, _ := locations.LoadOrStore(name, loc)
	return actual.(*time.Location), nil
}

// Prize is one weighted sector of a wheel.
type Prize struct {
	ID           int64     `json:"id"`
	WheelID      int64     `json:"wheel_id"`
	Name         string    `json:"name"`
	Type         PrizeType `json:"type"`
	Value        string    `json:"value"`
	Weight       int       `json:"probability_weight"`
	Color        string    `json:"color,omitempty"`
	Icon         string    `json:"icon,omitempty"`
	DisplayOrder int       `json:"display_order"`
	IsActive     bool      `json:"is_active"`
}

// Validate checks the invariants a prize row must satisfy before the engine uses it.
func (p *Prize) Validate() error {
	if p.ID <= 0 {
		return errors.New("id must be positive")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("unknown prize type %q", p.Type)
	}
	if p.Weight < 0 {
		return fmt.Errorf("probability_weight must be >= 0, got %d", p.Weight)
	}
	if p.Type == PrizeTypePoints {
		if _, err := p.Points(); err != nil {
			return err
		}
	}
	return nil
}

// Points returns the number of points a points-type prize credits.
// Non-points prizes credit nothing.
func (p *Prize) Points() (int64, error) {
	if p.Type != PrizeTypePoints {
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(p.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("points value %q is not an integer", p.Value)
	}
	if n < 0 {
		return 0, fmt.Errorf("points value %d is negative", n)
	}
	return n, nil
}

// Details describes what the user received, per prize type. finalBalance is the balance
// after the spin and is reported for points prizes only.
func (p *Prize) Details(finalBalance int64) PrizeDetails {
	d := PrizeDetails{Type: p.Type}
	switch p.Type {
	case PrizeTypePoints:
		points, _ := p.Points()
		d.Points = &points
		d.FinalBalance = &finalBalance
	case PrizeTypeCoupon:
		d.Discount = p.Value
	case PrizeTypeProduct:
		if id, err := strconv.ParseInt(strings.TrimSpace(p.Value), 10, 64); err == nil && id > 0 {
			d.ProductID = id
		}
		d.ProductName = p.Name
	case PrizeTypeMessage:
		d.Message = p.Name
	}
	return d
}

// Snapshot returns the denormalized prize fields copied into history and results.
func (p *Prize) Snapshot() PrizeSnapshot {
	return PrizeSnapshot{
		ID:    p.ID,
		Name:  p.Name,
		Type:  p.Type,
		Value: p.Value,
		Color: p.Color,
		Icon:  p.Icon,
	}
}

// WheelConfig is an immutable view of a wheel and its active prizes in display order.
type WheelConfig struct {
	Wheel  Wheel   `json:"wheel"`
	Prizes []Prize `json:"prizes"`
}

// PrizeSnapshot is the prize as it was at the time of a spin.
type PrizeSnapshot struct {
	ID    int64     `json:"id"`
	Name  string    `json:"label"`
	Type  PrizeType `json:"type"`
	Value string    `json:"value"`
	Color string    `json:"color,omitempty"`
	Icon  string    `json:"icon,omitempty"`
	// Details is set on spin results only.
	Details *PrizeDetails `json:"details,omitempty"`
}

// PrizeDetails is the type-specific outcome of a won prize.
type PrizeDetails struct {
	Type         PrizeType `json:"type"`
	Points       *int64    `json:"value,omitempty"`
	FinalBalance *int64    `json:"final_balance,omitempty"`
	Discount     string    `json:"discount,omitempty"`
	ProductID    int64     `json:"product_id,omitempty"`
	ProductName  string    `json:"product_name,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// SpinRecord is one row of spin history. Only the claimed pair changes after insert.
type SpinRecord struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	WheelID    int64      `json:"wheel_id"`
	PrizeID    *int64     `json:"prize_id"`
	PrizeName  string     `json:"prize_name"`
	PrizeType  PrizeType  `json:"prize_type"`
	PrizeValue string     `json:"prize_value"`
	CostPoints int64      `json:"cost_points"`
	Status     string     `json:"status"`
	IsClaimed  bool       `json:"is_claimed"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// SpinResult is returned to the caller of a successful spin and carried by SpinCompleted.
type SpinResult struct {
	SpinID          int64         `json:"spin_id"`
	UserID          int64         `json:"user_id"`
	WheelID         int64         `json:"wheel_id"`
	Prize           PrizeSnapshot `json:"prize"`
	PointsSpent     int64         `json:"points_spent"`
	PointsAwarded   int64         `json:"points_awarded"`
	PreviousBalance int64         `json:"previous_balance"`
	Balance         int64         `json:"points_remaining"`
	SpinsRemaining  int           `json:"spins_left"`
	PrizeAwarded    bool          `json:"prize_awarded"`
	CreatedAt       time.Time     `json:"created_at"`
}

// PrizeOdds is a prize with its normalized chance of being selected.
type PrizeOdds struct {
	PrizeSnapshot
	Weight  int     `json:"weight"`
	Percent float64 `json:"probability"`
}

// WheelSnapshot is what a client needs to render a wheel before spinning.
type WheelSnapshot struct {
	Wheel          Wheel       `json:"wheel"`
	Prizes         []PrizeOdds `json:"prizes"`
	CanSpin        bool        `json:"can_spin"`
	SpinsRemaining int         `json:"spins_remaining"`
	Balance        int64       `json:"balance"`
}

// SpinRequest is the DTO for POST /api/spins.
type SpinRequest struct {
	UserID  int64  `json:"user_id" validate:"required,gt=0"`
	WheelID *int64 `json:"wheel_id" validate:"omitempty,gt=0"`
}

// SnapshotQuery is the DTO for GET /api/wheels/snapshot.
type SnapshotQuery struct {
	UserID  int64  `query:"user_id" validate:"required,gt=0"`
	WheelID *int64 `query:"wheel_id" validate:"omitempty,gt=0"`
}

// ClaimSpinRequest is the DTO for POST /api/spins/:id/claim.
type ClaimSpinRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}
