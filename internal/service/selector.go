package service

import (
	"math/rand/v2"
	"sync"

	"github.com/fairyhunter13/spin-wheel/internal/model"
)

// RandomSource draws a uniform integer in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type RandomSource interface {
	Int64N(n int64) int64
}

type globalSource struct{}

func (globalSource) Int64N(n int64) int64 { return rand.Int64N(n) }

// Selector picks one prize with probability weight/total.
type Selector struct {
	mu  sync.Mutex
	rng RandomSource
}

// NewSelector creates a Selector. A nil source uses the runtime-seeded global generator.
func NewSelector(rng RandomSource) *Selector {
	if rng == nil {
		rng = globalSource{}
	}
	return &Selector{rng: rng}
}

// TotalWeight sums the positive weights of prizes.
func TotalWeight(prizes []model.Prize) int64 {
	var total int64
	for i := range prizes {
		if prizes[i].Weight > 0 {
			total += int64(prizes[i].Weight)
		}
	}
	return total
}

// Select walks prizes in order, accumulating weight, and returns the first prize whose
// running sum exceeds a uniform draw r in [0, total). Prizes with weight <= 0 never win.
// The last weighted prize is returned if the walk does not resolve.
// Returns ErrNoPrizesAvailable when no prize has a positive weight.
func (s *Selector) Select(prizes []model.Prize) (model.Prize, error) {
	total := TotalWeight(prizes)
	if total <= 0 {
		return model.Prize{}, ErrNoPrizesAvailable
	}

	r := s.draw(total)

	var cumulative int64
	last := -1
	for i := range prizes {
		if prizes[i].Weight <= 0 {
			continue
		}
		last = i
		cumulative += int64(prizes[i].Weight)
		if r < cumulative {
			return prizes[i], nil
		}
	}
	return prizes[last], nil
}

func (s *Selector) draw(total int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Int64N(total)
}
