package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/spin-wheel/internal/model"
)

// SpinCompleted is emitted once per committed spin.
type SpinCompleted struct {
	EventID    string           `json:"event_id"`
	UserID     int64            `json:"user_id"`
	Result     model.SpinResult `json:"spin_result"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Subscriber receives SpinCompleted events. Returned errors are logged and dropped.
type Subscriber interface {
	Name() string
	HandleSpinCompleted(ctx context.Context, evt SpinCompleted) error
}

// Dispatcher delivers events to subscribers one after another, isolating each one:
// an error, a panic or a timeout in one subscriber does not affect the others or the caller.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	timeout     time.Duration
}

// NewDispatcher creates a Dispatcher. timeout bounds each delivery; zero disables the bound.
func NewDispatcher(timeout time.Duration, subscribers ...Subscriber) *Dispatcher {
	return &Dispatcher{
		subscribers: subscribers,
		timeout:     timeout,
	}
}

// Subscribe registers s for all future events.
func (d *Dispatcher) Subscribe(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, s)
}

// Publish delivers evt to every subscriber. It never fails and ignores cancellation of ctx.
func (d *Dispatcher) Publish(ctx context.Context, evt SpinCompleted) {
	d.mu.RLock()
	subscribers := make([]Subscriber, len(d.subscribers))
	copy(subscribers, d.subscribers)
	d.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, s := range subscribers {
		d.deliver(base, s, evt)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s Subscriber, evt SpinCompleted) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("subscriber", s.Name()).
				Str("event_id", evt.EventID).
				Int64("spin_id", evt.Result.SpinID).
				Msg("spin subscriber panicked")
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := s.HandleSpinCompleted(ctx, evt); err != nil {
		log.Error().
			Err(err).
			Str("subscriber", s.Name()).
			Str("event_id", evt.EventID).
			Int64("spin_id", evt.Result.SpinID).
			Msg("spin subscriber failed")
	}
}
