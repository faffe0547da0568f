package subscriber

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fairyhunter13/spin-wheel/internal/service"
)

// Metrics counts completed spins and point movements per wheel.
type Metrics struct {
	spins         *prometheus.CounterVec
	pointsSpent   *prometheus.CounterVec
	pointsAwarded *prometheus.CounterVec
}

// NewMetrics creates the spin counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		spins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spinwheel",
			Name:      "spins_total",
			Help:      "Committed spins by wheel and prize type.",
		}, []string{"wheel_id", "prize_type"}),
		pointsSpent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spinwheel",
			Name:      "points_spent_total",
			Help:      "Points debited for spins.",
		}, []string{"wheel_id"}),
		pointsAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spinwheel",
			Name:      "points_awarded_total",
			Help:      "Points credited by points prizes.",
		}, []string{"wheel_id"}),
	}

	for _, c := range []prometheus.Collector{m.spins, m.pointsSpent, m.pointsAwarded} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Name implements service.Subscriber.
func (m *Metrics) Name() string { return "metrics" }

// HandleSpinCompleted implements service.Subscriber.
func (m *Metrics) HandleSpinCompleted(ctx context.Context, evt service.SpinCompleted) error {
	wheel := strconv.FormatInt(evt.Result.WheelID, 10)
	m.spins.WithLabelValues(wheel, string(evt.Result.Prize.Type)).Inc()
	m.pointsSpent.WithLabelValues(wheel).Add(float64(evt.Result.PointsSpent))
	m.pointsAwarded.WithLabelValues(wheel).Add(float64(evt.Result.PointsAwarded))
	return nil
}
