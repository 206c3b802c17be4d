package activity

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sho7650/media-stage/internal/metrics"
)

// Metrics exports the busy indicator to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// InFlight tracks the number of operations between Begin and End
	InFlight prometheus.Gauge

	// Visible is 1 while the busy indicator is shown
	Visible prometheus.Gauge

	// Imbalance counts End calls without a matching Begin
	Imbalance prometheus.Counter

	// Transitions counts state machine transitions by target state
	Transitions *prometheus.CounterVec
}

// NewMetrics creates activity metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		InFlight: metrics.RegisterOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "activity",
			Name:      "in_flight",
			Help:      "Current number of tracked operations in flight",
		})),
		Visible: metrics.RegisterOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "activity",
			Name:      "visible",
			Help:      "1 while the busy indicator is visible, 0 otherwise",
		})),
		Imbalance: metrics.RegisterOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "activity",
			Name:      "imbalance_total",
			Help:      "Total End calls received with no operation in flight",
		})),
		Transitions: metrics.RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "activity",
			Name:      "transitions_total",
			Help:      "Total busy indicator state transitions by target state",
		}, []string{"to"})),
	}
}

func (m *Metrics) setInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

func (m *Metrics) setVisible(v bool) {
	if m == nil {
		return
	}
	if v {
		m.Visible.Set(1)
	} else {
		m.Visible.Set(0)
	}
}

func (m *Metrics) imbalance() {
	if m == nil {
		return
	}
	m.Imbalance.Inc()
}

func (m *Metrics) transition(to State) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to.String()).Inc()
}
