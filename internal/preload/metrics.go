package preload

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sho7650/media-stage/internal/metrics"
)

// Metrics exports preload activity to Prometheus. A nil *Metrics records
// nothing.
type Metrics struct {
	// FetchesTotal counts finished fetches by result
	FetchesTotal *prometheus.CounterVec

	// FetchDuration tracks how long fetches take
	FetchDuration prometheus.Histogram

	// OutcomesTotal counts resolved futures by outcome
	OutcomesTotal *prometheus.CounterVec
}

// NewMetrics creates preload metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		FetchesTotal: metrics.RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "preload",
			Name:      "fetches_total",
			Help:      "Total media fetches by result",
		}, []string{"result"})), // "success", "failure", "discarded"
		FetchDuration: metrics.RegisterOrReuse(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "preload",
			Name:      "fetch_duration_seconds",
			Help:      "Media fetch duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
		})),
		OutcomesTotal: metrics.RegisterOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "preload",
			Name:      "outcomes_total",
			Help:      "Total preload futures resolved by outcome",
		}, []string{"outcome"})),
	}
}

func (m *Metrics) fetched(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) outcome(o Outcome) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(o.String()).Inc()
}
