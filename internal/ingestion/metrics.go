package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by Runner.
type Metrics struct {
	// runsTotal counts course ingestion runs by outcome: "ok" or "error".
	runsTotal *prometheus.CounterVec

	// chunksTotal counts chunks written by successful runs.
	chunksTotal prometheus.Counter

	// durationSeconds records the wall-clock duration of each course run.
	durationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the ingestion metrics against reg. A nil reg returns
// nil, which Runner treats as "metrics disabled".
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatedu",
			Subsystem: "ingestion",
			Name:      "runs_total",
			Help:      "Total number of course ingestion runs, partitioned by outcome.",
		}, []string{"outcome"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "chatedu",
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Total number of chunks written by successful ingestion runs.",
		}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatedu",
			Subsystem: "ingestion",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of course ingestion runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 180, 600},
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observe(r Result) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !r.OK {
		outcome = "error"
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.durationSeconds.WithLabelValues(outcome).Observe(r.Duration.Seconds())
	if r.OK {
		m.chunksTotal.Add(float64(r.Chunks))
	}
}
