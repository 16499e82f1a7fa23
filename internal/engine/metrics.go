package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes sync pass counters. A nil *Metrics records nothing.
type Metrics struct {
	records     *prometheus.CounterVec
	passSeconds prometheus.Histogram
	pending     prometheus.Gauge
}

// NewMetrics creates the engine metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratingsync",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records visited by sync passes, by outcome.",
		}, []string{"outcome"}),
		passSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ratingsync",
			Subsystem: "sync",
			Name:      "pass_seconds",
			Help:      "Duration of completed sync passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ratingsync",
			Name:      "pending_records",
			Help:      "Unsynced records after the last sync pass.",
		}),
	}
	reg.MustRegister(m.records, m.passSeconds, m.pending)
	return m
}

func (m *Metrics) observePass(s Summary) {
	if m == nil {
		return
	}
	m.records.WithLabelValues("success").Add(float64(s.Success))
	m.records.WithLabelValues("failed").Add(float64(s.Failed))
	m.records.WithLabelValues("skipped").Add(float64(s.Skipped))
	m.records.WithLabelValues("abandoned").Add(float64(s.Abandoned))
	m.passSeconds.Observe(s.Duration.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
