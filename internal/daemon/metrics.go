package daemon

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qiaosungithub/tpu-master/internal/audit"
)

// Metrics aggregates pass-level counters for the /metrics endpoint.
type Metrics struct {
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	verdicts     *prometheus.CounterVec
	deletes      *prometheus.CounterVec
}

// NewMetrics registers the audit metrics with the given registerer
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tpu_audit_passes_total",
			Help: "Completed audit passes by outcome.",
		}, []string{"outcome"}),
		passDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tpu_audit_pass_duration_seconds",
			Help:    "Wall-clock duration of one audit pass.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tpu_audit_verdicts_total",
			Help: "Probe verdicts by status.",
		}, []string{"status"}),
		deletes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tpu_audit_deletes_total",
			Help: "Delete operations by outcome.",
		}, []string{"status"}),
	}
}

// ObservePass records one finished pass.
func (m *Metrics) ObservePass(summary *audit.Summary, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(elapsed.Seconds())

	if summary == nil {
		return
	}
	for status, count := range summary.ByStatus() {
		m.verdicts.WithLabelValues(string(status)).Add(float64(count))
	}
	for _, del := range summary.Deletes {
		m.deletes.WithLabelValues(string(del.Status)).Inc()
	}
}

// Handler exposes the default registry as an HTTP handler.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
