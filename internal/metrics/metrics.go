// Package metrics exports cache population events to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dbmeta/internal/cache"
)

const namespace = "dbmeta"

// Observer implements cache.Observer.
type Observer struct {
	populations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	rows        *prometheus.CounterVec
	skipped     *prometheus.CounterVec
}

var _ cache.Observer = (*Observer)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Observer {
	o := &Observer{
		populations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_populations_total",
			Help:      "Metadata queries run to populate a cache, by result.",
		}, []string{"cache", "kind", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_population_duration_seconds",
			Help:      "Time spent running and reading population queries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"cache", "kind"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rows_total",
			Help:      "Rows read by population queries.",
		}, []string{"cache"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_rows_skipped_total",
			Help:      "Rows dropped because they reference objects that could not be resolved.",
		}, []string{"cache"}),
	}
	reg.MustRegister(o.populations, o.duration, o.rows, o.skipped)
	return o
}

func (o *Observer) Populated(name, kind string, rows int, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case cache.IsCanceled(err):
		result = "canceled"
	case err != nil:
		result = "error"
	}
	o.populations.WithLabelValues(name, kind, result).Inc()
	o.duration.WithLabelValues(name, kind).Observe(elapsed.Seconds())
	o.rows.WithLabelValues(name).Add(float64(rows))
}

func (o *Observer) Skipped(name string, _ error) {
	o.skipped.WithLabelValues(name).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
