// Package metrics exposes Prometheus collectors for the serve command: HTTP
// traffic, job outcomes and worker activity. Conversion progress metrics
// live in the progress sinks.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	jobs          *prometheus.CounterVec
	activeWorkers prometheus.Gauge
	queued        prometheus.Gauge
}

// New registers the collectors against reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article2md_http_requests_total",
			Help: "Total number of API requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "article2md_http_request_duration_seconds",
			Help:    "Histogram of API request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}, []string{"method", "route"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article2md_jobs_total",
			Help: "Total number of jobs finished, labeled by status.",
		}, []string{"status"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "article2md_active_workers",
			Help: "Number of workers currently processing a job.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "article2md_jobs_queued",
			Help: "Jobs accepted but not yet picked up by a worker.",
		}),
	}
	for _, c := range []prometheus.Collector{m.httpRequests, m.httpDuration, m.jobs, m.activeWorkers, m.queued} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register service collector: %w", err)
		}
	}
	return m, nil
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob counts a finished job.
func (m *Metrics) ObserveJob(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

// JobQueued tracks a newly accepted job.
func (m *Metrics) JobQueued() {
	if m == nil {
		return
	}
	m.queued.Inc()
}

// JobStarted moves a job from queued to active.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.queued.Dec()
	m.activeWorkers.Inc()
}

// JobFinished releases the active worker slot.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
	m.ObserveJob(status)
}
