package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/article2md/internal/progress"
)

// PrometheusSink exports conversion progress metrics. It owns all collectors
// for batches, per-URL results, fetch attempts and images.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     prometheus.Histogram

	urls        *prometheus.CounterVec
	urlDuration prometheus.Histogram
	fetches     *prometheus.CounterVec
	retries     *prometheus.CounterVec
	images      *prometheus.CounterVec

	tracker *batchTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "article2md_batches_started_total",
			Help: "Total batches that have started.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article2md_batches_completed_total",
			Help: "Total batches completed partitioned by outcome.",
		}, []string{"outcome"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "article2md_batches_running",
			Help: "Current number of running batches.",
		}),
		batchRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "article2md_batch_runtime_seconds",
			Help:    "Wall time per completed batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		urls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article2md_urls_total",
			Help: "Requests converted partitioned by result.",
		}, []string{"result"}),
		urlDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "article2md_url_duration_seconds",
			Help:    "Wall time per successfully converted request.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article2md_fetch_attempts_total",
			Help: "Fetch attempts partitioned by strategy and result.",
		}, []string{"strategy", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article2md_fetch_retries_total",
			Help: "Fetch retries partitioned by strategy.",
		}, []string{"strategy"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "article2md_images_total",
			Help: "Images processed partitioned by result.",
		}, []string{"result"}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.urls,
		s.urlDuration,
		s.fetches,
		s.retries,
		s.images,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageBatchStart:
		s.batchesStarted.Inc()
		if s.tracker.start(evt.BatchID) {
			s.batchesRunning.Inc()
		}
	case progress.StageBatchSummary:
		s.finishBatch(evt, "completed")
	case progress.StageStopped:
		s.finishBatch(evt, "stopped")
	case progress.StageURLSuccess:
		s.urls.WithLabelValues("success").Inc()
		if evt.Dur > 0 {
			s.urlDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageURLFailed:
		s.urls.WithLabelValues("failure").Inc()
	case progress.StageFetchSuccess:
		s.fetches.WithLabelValues(evt.Strategy, "success").Inc()
	case progress.StageFetchFailed:
		s.fetches.WithLabelValues(evt.Strategy, "failure").Inc()
	case progress.StageFetchRetry:
		s.retries.WithLabelValues(evt.Strategy).Inc()
	case progress.StageImagesDone:
		if evt.Succeeded > 0 {
			s.images.WithLabelValues("downloaded").Add(float64(evt.Succeeded))
		}
		if evt.Failed > 0 {
			s.images.WithLabelValues("failed").Add(float64(evt.Failed))
		}
	}
}

func (s *PrometheusSink) finishBatch(evt progress.Event, outcome string) {
	if !s.tracker.complete(evt.BatchID) {
		return
	}
	s.batchesRunning.Dec()
	s.batchesCompleted.WithLabelValues(outcome).Inc()
	if evt.Dur > 0 {
		s.batchRuntime.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type batchTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newBatchTracker() *batchTracker {
	return &batchTracker{running: make(map[string]struct{})}
}

func (t *batchTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *batchTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
