// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/article2md/internal/jobs"
	"github.com/JakeFAU/article2md/internal/metrics"
	"github.com/JakeFAU/article2md/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers. Each worker runs one
// batch at a time, so a single worker gives strictly sequential processing.
type Dispatcher struct {
	queue   jobs.Queue
	workers []*worker.Worker
	metrics *metrics.Metrics
}

// New creates a Dispatcher. m may be nil.
func New(queue jobs.Queue, workers []*worker.Worker, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		metrics: m,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item jobs.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	d.metrics.JobQueued()
	return nil
}
