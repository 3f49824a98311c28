// Package worker executes queued conversion jobs.
package worker

import (
	"context"
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/batch"
	"github.com/JakeFAU/article2md/internal/jobs"
	"github.com/JakeFAU/article2md/internal/metrics"
	"github.com/JakeFAU/article2md/internal/progress"
)

// BatchRunner runs one batch to completion. *batch.Runner implements it.
type BatchRunner interface {
	Run(ctx context.Context, b batch.Batch) (batch.Summary, error)
}

// Config controls Worker behavior.
type Config struct {
	// OutDir is the root under which each job gets its own directory.
	OutDir string
}

// Worker consumes queue items and runs their batches.
type Worker struct {
	queue   jobs.Queue
	store   jobs.Store
	runner  BatchRunner
	emitter progress.Emitter
	metrics *metrics.Metrics
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker. emitter and m may be nil.
func New(
	queue jobs.Queue,
	store jobs.Store,
	runner BatchRunner,
	emitter progress.Emitter,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	return &Worker{
		queue:   queue,
		store:   store,
		runner:  runner,
		emitter: emitter,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jobs.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item jobs.QueueItem) {
	log := w.logger.With(zap.String("job_id", item.JobID))
	job, err := w.store.GetJob(ctx, item.JobID)
	if err != nil {
		log.Warn("job vanished before start", zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		// Stopped while still queued.
		log.Info("skipping finished job", zap.String("status", string(job.Status)))
		return
	}

	w.metrics.JobStarted()
	total := len(item.Params.Requests)
	counters := jobs.Counters{Total: total}
	if err := w.store.UpdateJob(ctx, item.JobID, jobs.Update{Status: jobs.StatusRunning, Counters: counters}); err != nil {
		log.Error("update job status failed", zap.Error(err))
		w.metrics.JobFinished(string(jobs.StatusFailed))
		return
	}

	opts := item.Params.Options
	opts.OutDir = filepath.Join(w.cfg.OutDir, item.JobID)
	sum, runErr := w.runner.Run(ctx, batch.Batch{
		Requests: item.Params.Requests,
		Options:  opts,
		Stop:     w.stopFunc(ctx, item.JobID),
		Progress: progress.NewReporter(w.emitter, item.JobID),
	})

	status, errText := deriveFinalStatus(sum, runErr)
	update := jobs.Update{
		Status:    status,
		ErrorText: errText,
		Counters:  jobs.Counters{Succeeded: sum.Succeeded, Failed: sum.Failed, Total: total},
		Items:     sum.Items,
	}
	// The job context may already be canceled; the final state must still land.
	if err := w.store.UpdateJob(context.WithoutCancel(ctx), item.JobID, update); err != nil {
		log.Error("final job status update failed", zap.Error(err))
	}
	w.metrics.JobFinished(string(status))
	log.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("total", total),
	)
}

// stopFunc polls the store so a stop requested through the API reaches the
// running batch at its next checkpoint.
func (w *Worker) stopFunc(ctx context.Context, jobID string) func() bool {
	return func() bool {
		job, err := w.store.GetJob(ctx, jobID)
		if err != nil {
			return errors.Is(err, jobs.ErrNotFound)
		}
		return job.StopRequested
	}
}

func deriveFinalStatus(sum batch.Summary, runErr error) (jobs.Status, string) {
	if runErr != nil {
		return jobs.StatusFailed, runErr.Error()
	}
	switch sum.Status {
	case batch.StatusStopped:
		return jobs.StatusStopped, "stop requested"
	case batch.StatusCanceled:
		return jobs.StatusCanceled, "server shutting down"
	}
	if sum.Total > 0 && sum.Succeeded == 0 {
		return jobs.StatusFailed, "no request converted"
	}
	return jobs.StatusCompleted, ""
}
