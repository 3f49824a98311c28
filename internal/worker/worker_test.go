package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/batch"
	"github.com/JakeFAU/article2md/internal/jobs"
	"github.com/JakeFAU/article2md/internal/progress"
	queuememory "github.com/JakeFAU/article2md/internal/queue/memory"
	"github.com/JakeFAU/article2md/internal/storage/memory"
)

type fakeRunner struct {
	mu      sync.Mutex
	batches []batch.Batch
	run     func(ctx context.Context, b batch.Batch) (batch.Summary, error)
}

func (f *fakeRunner) Run(ctx context.Context, b batch.Batch) (batch.Summary, error) {
	f.mu.Lock()
	f.batches = append(f.batches, b)
	f.mu.Unlock()
	return f.run(ctx, b)
}

func (f *fakeRunner) last() batch.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[len(f.batches)-1]
}

type harness struct {
	queue  *queuememory.Queue
	store  *memory.JobStore
	runner *fakeRunner
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func startWorker(t *testing.T, run func(ctx context.Context, b batch.Batch) (batch.Summary, error)) *harness {
	t.Helper()
	h := &harness{
		queue:  queuememory.NewQueue(4),
		store:  memory.NewJobStore(memory.Config{}),
		runner: &fakeRunner{run: run},
		events: &eventLog{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := New(h.queue, h.store, h.runner, h.events, nil, Config{OutDir: "/srv/out"}, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) submit(t *testing.T, id string, urls ...string) {
	t.Helper()
	params := jobs.Parameters{Options: article.ConversionOptions{OutDir: "/etc"}}
	for _, u := range urls {
		params.Requests = append(params.Requests, article.URLRequest(u))
	}
	ctx := context.Background()
	require.NoError(t, h.store.CreateJob(ctx, jobs.Job{ID: id, Status: jobs.StatusQueued, Parameters: params}))
	require.NoError(t, h.queue.Enqueue(ctx, jobs.QueueItem{JobID: id, Params: params}))
}

func (h *harness) waitStatus(t *testing.T, id string, want jobs.Status) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.store.GetJob(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestWorkerCompletesJob(t *testing.T) {
	t.Parallel()

	h := startWorker(t, func(_ context.Context, b batch.Batch) (batch.Summary, error) {
		b.Progress.BatchStart(len(b.Requests))
		return batch.Summary{
			Succeeded: 2, Total: 2, Status: batch.StatusCompleted,
			Items: []batch.Item{{Source: "a", Path: "x.md"}, {Source: "b", Path: "y.md"}},
		}, nil
	})
	h.submit(t, "job-ok", "https://example.com/a", "https://example.com/b")

	job := h.waitStatus(t, "job-ok", jobs.StatusCompleted)
	assert.Equal(t, jobs.Counters{Succeeded: 2, Total: 2}, job.Counters)
	assert.Len(t, job.Items, 2)
	assert.NotNil(t, job.Started)
	assert.NotNil(t, job.Finished)

	b := h.runner.last()
	assert.Equal(t, filepath.Join("/srv/out", "job-ok"), b.Options.OutDir, "client out_dir is ignored")
	assert.Len(t, b.Requests, 2)
	require.Eventually(t, func() bool { return h.events.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "job-ok", h.events.events[0].BatchID)
}

func TestWorkerMarksFailures(t *testing.T) {
	t.Parallel()

	h := startWorker(t, func(_ context.Context, b batch.Batch) (batch.Summary, error) {
		if b.Requests[0].Value == "https://broken.example" {
			return batch.Summary{}, errors.New("prepare output: read-only")
		}
		return batch.Summary{Failed: 1, Total: 1, Status: batch.StatusCompleted}, nil
	})
	h.submit(t, "job-setup", "https://broken.example")
	h.submit(t, "job-nothing", "https://example.com")

	setup := h.waitStatus(t, "job-setup", jobs.StatusFailed)
	assert.Contains(t, setup.ErrorText, "read-only")
	nothing := h.waitStatus(t, "job-nothing", jobs.StatusFailed)
	assert.Equal(t, "no request converted", nothing.ErrorText)
	assert.Equal(t, 1, nothing.Counters.Failed)
}

func TestWorkerStopReachesRunningBatch(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	h := startWorker(t, func(ctx context.Context, b batch.Batch) (batch.Summary, error) {
		close(started)
		for !b.Stop.Stopped() {
			select {
			case <-ctx.Done():
				return batch.Summary{Status: batch.StatusCanceled}, nil
			case <-time.After(5 * time.Millisecond):
			}
		}
		return batch.Summary{Succeeded: 1, Total: 3, Status: batch.StatusStopped}, nil
	})
	h.submit(t, "job-stop", "u1", "u2", "u3")

	<-started
	_, err := h.store.RequestStop(context.Background(), "job-stop")
	require.NoError(t, err)

	job := h.waitStatus(t, "job-stop", jobs.StatusStopped)
	assert.Equal(t, 1, job.Counters.Succeeded)
	assert.Equal(t, 3, job.Counters.Total)
}

func TestWorkerSkipsJobStoppedWhileQueued(t *testing.T) {
	t.Parallel()

	h := startWorker(t, func(context.Context, batch.Batch) (batch.Summary, error) {
		return batch.Summary{Status: batch.StatusCompleted}, nil
	})
	ctx := context.Background()
	params := jobs.Parameters{Requests: []article.SourceRequest{article.URLRequest("u")}}
	require.NoError(t, h.store.CreateJob(ctx, jobs.Job{ID: "early", Status: jobs.StatusQueued, Parameters: params}))
	_, err := h.store.RequestStop(ctx, "early")
	require.NoError(t, err)
	require.NoError(t, h.queue.Enqueue(ctx, jobs.QueueItem{JobID: "early", Params: params}))
	h.submit(t, "after", "u")

	h.waitStatus(t, "after", jobs.StatusCompleted)
	job, err := h.store.GetJob(ctx, "early")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCanceled, job.Status)
	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	assert.Len(t, h.runner.batches, 1)
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sum  batch.Summary
		err  error
		want jobs.Status
	}{
		{"completed", batch.Summary{Succeeded: 1, Total: 2, Status: batch.StatusCompleted}, nil, jobs.StatusCompleted},
		{"empty batch", batch.Summary{Status: batch.StatusCompleted}, nil, jobs.StatusCompleted},
		{"all failed", batch.Summary{Failed: 2, Total: 2, Status: batch.StatusCompleted}, nil, jobs.StatusFailed},
		{"stopped", batch.Summary{Total: 2, Status: batch.StatusStopped}, nil, jobs.StatusStopped},
		{"canceled", batch.Summary{Total: 2, Status: batch.StatusCanceled}, nil, jobs.StatusCanceled},
		{"setup error", batch.Summary{}, errors.New("boom"), jobs.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _ := deriveFinalStatus(tt.sum, tt.err)
			assert.Equal(t, tt.want, got)
		})
	}
}
