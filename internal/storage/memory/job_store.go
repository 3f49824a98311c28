// Package memory provides in-process job storage backed by go-cache. Finished
// jobs expire after a TTL so a long-running server does not grow without
// bound.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/batch"
	"github.com/JakeFAU/article2md/internal/jobs"
	"github.com/JakeFAU/article2md/internal/progress"
)

// Config controls retention.
type Config struct {
	// TTL is how long a finished job stays readable. Zero keeps it forever.
	TTL time.Duration
	// MaxEvents caps the progress events kept per job; the oldest are dropped.
	MaxEvents int
}

const defaultMaxEvents = 500

type record struct {
	job    jobs.Job
	events []progress.Event
}

// JobStore implements jobs.Store in memory.
type JobStore struct {
	mu        sync.Mutex
	cache     *cache.Cache
	ttl       time.Duration
	maxEvents int
	now       func() time.Time
}

var _ jobs.Store = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore(cfg Config) *JobStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := time.Minute
	if ttl > 0 && ttl < cleanup {
		cleanup = ttl
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	return &JobStore{
		cache:     cache.New(cache.NoExpiration, cleanup),
		ttl:       ttl,
		maxEvents: cfg.MaxEvents,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job jobs.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Add(job.ID, &record{job: cloneJob(job)}, s.expiry(job.Status)); err != nil {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

// UpdateJob applies update and stamps start and finish times.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, update jobs.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookup(jobID)
	if !ok {
		return jobs.ErrNotFound
	}
	job := &rec.job
	job.Status = update.Status
	job.ErrorText = update.ErrorText
	job.Counters = update.Counters
	if update.Items != nil {
		job.Items = append([]batch.Item(nil), update.Items...)
	}
	now := s.now()
	if update.Status == jobs.StatusRunning && job.Started == nil {
		job.Started = &now
	}
	if update.Status.Terminal() && job.Finished == nil {
		job.Finished = &now
	}
	s.cache.Set(jobID, rec, s.expiry(job.Status))
	return nil
}

// RequestStop flags the job. Queued jobs become canceled immediately;
// finished jobs are returned unchanged.
func (s *JobStore) RequestStop(_ context.Context, jobID string) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookup(jobID)
	if !ok {
		return jobs.Job{}, jobs.ErrNotFound
	}
	job := &rec.job
	if !job.Status.Terminal() {
		job.StopRequested = true
		if job.Status == jobs.StatusQueued {
			now := s.now()
			job.Status = jobs.StatusCanceled
			job.ErrorText = "stopped before start"
			job.Finished = &now
		}
		s.cache.Set(jobID, rec, s.expiry(job.Status))
	}
	return cloneJob(*job), nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookup(jobID)
	if !ok {
		return jobs.Job{}, jobs.ErrNotFound
	}
	return cloneJob(rec.job), nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *JobStore) ListJobs(_ context.Context, status *jobs.Status, limit, offset int) ([]jobs.Job, error) {
	s.mu.Lock()
	items := s.cache.Items()
	out := make([]jobs.Job, 0, len(items))
	for _, item := range items {
		rec, ok := item.Object.(*record)
		if !ok {
			continue
		}
		if status != nil && rec.job.Status != *status {
			continue
		}
		out = append(out, cloneJob(rec.job))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Submitted.Equal(out[j].Submitted) {
			return out[i].Submitted.After(out[j].Submitted)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, offset), nil
}

// AppendEvents records progress events for a job. Events for unknown or
// expired jobs are dropped.
func (s *JobStore) AppendEvents(_ context.Context, jobID string, events []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookup(jobID)
	if !ok {
		return nil
	}
	rec.events = append(rec.events, events...)
	if over := len(rec.events) - s.maxEvents; over > 0 {
		rec.events = append([]progress.Event(nil), rec.events[over:]...)
	}
	return nil
}

// ListEvents returns a page of a job's retained events, oldest first.
func (s *JobStore) ListEvents(_ context.Context, jobID string, limit, offset int) ([]progress.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.lookup(jobID)
	if !ok {
		return nil, jobs.ErrNotFound
	}
	return page(append([]progress.Event(nil), rec.events...), limit, offset), nil
}

func (s *JobStore) lookup(jobID string) (*record, bool) {
	v, ok := s.cache.Get(jobID)
	if !ok {
		return nil, false
	}
	rec, ok := v.(*record)
	return rec, ok
}

func (s *JobStore) expiry(status jobs.Status) time.Duration {
	if status.Terminal() {
		return s.ttl
	}
	return cache.NoExpiration
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func cloneJob(job jobs.Job) jobs.Job {
	cp := job
	cp.Parameters.Requests = append([]article.SourceRequest(nil), job.Parameters.Requests...)
	if job.Items != nil {
		cp.Items = append([]batch.Item(nil), job.Items...)
	}
	if job.Started != nil {
		t := *job.Started
		cp.Started = &t
	}
	if job.Finished != nil {
		t := *job.Finished
		cp.Finished = &t
	}
	return cp
}
