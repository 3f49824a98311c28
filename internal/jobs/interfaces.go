package jobs

import (
	"context"
	"time"

	"github.com/JakeFAU/article2md/internal/progress"
)

// Store persists jobs and their progress events.
type Store interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, jobID string, update Update) error
	// RequestStop flags the job; a queued job is canceled outright and a
	// running job stops at its next checkpoint.
	RequestStop(ctx context.Context, jobID string) (Job, error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, status *Status, limit, offset int) ([]Job, error)
	AppendEvents(ctx context.Context, jobID string, events []progress.Event) error
	ListEvents(ctx context.Context, jobID string, limit, offset int) ([]progress.Event, error)
}

// Queue provides enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
