// Package jobs defines the queued conversion jobs served by the HTTP API and
// the interfaces the serve subsystems share.
package jobs

import (
	"errors"
	"time"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/batch"
)

var (
	// ErrNotFound signals that the requested job does not exist or has expired.
	ErrNotFound = errors.New("job not found")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// Status represents the lifecycle state of a job.
type Status string

// Job status values persisted in the job store.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ParseStatus accepts a status name, case-sensitive, as used in query
// strings.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusRunning, StatusCompleted, StatusStopped, StatusFailed, StatusCanceled:
		return st, nil
	default:
		return "", errors.New("invalid status")
	}
}

// Parameters captures what the client asked to convert.
type Parameters struct {
	Requests []article.SourceRequest   `json:"requests"`
	Options  article.ConversionOptions `json:"options"`
}

// Counters tracks success/failure stats per job.
type Counters struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Job represents the metadata kept for each submitted batch.
type Job struct {
	ID            string       `json:"id"`
	Status        Status       `json:"status"`
	Submitted     time.Time    `json:"submitted_at"`
	Started       *time.Time   `json:"started_at,omitempty"`
	Finished      *time.Time   `json:"finished_at,omitempty"`
	ErrorText     string       `json:"error_text,omitempty"`
	StopRequested bool         `json:"stop_requested"`
	Parameters    Parameters   `json:"parameters"`
	Counters      Counters     `json:"counters"`
	Items         []batch.Item `json:"items,omitempty"`
}

// Update is a partial state change applied by JobStore.UpdateJob.
type Update struct {
	Status    Status
	ErrorText string
	Counters  Counters
	Items     []batch.Item
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    Parameters
	Submitted int64
}
