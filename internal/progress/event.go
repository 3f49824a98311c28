package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageBatchStart   Stage = "BATCH_START"
	StageTaskStatus   Stage = "TASK_STATUS"
	StageFetchStart   Stage = "FETCH_START"
	StageFetchRetry   Stage = "FETCH_RETRY"
	StageFetchSuccess Stage = "FETCH_SUCCESS"
	StageFetchFailed  Stage = "FETCH_FAILED"
	StagePhaseStart   Stage = "PHASE_START"
	StagePhaseDone    Stage = "PHASE_DONE"
	StagePhaseFailed  Stage = "PHASE_FAILED"
	StageImages       Stage = "IMAGES"
	StageImagesDone   Stage = "IMAGES_DONE"
	StageURLSuccess   Stage = "URL_SUCCESS"
	StageURLFailed    Stage = "URL_FAILED"
	StageBatchSummary Stage = "BATCH_SUMMARY"
	StageStopped      Stage = "STOPPED"
	StageMessage      Stage = "MESSAGE"
)

// Level is the severity attached to an Event.
type Level string

// Event levels.
const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Phase names the per-document processing steps.
type Phase string

// Document phases.
const (
	PhaseParse   Phase = "parse"
	PhaseClean   Phase = "clean"
	PhaseConvert Phase = "convert"
	PhaseImages  Phase = "images"
	PhaseWrite   Phase = "write"
)

// Event captures a single unit of conversion progress.
type Event struct {
	// BatchID identifies the batch the event belongs to.
	BatchID string `json:"batch_id"`
	// TS is the UTC timestamp recorded by the reporter.
	TS    time.Time `json:"ts"`
	Stage Stage     `json:"stage"`
	Level Level     `json:"level"`
	// URL is the request being processed, empty for batch-level events.
	URL string `json:"url,omitempty"`
	// Index and Total locate a request in its batch (1-based), or images in a document.
	Index int `json:"index,omitempty"`
	Total int `json:"total,omitempty"`
	// Strategy names the fetch strategy for fetch events.
	Strategy    string `json:"strategy,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Phase       Phase  `json:"phase,omitempty"`
	Succeeded   int    `json:"succeeded,omitempty"`
	Failed      int    `json:"failed,omitempty"`
	// Dur captures latency for per-URL and batch completions.
	Dur     time.Duration `json:"dur,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == "" {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchSummary, StageStopped, StageMessage,
		StageURLSuccess, StageURLFailed, StageImages, StageImagesDone:
	case StageTaskStatus:
		if e.Total <= 0 || e.Index < 1 || e.Index > e.Total {
			return fmt.Errorf("task status index %d out of range 1..%d", e.Index, e.Total)
		}
	case StageFetchStart, StageFetchRetry, StageFetchSuccess, StageFetchFailed:
		if e.Strategy == "" {
			return fmt.Errorf("%s requires strategy", e.Stage)
		}
	case StagePhaseStart, StagePhaseDone, StagePhaseFailed:
		if e.Phase == "" {
			return fmt.Errorf("%s requires phase", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
