package progress

import (
	"fmt"
	"time"
)

// Logger is the progress capability the pipeline reports through. Every method
// must be cheap and non-blocking.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Success(msg string)
	Warning(msg string)
	Error(msg string)

	BatchStart(total int)
	TaskStatus(index, total int, url string)
	FetchStart(strategy string)
	FetchRetry(strategy string, attempt, maxAttempts int)
	FetchSuccess(strategy string)
	FetchFailed(strategy string, err error)
	PhaseStart(phase Phase)
	PhaseDone(phase Phase, detail string)
	PhaseFailed(phase Phase, err error)
	ImagesProgress(done, total int)
	ImagesDone(downloaded, total int)
	URLSuccess(url string, dur time.Duration)
	URLFailed(url string, err error)
	BatchSummary(succeeded, failed, total int, dur time.Duration)
	Stopped(reason string)
}

// Reporter implements Logger on top of an Emitter. A nil Reporter, or one
// without an emitter, silently drops everything.
type Reporter struct {
	emitter Emitter
	batchID string
	url     string
	now     func() time.Time
}

var _ Logger = (*Reporter)(nil)

// NewReporter builds a Reporter stamping events with batchID.
func NewReporter(emitter Emitter, batchID string) *Reporter {
	return &Reporter{
		emitter: emitter,
		batchID: batchID,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return (*Reporter)(nil)
}

// WithURL scopes subsequent events to url.
func (r *Reporter) WithURL(url string) *Reporter {
	if r == nil {
		return nil
	}
	cp := *r
	cp.url = url
	return &cp
}

// BatchID returns the batch identifier.
func (r *Reporter) BatchID() string {
	if r == nil {
		return ""
	}
	return r.batchID
}

func (r *Reporter) emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.BatchID = r.batchID
	evt.TS = r.now()
	if evt.URL == "" {
		evt.URL = r.url
	}
	if evt.Level == "" {
		evt.Level = LevelInfo
	}
	r.emitter.Emit(evt)
}

func (r *Reporter) message(level Level, msg string) {
	r.emit(Event{Stage: StageMessage, Level: level, Message: msg})
}

// Debug implements Logger.
func (r *Reporter) Debug(msg string) { r.message(LevelDebug, msg) }

// Info implements Logger.
func (r *Reporter) Info(msg string) { r.message(LevelInfo, msg) }

// Success implements Logger.
func (r *Reporter) Success(msg string) { r.message(LevelSuccess, msg) }

// Warning implements Logger.
func (r *Reporter) Warning(msg string) { r.message(LevelWarning, msg) }

// Error implements Logger.
func (r *Reporter) Error(msg string) { r.message(LevelError, msg) }

// BatchStart implements Logger.
func (r *Reporter) BatchStart(total int) {
	r.emit(Event{Stage: StageBatchStart, Total: total, Message: fmt.Sprintf("starting batch of %d", total)})
}

// TaskStatus implements Logger.
func (r *Reporter) TaskStatus(index, total int, url string) {
	r.emit(Event{Stage: StageTaskStatus, Index: index, Total: total, URL: url})
}

// FetchStart implements Logger.
func (r *Reporter) FetchStart(strategy string) {
	r.emit(Event{Stage: StageFetchStart, Level: LevelDebug, Strategy: strategy})
}

// FetchRetry implements Logger.
func (r *Reporter) FetchRetry(strategy string, attempt, maxAttempts int) {
	r.emit(Event{
		Stage:       StageFetchRetry,
		Level:       LevelWarning,
		Strategy:    strategy,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	})
}

// FetchSuccess implements Logger.
func (r *Reporter) FetchSuccess(strategy string) {
	r.emit(Event{Stage: StageFetchSuccess, Level: LevelSuccess, Strategy: strategy})
}

// FetchFailed implements Logger.
func (r *Reporter) FetchFailed(strategy string, err error) {
	r.emit(Event{Stage: StageFetchFailed, Level: LevelWarning, Strategy: strategy, Message: errText(err)})
}

// PhaseStart implements Logger.
func (r *Reporter) PhaseStart(phase Phase) {
	r.emit(Event{Stage: StagePhaseStart, Level: LevelDebug, Phase: phase})
}

// PhaseDone implements Logger.
func (r *Reporter) PhaseDone(phase Phase, detail string) {
	r.emit(Event{Stage: StagePhaseDone, Phase: phase, Message: detail})
}

// PhaseFailed implements Logger.
func (r *Reporter) PhaseFailed(phase Phase, err error) {
	r.emit(Event{Stage: StagePhaseFailed, Level: LevelError, Phase: phase, Message: errText(err)})
}

// ImagesProgress implements Logger.
func (r *Reporter) ImagesProgress(done, total int) {
	r.emit(Event{Stage: StageImages, Level: LevelDebug, Index: done, Total: total})
}

// ImagesDone implements Logger.
func (r *Reporter) ImagesDone(downloaded, total int) {
	r.emit(Event{Stage: StageImagesDone, Succeeded: downloaded, Failed: total - downloaded, Total: total})
}

// URLSuccess implements Logger.
func (r *Reporter) URLSuccess(url string, dur time.Duration) {
	r.emit(Event{Stage: StageURLSuccess, Level: LevelSuccess, URL: url, Dur: dur})
}

// URLFailed implements Logger.
func (r *Reporter) URLFailed(url string, err error) {
	r.emit(Event{Stage: StageURLFailed, Level: LevelError, URL: url, Message: errText(err)})
}

// BatchSummary implements Logger.
func (r *Reporter) BatchSummary(succeeded, failed, total int, dur time.Duration) {
	r.emit(Event{
		Stage:     StageBatchSummary,
		Succeeded: succeeded,
		Failed:    failed,
		Total:     total,
		Dur:       dur,
	})
}

// Stopped implements Logger.
func (r *Reporter) Stopped(reason string) {
	r.emit(Event{Stage: StageStopped, Level: LevelWarning, Message: reason})
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
