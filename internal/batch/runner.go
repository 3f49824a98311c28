// Package batch converts a list of source requests one after another and
// writes each document as it completes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/handler"
	"github.com/JakeFAU/article2md/internal/output"
	"github.com/JakeFAU/article2md/internal/progress"
)

// Status is the terminal state of a batch.
type Status string

// Batch states.
const (
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusCanceled  Status = "canceled"
)

// Converter turns one request into a document. *handler.Dispatcher
// implements it.
type Converter interface {
	Dispatch(ctx context.Context, req article.SourceRequest, call handler.Call) (article.ConvertResult, error)
}

// Writer persists a finished document and returns where it went.
type Writer interface {
	Write(ctx context.Context, res article.ConvertResult) (string, error)
}

// Batch is one unit of work for Run.
type Batch struct {
	Requests []article.SourceRequest
	Options  article.ConversionOptions
	Stop     article.StopFunc
	Progress progress.Logger
}

// Item is the outcome of one request.
type Item struct {
	Source  string               `json:"source"`
	Handler string               `json:"handler,omitempty"`
	Title   string               `json:"title,omitempty"`
	Path    string               `json:"path,omitempty"`
	Images  article.ImageSummary `json:"images"`
	Error   string               `json:"error,omitempty"`
	Err     error                `json:"-"`
}

// Summary aggregates a batch.
type Summary struct {
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Total     int           `json:"total"`
	Status    Status        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Items     []Item        `json:"items"`
}

// Runner executes batches sequentially. It is safe to share between
// goroutines but runs one request at a time per Run call.
type Runner struct {
	conv      Converter
	newWriter func(dir string) (Writer, error)
	now       func() time.Time
	logger    *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithWriterFactory replaces the filesystem writer.
func WithWriterFactory(fn func(dir string) (Writer, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.newWriter = fn
		}
	}
}

// WithClock sets the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(conv Converter, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		conv: conv,
		newWriter: func(dir string) (Writer, error) {
			return output.New(output.Config{Dir: dir})
		},
		now:    time.Now,
		logger: logger.Named("batch"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes b.Requests in order. A failed request never aborts the
// batch; a stop request ends it between requests, or inside the current one
// at its next checkpoint, with StatusStopped. The error return is reserved
// for setup failures such as an unusable output directory.
func (r *Runner) Run(ctx context.Context, b Batch) (Summary, error) {
	log := b.Progress
	if log == nil {
		log = progress.Nop()
	}
	dir := b.Options.OutDir
	if dir == "" {
		dir = "."
		b.Options.OutDir = dir
	}
	writer, err := r.newWriter(dir)
	if err != nil {
		return Summary{}, fmt.Errorf("prepare output: %w", err)
	}

	start := r.now()
	total := len(b.Requests)
	sum := Summary{Total: total, Status: StatusCompleted}
	log.BatchStart(total)
	r.logger.Info("batch started", zap.Int("total", total), zap.String("out_dir", dir))

	for i, req := range b.Requests {
		if b.Stop.Stopped() {
			sum.Status = StatusStopped
			break
		}
		if ctx.Err() != nil {
			sum.Status = StatusCanceled
			break
		}
		log.TaskStatus(i+1, total, req.Label())
		item, err := r.one(ctx, writer, req, b, log)
		if err != nil && (errors.Is(err, article.ErrStopRequested) || ctx.Err() != nil) {
			sum.Status = StatusStopped
			if ctx.Err() != nil && !errors.Is(err, article.ErrStopRequested) {
				sum.Status = StatusCanceled
			}
			break
		}
		sum.Items = append(sum.Items, item)
		if err != nil {
			sum.Failed++
			continue
		}
		sum.Succeeded++
	}

	sum.Duration = r.now().Sub(start)
	if sum.Status == StatusStopped {
		log.Stopped("stop requested")
	}
	log.BatchSummary(sum.Succeeded, sum.Failed, total, sum.Duration)
	r.logger.Info("batch finished",
		zap.String("status", string(sum.Status)),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("total", total),
		zap.Duration("duration", sum.Duration),
	)
	return sum, nil
}

func (r *Runner) one(
	ctx context.Context,
	writer Writer,
	req article.SourceRequest,
	b Batch,
	log progress.Logger,
) (Item, error) {
	label := req.Label()
	item := Item{Source: label}
	start := r.now()

	res, err := r.conv.Dispatch(ctx, req, handler.Call{Options: b.Options, Stop: b.Stop, Progress: log})
	if err == nil {
		item.Handler = res.Handler
		item.Title = res.Title
		item.Images = res.Images
		log.PhaseStart(progress.PhaseWrite)
		item.Path, err = writer.Write(ctx, res)
		if err != nil {
			log.PhaseFailed(progress.PhaseWrite, err)
		} else {
			log.PhaseDone(progress.PhaseWrite, item.Path)
		}
	}
	if err != nil {
		item.Err = err
		item.Error = err.Error()
		if !errors.Is(err, article.ErrStopRequested) {
			log.URLFailed(label, err)
			r.logger.Warn("conversion failed", zap.String("source", label), zap.Error(err))
		}
		return item, err
	}
	log.URLSuccess(label, r.now().Sub(start))
	r.logger.Debug("conversion succeeded",
		zap.String("source", label), zap.String("handler", item.Handler), zap.String("path", item.Path))
	return item, nil
}
