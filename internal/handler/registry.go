package handler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/progress"
)

// RunFunc processes one matched URL.
type RunFunc func(ctx context.Context, env *Env, u *url.URL) Outcome

// Descriptor registers a handler.
type Descriptor struct {
	Name    string
	Matcher func(u *url.URL) bool
	Run     RunFunc
	// PrefersSharedBrowser lets headless strategies reuse the shared
	// browser. Sites that fingerprint aggressively turn it off.
	PrefersSharedBrowser bool
}

// Registry keeps descriptors in registration order.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
}

// NewRegistry registers descs in order.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{}
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends d. Names must be unique and Matcher and Run set.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" || d.Matcher == nil || d.Run == nil {
		return fmt.Errorf("descriptor %q: name, matcher and run are required", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.descriptors {
		if existing.Name == d.Name {
			return fmt.Errorf("descriptor %q already registered", d.Name)
		}
	}
	r.descriptors = append(r.descriptors, d)
	return nil
}

// Descriptors returns a snapshot in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Descriptor(nil), r.descriptors...)
}

// Call carries the per-batch inputs of a Dispatch.
type Call struct {
	Options  article.ConversionOptions
	Stop     article.StopFunc
	Progress progress.Logger
}

// Dispatcher routes requests through the registry and falls back to the
// generic handler.
type Dispatcher struct {
	deps     *Deps
	registry *Registry
	generic  Descriptor
	logger   *zap.Logger
}

// NewDispatcher builds a Dispatcher. A nil registry means no site handlers.
func NewDispatcher(deps *Deps, registry *Registry) *Dispatcher {
	if deps == nil {
		deps = &Deps{}
	}
	deps = deps.withDefaults()
	if registry == nil {
		registry = &Registry{}
	}
	return &Dispatcher{
		deps:     deps,
		registry: registry,
		generic:  GenericDescriptor(),
		logger:   deps.Logger.Named("dispatch"),
	}
}

// Dispatch converts one request. It returns exactly one result or one error;
// the error wraps article.ErrAllHandlersFailed unless the batch was stopped
// or ctx ended.
func (d *Dispatcher) Dispatch(ctx context.Context, req article.SourceRequest, call Call) (article.ConvertResult, error) {
	if call.Progress == nil {
		call.Progress = progress.Nop()
	}
	switch req.Kind {
	case article.KindHTML, article.KindFile:
		env := d.env(call, d.generic)
		res, err := convertOffline(ctx, env, req)
		if err != nil {
			return article.ConvertResult{}, d.exhausted(req, err)
		}
		res.Handler = d.generic.Name
		return res, nil
	case article.KindURL, "":
	default:
		return article.ConvertResult{}, fmt.Errorf("%w: unknown source kind %q", article.ErrParseFailure, req.Kind)
	}

	u, err := parseURL(req.Value)
	if err != nil {
		return article.ConvertResult{}, d.exhausted(req, err)
	}

	for _, desc := range d.registry.Descriptors() {
		if err := d.interrupted(ctx, call.Stop); err != nil {
			return article.ConvertResult{}, err
		}
		if !desc.Matcher(u) {
			continue
		}
		out := d.run(ctx, desc, d.env(call, desc), u)
		switch out.Kind {
		case Applicable:
			out.Result.Handler = desc.Name
			return out.Result, nil
		case Failed:
			if d.fatal(ctx, out.Err) {
				return article.ConvertResult{}, out.Err
			}
			d.logger.Warn("handler failed, falling back",
				zap.String("handler", desc.Name), zap.String("url", req.Value), zap.Error(out.Err))
			call.Progress.Warning(fmt.Sprintf("%s handler failed: %v", desc.Name, out.Err))
		default:
			d.logger.Debug("handler not applicable", zap.String("handler", desc.Name), zap.String("url", req.Value))
		}
	}

	if err := d.interrupted(ctx, call.Stop); err != nil {
		return article.ConvertResult{}, err
	}
	out := d.run(ctx, d.generic, d.env(call, d.generic), u)
	switch out.Kind {
	case Applicable:
		out.Result.Handler = d.generic.Name
		return out.Result, nil
	case Failed:
		if d.fatal(ctx, out.Err) {
			return article.ConvertResult{}, out.Err
		}
		return article.ConvertResult{}, d.exhausted(req, out.Err)
	default:
		return article.ConvertResult{}, d.exhausted(req, article.ErrNotApplicable)
	}
}

func (d *Dispatcher) env(call Call, desc Descriptor) *Env {
	return &Env{
		Deps:          d.deps,
		Options:       call.Options,
		Stop:          call.Stop,
		Progress:      call.Progress,
		PrefersShared: desc.PrefersSharedBrowser,
		Logger:        d.deps.Logger.Named(desc.Name),
	}
}

// run calls desc.Run, turning a panic into a failure.
func (d *Dispatcher) run(ctx context.Context, desc Descriptor, env *Env, u *url.URL) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("handler panic", zap.String("handler", desc.Name), zap.Any("panic", rec))
			out = Fail(fmt.Errorf("handler %s panicked: %v", desc.Name, rec))
		}
	}()
	return desc.Run(ctx, env, u)
}

func (d *Dispatcher) interrupted(ctx context.Context, stop article.StopFunc) error {
	if stop.Stopped() {
		return article.ErrStopRequested
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch canceled: %w", err)
	}
	return nil
}

func (d *Dispatcher) fatal(ctx context.Context, err error) bool {
	return errors.Is(err, article.ErrStopRequested) || ctx.Err() != nil
}

func (d *Dispatcher) exhausted(req article.SourceRequest, cause error) error {
	return fmt.Errorf("%w for %s: %w", article.ErrAllHandlersFailed, req.Label(), cause)
}

func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", article.ErrParseFailure, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: not an http(s) url: %q", article.ErrParseFailure, raw)
	}
	return u, nil
}
