package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/config"
	"github.com/JakeFAU/article2md/internal/dispatcher"
	"github.com/JakeFAU/article2md/internal/jobs"
	"github.com/JakeFAU/article2md/internal/metrics"
)

const (
	enqueueTimeout        = 5 * time.Second
	maxSubmitBody         = 4 << 20
	maxJobRequests        = 200
	defaultRequestTimeout = 60 * time.Second
)

// Server wires HTTP handlers to the dispatcher and job store.
type Server struct {
	router     chi.Router
	jobStore   jobs.Store
	dispatcher *dispatcher.Dispatcher
	idGen      jobs.IDGenerator
	clock      jobs.Clock
	cfg        config.Config
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics records request metrics into m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore jobs.Store,
	dispatcher *dispatcher.Dispatcher,
	idGen jobs.IDGenerator,
	clock jobs.Clock,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(s.metrics.Middleware)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.gatherer))

	ph := NewProgressHandler(jobStore, logger)
	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", ph.ListJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/events", ph.ListEvents)
				r.Post("/stop", s.stopJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.jobStore == nil || s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusServiceUnavailable
		case errors.Is(err, jobs.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(jobs.StatusQueued),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.RequestStop(r.Context(), jobID)
	if err != nil {
		s.storeError(w, err, "failed to stop job")
		return
	}
	s.logger.Info("stop requested", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":         jobID,
		"status":         job.Status,
		"stop_requested": job.StopRequested,
	})
}

func (s *Server) storeError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg)
}

func (s *Server) enqueueJob(ctx context.Context, params jobs.Parameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := jobs.Job{
		ID:         jobID,
		Status:     jobs.StatusQueued,
		Submitted:  now,
		Parameters: params,
		Counters:   jobs.Counters{Total: len(params.Requests)},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := jobs.QueueItem{
		JobID:     jobID,
		Params:    params,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		failed := jobs.Update{Status: jobs.StatusFailed, ErrorText: "not queued", Counters: job.Counters}
		if upErr := s.jobStore.UpdateJob(context.WithoutCancel(ctx), jobID, failed); upErr != nil {
			s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(upErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toParameters(req submitRequest) (jobs.Parameters, error) {
	var requests []article.SourceRequest
	for _, raw := range req.URLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return jobs.Parameters{}, fmt.Errorf("invalid url %q", raw)
		}
		requests = append(requests, article.URLRequest(raw))
	}
	for _, doc := range req.HTML {
		if strings.TrimSpace(doc.Content) == "" {
			return jobs.Parameters{}, errors.New("html content required")
		}
		requests = append(requests, article.SourceRequest{
			Kind:    article.KindHTML,
			Value:   doc.Content,
			BaseURL: doc.BaseURL,
		})
	}
	if len(requests) == 0 {
		return jobs.Parameters{}, errors.New("urls or html required")
	}
	if len(requests) > maxJobRequests {
		return jobs.Parameters{}, fmt.Errorf("at most %d requests per job", maxJobRequests)
	}
	return jobs.Parameters{
		Requests: requests,
		Options:  req.Options.apply(s.cfg.Options),
	}, nil
}

type submitRequest struct {
	URLs    []string       `json:"urls"`
	HTML    []inlineHTML   `json:"html"`
	Options optionsRequest `json:"options"`
}

type inlineHTML struct {
	Content string `json:"content"`
	BaseURL string `json:"base_url"`
}

// optionsRequest overrides the configured defaults field by field. The
// output directory is chosen by the server.
type optionsRequest struct {
	DownloadImages    *bool   `json:"download_images"`
	FilterNonContent  *bool   `json:"filter_non_content"`
	UseSharedBrowser  *bool   `json:"use_shared_browser"`
	IgnoreSSL         *bool   `json:"ignore_ssl"`
	Proxy             *string `json:"proxy"`
	CompactImageNames *bool   `json:"compact_image_names"`
}

func (o optionsRequest) apply(def article.ConversionOptions) article.ConversionOptions {
	out := def
	out.DownloadImages = valueOrDefault(o.DownloadImages, def.DownloadImages)
	out.FilterNonContent = valueOrDefault(o.FilterNonContent, def.FilterNonContent)
	out.UseSharedBrowser = valueOrDefault(o.UseSharedBrowser, def.UseSharedBrowser)
	out.IgnoreSSL = valueOrDefault(o.IgnoreSSL, def.IgnoreSSL)
	out.Proxy = valueOrDefault(o.Proxy, def.Proxy)
	out.CompactImageNames = valueOrDefault(o.CompactImageNames, def.CompactImageNames)
	out.OutDir = ""
	return out
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
