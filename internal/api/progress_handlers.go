package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/jobs"
	"github.com/JakeFAU/article2md/internal/progress"
)

const (
	defaultJobLimit    = 50
	maxJobLimit        = 500
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
	progressTimeout    = 3 * time.Second
)

// ProgressHandler exposes read-only job listing and progress endpoints.
type ProgressHandler struct {
	repo    jobs.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the store and logger.
func NewProgressHandler(repo jobs.Store, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListJobs handles GET /v1/jobs?status=&limit=&offset=. It returns
// {"jobs": [...]} newest first, 400 for invalid filters, 503 when the store
// is unavailable, or 500 if the store call fails.
func (h *ProgressHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *jobs.Status
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := jobs.ParseStatus(strings.ToLower(statusParam))
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	list, err := h.repo.ListJobs(ctx, status, limit, offset)
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": toJobDTOs(list)})
}

// ListEvents handles GET /v1/jobs/{job_id}/events?limit=&offset=. It returns
// {"events": [...]} oldest first, 404 for unknown jobs, or 400 for invalid
// paging.
func (h *ProgressHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultEventsLimit, maxEventsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	events, err := h.repo.ListEvents(ctx, jobID, limit, offset)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("list job events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list job events")
		return
	}
	if events == nil {
		events = []progress.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func toJobDTOs(in []jobs.Job) []jobDTO {
	out := make([]jobDTO, 0, len(in))
	for _, job := range in {
		out = append(out, jobDTO{
			ID:        job.ID,
			Status:    string(job.Status),
			Submitted: job.Submitted,
			Started:   job.Started,
			Finished:  job.Finished,
			Requests:  len(job.Parameters.Requests),
			Succeeded: job.Counters.Succeeded,
			Failed:    job.Counters.Failed,
			ErrorText: job.ErrorText,
			StopAsked: job.StopRequested,
		})
	}
	return out
}

// jobDTO is the list view of a job; items and parameters are left to the
// single-job endpoint.
type jobDTO struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	Requests  int        `json:"requests"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	ErrorText string     `json:"error_text,omitempty"`
	StopAsked bool       `json:"stop_requested"`
}
