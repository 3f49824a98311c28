package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/article"
	"github.com/JakeFAU/article2md/internal/config"
	"github.com/JakeFAU/article2md/internal/dispatcher"
	"github.com/JakeFAU/article2md/internal/jobs"
	"github.com/JakeFAU/article2md/internal/metrics"
	queueMemory "github.com/JakeFAU/article2md/internal/queue/memory"
	"github.com/JakeFAU/article2md/internal/storage/memory"
)

type testServer struct {
	*Server
	store *memory.JobStore
	queue *queueMemory.Queue
}

func newTestServer(t *testing.T, mutate func(*config.Config), ids ...string) *testServer {
	t.Helper()
	cfg := config.Config{
		Options: article.DefaultOptions(),
		Server:  config.ServerConfig{RequestTimeout: 5 * time.Second},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	store := memory.NewJobStore(memory.Config{})
	q := queueMemory.NewQueue(10)
	srv := NewServer(store, dispatcher.New(q, nil, nil), &fakeIDGen{ids: ids},
		&fakeClock{now: time.Unix(100, 0).UTC()}, cfg, zap.NewNop())
	return &testServer{Server: srv, store: store, queue: q}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SubmitJob_Succeeds(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, "job-1")
	rec := s.do(http.MethodPost, "/v1/jobs", `{
		"urls": ["https://example.com/post", " "],
		"html": [{"content": "<article><p>hi</p></article>", "base_url": "https://example.com/"}],
		"options": {"download_images": false, "proxy": "http://127.0.0.1:7890"}
	}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"job_id":"job-1"`)

	item, err := s.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-1", item.JobID)
	require.Len(t, item.Params.Requests, 2)
	assert.Equal(t, article.KindURL, item.Params.Requests[0].Kind)
	assert.Equal(t, article.KindHTML, item.Params.Requests[1].Kind)
	assert.Equal(t, "https://example.com/", item.Params.Requests[1].BaseURL)

	opts := item.Params.Options
	assert.False(t, opts.DownloadImages)
	assert.True(t, opts.FilterNonContent, "unset options keep the configured default")
	assert.True(t, opts.UseSharedBrowser)
	assert.Equal(t, "http://127.0.0.1:7890", opts.Proxy)

	job, err := s.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, job.Status)
	assert.Equal(t, 2, job.Counters.Total)
}

func TestServer_SubmitJob_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"empty", `{"urls":[]}`, "urls or html required"},
		{"scheme", `{"urls":["ftp://example.com/x"]}`, "invalid url"},
		{"no host", `{"urls":["https://"]}`, "invalid url"},
		{"blank html", `{"html":[{"content":"  "}]}`, "html content required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, nil)
			rec := s.do(http.MethodPost, "/v1/jobs", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
			assert.Zero(t, s.queue.Len())
		})
	}
}

func TestServer_SubmitJob_QueueClosed(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, "job-late")
	s.queue.Close()
	rec := s.do(http.MethodPost, "/v1/jobs", `{"urls":["https://example.com"]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	job, err := s.store.GetJob(context.Background(), "job-late")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, "job-get")
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/jobs", `{"urls":["https://example.com"]}`).Code)

	rec := s.do(http.MethodGet, "/v1/jobs/job-get", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Job jobs.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job-get", body.Job.ID)
	assert.Equal(t, jobs.StatusQueued, body.Job.Status)

	require.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/jobs/missing", "").Code)
}

func TestServer_StopJob(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil, "job-stop")
	require.Equal(t, http.StatusAccepted, s.do(http.MethodPost, "/v1/jobs", `{"urls":["https://example.com"]}`).Code)

	rec := s.do(http.MethodPost, "/v1/jobs/job-stop/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"canceled"`)
	assert.Contains(t, rec.Body.String(), `"stop_requested":true`)

	require.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/jobs/missing/stop", "").Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	})

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "").Code, "probes stay open")
	require.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/v1/jobs", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/v1/jobs?api_key=secret", "").Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	store := memory.NewJobStore(memory.Config{})
	srv := NewServer(store, dispatcher.New(queueMemory.NewQueue(1), nil, m), &fakeIDGen{},
		&fakeClock{}, config.Config{}, zap.NewNop(), WithMetrics(m, reg))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `article2md_http_requests_total{code="200",method="GET"} 1`)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	rec := s.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOptionsRequestApply(t *testing.T) {
	t.Parallel()

	no := false
	def := article.DefaultOptions()
	def.OutDir = "/srv"
	got := optionsRequest{FilterNonContent: &no}.apply(def)
	assert.False(t, got.FilterNonContent)
	assert.True(t, got.DownloadImages)
	assert.Empty(t, got.OutDir)
}

// --- helpers/fakes ---

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return "id-default", nil
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
