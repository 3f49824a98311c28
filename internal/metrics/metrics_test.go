package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err, "duplicate registration")
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.JobQueued()
	m.JobQueued()
	m.JobStarted()
	assert.InDelta(t, 1, testutil.ToFloat64(m.queued), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.activeWorkers), 0)

	m.JobFinished("completed")
	assert.InDelta(t, 0, testutil.ToFloat64(m.activeWorkers), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.jobs.WithLabelValues("completed")), 0)
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.JobQueued()
	m.JobStarted()
	m.JobFinished("failed")
	m.ObserveHTTPRequest("GET", "/healthz", 200, time.Millisecond)
}
