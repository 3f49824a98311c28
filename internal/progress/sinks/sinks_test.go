package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/article2md/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{BatchID: "b1", TS: now, Stage: progress.StageBatchStart},
		{BatchID: "b1", TS: now, Stage: progress.StageFetchRetry, Strategy: "lightweight"},
		{BatchID: "b1", TS: now, Stage: progress.StageFetchFailed, Strategy: "lightweight"},
		{BatchID: "b1", TS: now, Stage: progress.StageFetchSuccess, Strategy: "headless"},
		{BatchID: "b1", TS: now, Stage: progress.StageImagesDone, Succeeded: 3, Failed: 1},
		{BatchID: "b1", TS: now, Stage: progress.StageURLSuccess, Dur: 2 * time.Second},
		{BatchID: "b1", TS: now, Stage: progress.StageURLFailed},
		{BatchID: "b1", TS: now, Stage: progress.StageBatchSummary, Dur: 5 * time.Second},
		// A second summary for the same batch must not double count.
		{BatchID: "b1", TS: now, Stage: progress.StageBatchSummary, Dur: 5 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.batchesRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesCompleted.WithLabelValues("completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.urls.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.urls.WithLabelValues("failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("lightweight", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetches.WithLabelValues("headless", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.retries.WithLabelValues("lightweight")))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.images.WithLabelValues("downloaded")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.images.WithLabelValues("failed")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.urlDuration, "article2md_url_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkMapsLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "b", TS: now, Stage: progress.StageMessage, Level: progress.LevelWarning, Message: "careful"},
		{BatchID: "b", TS: now, Stage: progress.StageURLFailed, Level: progress.LevelError, URL: "https://x", Message: "boom"},
		{BatchID: "b", TS: now, Stage: progress.StageFetchStart, Level: progress.LevelDebug, Strategy: "headless"},
	}))

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, "careful", entries[0].Message)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	require.Equal(t, "boom", entries[1].ContextMap()["note"])
	require.Equal(t, "headless", entries[2].ContextMap()["strategy"])
}

type fakeRecorder struct {
	calls map[string][]progress.Event
	err   error
}

func (f *fakeRecorder) AppendEvents(_ context.Context, id string, events []progress.Event) error {
	if f.err != nil {
		return f.err
	}
	if f.calls == nil {
		f.calls = map[string][]progress.Event{}
	}
	f.calls[id] = append(f.calls[id], events...)
	return nil
}

func TestStoreSinkGroupsByBatch(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	sink := NewStoreSink(rec, nil)
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "a", TS: now, Stage: progress.StageBatchStart},
		{BatchID: "b", TS: now, Stage: progress.StageBatchStart},
		{BatchID: "a", TS: now, Stage: progress.StageBatchSummary},
	}))
	require.Len(t, rec.calls["a"], 2)
	require.Equal(t, progress.StageBatchSummary, rec.calls["a"][1].Stage)
	require.Len(t, rec.calls["b"], 1)

	rec.err = errors.New("down")
	require.Error(t, sink.Consume(context.Background(), []progress.Event{{BatchID: "a"}}))
}
