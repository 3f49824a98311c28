package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/article2md/internal/progress"
)

// LogSink renders progress events as structured zap entries, mapping event
// levels onto zap levels.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if ce := s.logger.Check(zapLevel(evt.Level), message(evt)); ce != nil {
			ce.Write(fields(evt)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

func zapLevel(level progress.Level) zapcore.Level {
	switch level {
	case progress.LevelDebug:
		return zapcore.DebugLevel
	case progress.LevelWarning:
		return zapcore.WarnLevel
	case progress.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func message(evt progress.Event) string {
	if evt.Stage == progress.StageMessage && evt.Message != "" {
		return evt.Message
	}
	return "progress: " + string(evt.Stage)
}

func fields(evt progress.Event) []zap.Field {
	out := []zap.Field{
		zap.String("batch_id", evt.BatchID),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.Level == progress.LevelSuccess {
		out = append(out, zap.Bool("success", true))
	}
	if evt.URL != "" {
		out = append(out, zap.String("url", evt.URL))
	}
	if evt.Total > 0 {
		out = append(out, zap.Int("index", evt.Index), zap.Int("total", evt.Total))
	}
	if evt.Strategy != "" {
		out = append(out, zap.String("strategy", evt.Strategy))
	}
	if evt.Attempt > 0 {
		out = append(out, zap.Int("attempt", evt.Attempt), zap.Int("max_attempts", evt.MaxAttempts))
	}
	if evt.Phase != "" {
		out = append(out, zap.String("phase", string(evt.Phase)))
	}
	if evt.Stage == progress.StageBatchSummary || evt.Stage == progress.StageImagesDone {
		out = append(out, zap.Int("succeeded", evt.Succeeded), zap.Int("failed", evt.Failed))
	}
	if evt.Dur > 0 {
		out = append(out, zap.Duration("dur", evt.Dur))
	}
	if evt.Stage != progress.StageMessage && evt.Message != "" {
		out = append(out, zap.String("note", evt.Message))
	}
	return out
}
