package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/article2md/internal/progress"
)

// EventRecorder persists progress events per batch.
type EventRecorder interface {
	AppendEvents(ctx context.Context, batchID string, events []progress.Event) error
}

// StoreSink groups a batch of events by batch ID and forwards them to an
// EventRecorder, one call per batch ID.
type StoreSink struct {
	recorder EventRecorder
	logger   *zap.Logger
}

// NewStoreSink constructs a StoreSink for recorder.
func NewStoreSink(recorder EventRecorder, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{recorder: recorder, logger: logger}
}

// Consume forwards events grouped by batch ID, preserving their order.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	order := make([]string, 0, 1)
	grouped := make(map[string][]progress.Event)
	for _, evt := range batch {
		if _, seen := grouped[evt.BatchID]; !seen {
			order = append(order, evt.BatchID)
		}
		grouped[evt.BatchID] = append(grouped[evt.BatchID], evt)
	}
	for _, id := range order {
		if err := s.recorder.AppendEvents(ctx, id, grouped[id]); err != nil {
			return fmt.Errorf("append events for %s: %w", id, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
