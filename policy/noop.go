package policy

import (
	"context"

	"github.com/pithecene-io/waypoint/types"
)

// NoopPolicy accepts envelopes without persisting them. It is used when the
// journal is disabled.
//
// Counters keep the droppable split so stats read the same as a real policy:
// droppable frames count as dropped, the rest count as persisted.
type NoopPolicy struct {
	stats *statsRecorder
}

// NewNoopPolicy creates a no-op policy.
func NewNoopPolicy() *NoopPolicy {
	return &NoopPolicy{stats: newStatsRecorder()}
}

// IngestEvent counts the envelope and discards it.
func (p *NoopPolicy) IngestEvent(_ context.Context, envelope *types.EventEnvelope) error {
	p.stats.with(func(s *Stats) {
		s.TotalEvents++
		if IsDroppable(envelope.Type()) {
			s.EventsDropped++
			s.DroppedByType[envelope.Type()]++
			return
		}
		s.EventsPersisted++
	})
	return nil
}

// Flush does nothing.
func (p *NoopPolicy) Flush(_ context.Context) error { return nil }

// Close does nothing.
func (p *NoopPolicy) Close() error { return nil }

// Stats returns policy statistics.
func (p *NoopPolicy) Stats() Stats {
	return p.stats.snapshot()
}
