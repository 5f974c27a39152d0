package policy

import (
	"context"

	"github.com/pithecene-io/waypoint/types"
)

// StrictPolicy writes every envelope through to the sink as it arrives.
// Nothing is buffered or dropped; the caller blocks on sink latency.
type StrictPolicy struct {
	sink  Sink
	stats *statsRecorder
}

// NewStrictPolicy creates a strict policy writing to sink.
func NewStrictPolicy(sink Sink) *StrictPolicy {
	return &StrictPolicy{sink: sink, stats: newStatsRecorder()}
}

// IngestEvent writes the envelope as a batch of one.
func (p *StrictPolicy) IngestEvent(ctx context.Context, envelope *types.EventEnvelope) error {
	p.stats.with(func(s *Stats) { s.TotalEvents++ })

	if err := p.sink.WriteEvents(ctx, []*types.EventEnvelope{envelope}); err != nil {
		p.stats.with(func(s *Stats) { s.Errors++ })
		return err
	}

	p.stats.with(func(s *Stats) { s.EventsPersisted++ })
	return nil
}

// Flush only counts the call; nothing is buffered.
func (p *StrictPolicy) Flush(_ context.Context) error {
	p.stats.with(func(s *Stats) { s.FlushCount++ })
	return nil
}

// Close closes the sink.
func (p *StrictPolicy) Close() error {
	return p.sink.Close()
}

// Stats returns policy statistics.
func (p *StrictPolicy) Stats() Stats {
	return p.stats.snapshot()
}
