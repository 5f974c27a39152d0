package lode

import (
	"context"

	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/policy"
	"github.com/pithecene-io/waypoint/types"
)

// InstrumentedSink counts write outcomes on a metrics collector.
// Counters are per call, not per envelope.
type InstrumentedSink struct {
	inner     policy.Sink
	collector *metrics.Collector
}

// NewInstrumentedSink wraps inner.
func NewInstrumentedSink(inner policy.Sink, collector *metrics.Collector) *InstrumentedSink {
	return &InstrumentedSink{inner: inner, collector: collector}
}

// WriteEvents delegates and records success or failure.
func (s *InstrumentedSink) WriteEvents(ctx context.Context, events []*types.EventEnvelope) error {
	err := s.inner.WriteEvents(ctx, events)
	if err != nil {
		s.collector.IncLodeWriteFailure()
	} else {
		s.collector.IncLodeWriteSuccess()
	}
	return err
}

// Close delegates to the inner sink.
func (s *InstrumentedSink) Close() error {
	return s.inner.Close()
}

var _ policy.Sink = (*InstrumentedSink)(nil)
