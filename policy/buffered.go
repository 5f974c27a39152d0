package policy

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/pithecene-io/waypoint/log"
	"github.com/pithecene-io/waypoint/types"
)

// BufferedConfig configures a BufferedPolicy.
type BufferedConfig struct {
	// MaxBufferEvents bounds the number of buffered envelopes. 0 means unbounded.
	MaxBufferEvents int
	// MaxBufferBytes bounds the estimated buffered size. 0 means unbounded.
	MaxBufferBytes int64
	// Logger receives drop and overflow diagnostics. May be nil.
	Logger *log.Logger
}

// DefaultBufferedConfig returns the defaults used by the CLI.
func DefaultBufferedConfig() BufferedConfig {
	return BufferedConfig{
		MaxBufferEvents: 1000,
		MaxBufferBytes:  10 * 1024 * 1024, // 10 MB
	}
}

// ErrBufferFull is returned when the buffer is full and the envelope may not be dropped.
var ErrBufferFull = errors.New("buffer full: cannot accept non-droppable frame")

// ErrInvalidConfig is returned when neither limit is set.
var ErrInvalidConfig = errors.New("invalid config: at least one of MaxBufferEvents or MaxBufferBytes must be set")

// BufferedPolicy holds envelopes in a bounded buffer and writes them in one
// batch per flush.
//
// When the buffer is full an incoming droppable frame is dropped. A
// non-droppable frame evicts the oldest buffered droppable frame instead; if
// there is none the frame is rejected with ErrBufferFull. A failed flush
// keeps the whole buffer so the next flush retries it, preferring
// duplicates over loss.
type BufferedPolicy struct {
	sink   Sink
	config BufferedConfig
	logger *log.Logger

	mu          sync.Mutex // guards buffer state only
	buffer      []*types.EventEnvelope
	bufferBytes int64
	stats       *statsRecorder
}

// NewBufferedPolicy creates a buffered policy.
func NewBufferedPolicy(sink Sink, config BufferedConfig) (*BufferedPolicy, error) {
	if config.MaxBufferEvents <= 0 && config.MaxBufferBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	return &BufferedPolicy{
		sink:   sink,
		config: config,
		logger: config.Logger,
		buffer: make([]*types.EventEnvelope, 0, min(max(config.MaxBufferEvents, 64), 1024)),
		stats:  newStatsRecorder(),
	}, nil
}

// IngestEvent buffers the envelope, applying drop rules when full.
func (p *BufferedPolicy) IngestEvent(_ context.Context, envelope *types.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.incTotalEventsLocked()
	size := EstimateSize(envelope)

	if p.hasRoom(size) {
		p.appendLocked(envelope, size)
		return nil
	}

	if IsDroppable(envelope.Type()) {
		p.stats.incEventsDroppedLocked(envelope.Type())
		p.logDrop(envelope.Type(), "buffer_full")
		return nil
	}

	for !p.hasRoom(size) && p.dropOldestDroppable() {
	}
	if p.hasRoom(size) {
		p.appendLocked(envelope, size)
		return nil
	}

	p.stats.incErrorsLocked()
	p.logBufferOverflow(envelope.Type())
	return ErrBufferFull
}

func (p *BufferedPolicy) appendLocked(envelope *types.EventEnvelope, size int64) {
	p.buffer = append(p.buffer, envelope)
	p.bufferBytes += size
	p.stats.setBufferSizeLocked(p.bufferBytes)
}

// Flush writes the buffered envelopes in seq order.
// Envelopes ingested while the write is in flight stay buffered.
func (p *BufferedPolicy) Flush(ctx context.Context) error {
	p.mu.Lock()
	p.stats.incFlushLocked()
	batch := slices.Clone(p.buffer)
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := p.sink.WriteEvents(ctx, batch); err != nil {
		p.mu.Lock()
		p.stats.incErrorsLocked()
		p.mu.Unlock()
		p.logFlushFailure(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.incEventsPersistedLocked(int64(len(batch)))
	p.removeFlushedLocked(batch)
	return nil
}

// removeFlushedLocked drops the written envelopes from the buffer. Eviction
// during the write may have removed some of them already, so removal is by
// identity rather than by prefix length.
func (p *BufferedPolicy) removeFlushedLocked(batch []*types.EventEnvelope) {
	written := make(map[*types.EventEnvelope]struct{}, len(batch))
	for _, e := range batch {
		written[e] = struct{}{}
	}
	kept := p.buffer[:0]
	var bytes int64
	for _, e := range p.buffer {
		if _, ok := written[e]; ok {
			continue
		}
		kept = append(kept, e)
		bytes += EstimateSize(e)
	}
	clear(p.buffer[len(kept):])
	p.buffer = kept
	p.bufferBytes = bytes
	p.stats.setBufferSizeLocked(bytes)
}

// Close flushes (best effort) and closes the sink.
func (p *BufferedPolicy) Close() error {
	_ = p.Flush(context.Background())
	return p.sink.Close()
}

// Stats returns an atomic snapshot taken under the buffer lock.
func (p *BufferedPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.snapshotLocked(p.bufferBytes)
}

func (p *BufferedPolicy) hasRoom(size int64) bool {
	if p.config.MaxBufferEvents > 0 && len(p.buffer) >= p.config.MaxBufferEvents {
		return false
	}
	if p.config.MaxBufferBytes > 0 && p.bufferBytes+size > p.config.MaxBufferBytes {
		return false
	}
	return true
}

// dropOldestDroppable evicts the oldest droppable envelope. Caller must hold mu.
func (p *BufferedPolicy) dropOldestDroppable() bool {
	i := slices.IndexFunc(p.buffer, func(e *types.EventEnvelope) bool {
		return IsDroppable(e.Type())
	})
	if i < 0 {
		return false
	}
	evicted := p.buffer[i]
	p.buffer = slices.Delete(p.buffer, i, i+1)
	p.bufferBytes -= EstimateSize(evicted)
	p.stats.setBufferSizeLocked(p.bufferBytes)
	p.stats.incEventsDroppedLocked(evicted.Type())
	p.logDrop(evicted.Type(), "evicted_for_non_droppable")
	return true
}

// EstimateSize returns a rough byte size for buffer accounting.
func EstimateSize(envelope *types.EventEnvelope) int64 {
	ev := &envelope.Event
	size := int64(200)
	size += int64(len(ev.Content) + len(ev.Arguments) + len(ev.Error) + len(ev.Name))
	if ev.Payload != nil {
		for _, tc := range ev.Payload.ToolCalls {
			size += int64(len(tc.ID) + len(tc.Name) + len(tc.Arguments))
		}
	}
	return size
}

func (p *BufferedPolicy) logDrop(eventType types.EventType, reason string) {
	p.logger.Warn("frame dropped", map[string]any{
		"event_type": string(eventType),
		"reason":     reason,
		"policy":     "buffered",
	})
}

func (p *BufferedPolicy) logBufferOverflow(eventType types.EventType) {
	p.logger.Error("buffer overflow", map[string]any{
		"event_type": string(eventType),
		"policy":     "buffered",
	})
}

func (p *BufferedPolicy) logFlushFailure(err error) {
	p.logger.Error("flush failed", map[string]any{
		"error":  err.Error(),
		"policy": "buffered",
	})
}
