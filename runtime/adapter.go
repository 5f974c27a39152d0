package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/waypoint/adapter"
	"github.com/pithecene-io/waypoint/checkpoint"
	"github.com/pithecene-io/waypoint/client"
	"github.com/pithecene-io/waypoint/hitl"
	"github.com/pithecene-io/waypoint/ipc"
	"github.com/pithecene-io/waypoint/log"
	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/policy"
	"github.com/pithecene-io/waypoint/toolkit"
	"github.com/pithecene-io/waypoint/types"
)

// ErrDetach is used as a cancellation cause when a run is abandoned without
// the user asking for it, e.g. when another run takes over the thread. A run
// cancelled with this cause does not fire Hooks.OnCancel.
var ErrDetach = errors.New("run detached")

// MsgMissingFeedbackCheckpoint is the visible error of a feedback run with
// no resolvable checkpoint.
const MsgMissingFeedbackCheckpoint = "Backend error: missing checkpoint_id for feedback."

// notifyTimeout bounds run-finished delivery once the run is over.
const notifyTimeout = 10 * time.Second

// Backend is the part of the chat backend a run talks to.
type Backend interface {
	Stream(ctx context.Context, req client.StreamRequest) (io.ReadCloser, error)
	Feedback(ctx context.Context, req client.FeedbackRequest) (io.ReadCloser, error)
}

// Exporter exports the current message tree.
type Exporter interface {
	Export() types.ExportedRepo
}

// JournalFactory opens the frame journal for one run.
type JournalFactory func(meta types.RunMeta) (policy.Policy, error)

// Hooks are optional lifecycle callbacks. They run synchronously except
// OnCancel, which runs on the goroutine that observes the cancellation.
type Hooks struct {
	// OnCancel is called when the run context is cancelled, unless the
	// cause is ErrDetach.
	OnCancel func(meta types.RunMeta)
	// OnFinish is called once per run with its outcome.
	OnFinish func(meta types.RunMeta, outcome types.RunOutcome)
	// OnError is called for journal and notification failures. They never
	// change the run's results.
	OnError func(meta types.RunMeta, err error)
}

// AdapterConfig configures an Adapter. Client, Index and Coordinator are
// required.
type AdapterConfig struct {
	Client      Backend
	Index       *checkpoint.Index
	Coordinator *hitl.Coordinator
	// Tools is the capability table. Tool calls naming tools outside it are
	// logged but still shown.
	Tools     *toolkit.Table
	Logger    *log.Logger
	Collector *metrics.Collector
	// Journal opens a per-run frame journal. Nil disables journaling.
	Journal JournalFactory
	// Notifier receives one RunFinishedEvent per run. May be nil.
	Notifier adapter.Adapter
	Hooks    Hooks
}

// RunRequest describes one run.
type RunRequest struct {
	ThreadID string
	// Messages is the conversation path ending at the run's parent.
	Messages []types.Message
	// ParentID is the message the assistant message hangs off.
	ParentID string
	// AssistantMessageID is the assistant message the run writes into.
	AssistantMessageID string
	// Lookup resolves ancestors during checkpoint resolution. Nil walks
	// Messages instead.
	Lookup checkpoint.MessageSource
	// Exporter provides the tree for the post-run index rebuild. Nil skips
	// the rebuild.
	Exporter Exporter
	// OnOpen is called once the backend accepted the request, before the
	// first frame is read. May be nil.
	OnOpen func()
	// Feedback makes the run a feedback resume. When nil the run takes the
	// batch queued with QueueFeedback, if any.
	Feedback *types.ApprovalData
}

// Adapter drives runs for one thread. The queued feedback slot is owned by
// the adapter; the checkpoint index and coordinator are shared with the
// session.
type Adapter struct {
	backend     Backend
	index       *checkpoint.Index
	coordinator *hitl.Coordinator
	tools       *toolkit.Table
	logger      *log.Logger
	collector   *metrics.Collector
	journal     JournalFactory
	notifier    adapter.Adapter
	hooks       Hooks

	mu       sync.Mutex
	feedback *types.ApprovalData
}

// NewAdapter creates a run adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Client == nil {
		return nil, errors.New("adapter: client is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("adapter: checkpoint index is required")
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("adapter: coordinator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Adapter{
		backend:     cfg.Client,
		index:       cfg.Index,
		coordinator: cfg.Coordinator,
		tools:       cfg.Tools,
		logger:      logger,
		collector:   cfg.Collector,
		journal:     cfg.Journal,
		notifier:    cfg.Notifier,
		hooks:       cfg.Hooks,
	}, nil
}

// Tools returns the capability table the adapter was built with.
func (a *Adapter) Tools() *toolkit.Table {
	return a.tools
}

// QueueFeedback stores a decision batch for the next run, replacing any
// batch already queued.
func (a *Adapter) QueueFeedback(approval types.ApprovalData) {
	a.mu.Lock()
	a.feedback = &approval
	a.mu.Unlock()
}

// HasFeedback reports whether a decision batch is queued.
func (a *Adapter) HasFeedback() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.feedback != nil
}

func (a *Adapter) takeFeedback() *types.ApprovalData {
	a.mu.Lock()
	defer a.mu.Unlock()
	fb := a.feedback
	a.feedback = nil
	return fb
}

// Run starts a run and returns its results.
//
// A queued decision batch makes the run a feedback resume; otherwise the
// last message, when it is a user message, is sent as a new turn. Every
// failure is reported as a final incomplete/error result, never as a panic
// or a missing result. When the stream ends with a captured checkpoint a
// metadata-only result carries it, and the checkpoint index is rebuilt from
// req.Exporter.
//
// The sequence is single-use. Run itself does no I/O; the request is issued
// when iteration starts.
func (a *Adapter) Run(ctx context.Context, req RunRequest) iter.Seq[types.RunResult] {
	return func(yield func(types.RunResult) bool) {
		feedback := req.Feedback
		if feedback == nil {
			feedback = a.takeFeedback()
		}

		meta := types.RunMeta{
			RunID:     uuid.NewString(),
			ThreadID:  req.ThreadID,
			MessageID: req.AssistantMessageID,
			ParentID:  req.ParentID,
			Kind:      types.RunKindMessage,
		}
		if feedback != nil {
			meta.Kind = types.RunKindFeedback
		}

		r := &run{
			adapter: a,
			meta:    meta,
			logger:  a.logger.ForRun(&meta),
			start:   time.Now(),
			yield:   yield,
		}
		if err := meta.Validate(); err != nil {
			r.fail(types.OutcomeLineageError, "Backend error: "+err.Error())
			r.finish(ctx)
			return
		}

		stop := context.AfterFunc(ctx, func() {
			if errors.Is(context.Cause(ctx), ErrDetach) {
				return
			}
			if a.hooks.OnCancel != nil {
				a.hooks.OnCancel(meta)
			}
		})
		defer stop()

		a.collector.IncRunStarted()
		r.logger.Info("run started", map[string]any{"feedback": feedback != nil})
		r.openJournal()
		defer r.finish(ctx)

		body, ok := r.open(ctx, req, feedback)
		if !ok {
			return
		}
		if req.OnOpen != nil {
			req.OnOpen()
		}
		if !r.stream(ctx, body) {
			return
		}
		r.complete(req)
	}
}

// run is the state of one Run invocation. It is confined to the iterating
// goroutine except for the cancellation hook, which only reads meta.
type run struct {
	adapter *Adapter
	meta    types.RunMeta
	logger  *log.Logger
	start   time.Time
	yield   func(types.RunResult) bool

	journal policy.Policy
	seq     int64

	last       *types.RunStatus
	lastText   string
	failure    types.OutcomeStatus
	ingestErr  error
	stopped    bool
	checkpoint string
	pending    []string
}

// emit forwards a result to the consumer and records what the outcome
// needs. Returns false when the consumer stopped.
func (r *run) emit(res types.RunResult) bool {
	if res.Status != nil {
		s := *res.Status
		r.last = &s
	}
	if n := len(res.Content); n > 0 && res.Content[n-1].Type == types.PartTypeText {
		r.lastText = res.Content[n-1].Text
	}
	if !r.yield(res) {
		r.stopped = true
		return false
	}
	return true
}

// fail emits the single visible result of a run that failed before
// streaming.
func (r *run) fail(kind types.OutcomeStatus, msg string) {
	r.failure = kind
	r.logger.Warn("run failed", map[string]any{"outcome": string(kind), "error": msg})
	r.emit(types.ErrorResult(msg))
}

// open resolves the checkpoint and issues the request.
func (r *run) open(ctx context.Context, req RunRequest, feedback *types.ApprovalData) (io.ReadCloser, bool) {
	a := r.adapter
	lookup := req.Lookup
	if lookup == nil {
		lookup = pathSource(req.Messages)
	}
	cp := a.index.Resolve(req.ParentID, lookup, req.Messages)

	var (
		body io.ReadCloser
		err  error
	)
	if feedback != nil {
		if cp == "" {
			a.collector.IncCheckpointMiss()
			r.fail(types.OutcomeLineageError, MsgMissingFeedbackCheckpoint)
			return nil, false
		}
		body, err = a.backend.Feedback(ctx, client.FeedbackRequest{
			ThreadID:     req.ThreadID,
			CheckpointID: cp,
			ApprovalData: *feedback,
		})
	} else {
		if lerr := checkpoint.Require(cp, req.ParentID, req.Messages); lerr != nil {
			a.collector.IncCheckpointMiss()
			r.fail(types.OutcomeLineageError, "Backend error: "+lerr.Error())
			return nil, false
		}
		sreq := client.StreamRequest{
			ThreadID: req.ThreadID,
			Message:  humanMessage(req.Messages),
		}
		if cp != "" {
			sreq.CheckpointID = &cp
		}
		body, err = a.backend.Stream(ctx, sreq)
	}

	if err != nil {
		if ctx.Err() != nil {
			r.ingestErr = &IngestError{Kind: IngestErrorCanceled, Err: ctx.Err()}
			s := types.StatusCancelled
			r.emit(types.RunResult{Status: &s})
			return nil, false
		}
		var se *client.StatusError
		if errors.As(err, &se) {
			r.fail(types.OutcomeTransportError, fmt.Sprintf("Backend error (%d): %s", se.Code, se.Body))
		} else {
			r.fail(types.OutcomeTransportError, "Backend error: "+err.Error())
		}
		return nil, false
	}
	return body, true
}

// stream feeds the response through the accumulator. Returns false when the
// consumer stopped early.
func (r *run) stream(ctx context.Context, body io.ReadCloser) bool {
	a := r.adapter
	dec := ipc.NewFrameDecoder(body)
	acc := NewAccumulator(func(ev *types.Event) { r.tap(ctx, ev) })

	obs := Callbacks{
		Interrupt: func(payload types.InterruptPayload) {
			a.coordinator.Capture(payload, r.meta.MessageID)
			a.collector.IncInterruptCaptured()
			r.pending = r.pending[:0]
			for _, tc := range payload.ToolCalls {
				r.pending = append(r.pending, tc.ID)
			}
		},
		ToolResult: func(id string, result json.RawMessage, isError bool) {
			a.coordinator.RecordToolResult(id, result, isError)
		},
		Meta: func(ev *types.Event) {
			if cp := ev.Checkpoint(); ev.Phase.CapturesCheckpoint() && cp != "" {
				r.checkpoint = cp
			}
		},
	}

	for res := range acc.Ingest(ctx, dec, obs) {
		if !r.emit(res) {
			break
		}
	}
	r.ingestErr = acc.Err()
	a.collector.AddFramesSkipped(dec.Stats().Skipped())
	return !r.stopped
}

// tap stamps a frame and hands it to the journal.
func (r *run) tap(ctx context.Context, ev *types.Event) {
	r.seq++
	r.adapter.collector.IncFrame(string(ev.Type))

	if ev.Type == types.EventTypeToolCall && ev.Name != "" && !r.adapter.tools.Known(ev.Name) {
		r.logger.Debug("tool not in capability table", map[string]any{"tool": ev.Name})
	}

	if r.journal == nil {
		return
	}
	env := &types.EventEnvelope{
		RunID:     r.meta.RunID,
		ThreadID:  r.meta.ThreadID,
		MessageID: r.meta.MessageID,
		Seq:       r.seq,
		Ts:        time.Now().UTC(),
		Event:     *ev,
	}
	if err := r.journal.IngestEvent(ctx, env); err != nil {
		r.logger.Warn("journal ingest failed", map[string]any{
			"seq":        r.seq,
			"event_type": string(ev.Type),
			"error":      err.Error(),
		})
		r.reportError(fmt.Errorf("journal ingest: %w", err))
	}
}

// complete records the captured checkpoint and runs the rebuild pass.
func (r *run) complete(req RunRequest) {
	a := r.adapter
	if r.checkpoint != "" && r.meta.MessageID != "" {
		a.index.Record(r.meta.MessageID, r.checkpoint)
		a.collector.IncCheckpointRecorded()
		if !r.emit(types.RunResult{Metadata: types.CheckpointMetadata(r.meta.ThreadID, r.checkpoint)}) {
			return
		}
	}
	if req.Exporter != nil {
		n := a.index.Rebuild(req.Exporter.Export())
		a.collector.IncIndexRebuild()
		r.logger.Debug("checkpoint index rebuilt", map[string]any{"entries": n})
	}
}

func (r *run) openJournal() {
	if r.adapter.journal == nil {
		return
	}
	pol, err := r.adapter.journal(r.meta)
	if err != nil {
		r.logger.Warn("journal unavailable", map[string]any{"error": err.Error()})
		r.reportError(fmt.Errorf("open journal: %w", err))
		return
	}
	r.journal = pol
}

// finish closes the journal, records metrics and publishes the
// run-finished notification. It runs however the run ended.
func (r *run) finish(ctx context.Context) {
	a := r.adapter
	outcome := DetermineOutcome(r.summary())

	// ctx may already be cancelled; flushing and notifying still happen.
	bg := context.WithoutCancel(ctx)

	if r.journal != nil {
		if err := r.journal.Flush(bg); err != nil {
			r.reportError(fmt.Errorf("journal flush: %w", err))
		}
		st := r.journal.Stats()
		a.collector.AbsorbPolicyStats(st.TotalEvents, st.EventsPersisted, st.EventsDropped, st.DroppedByTypeStrings())
		if err := r.journal.Close(); err != nil {
			r.reportError(fmt.Errorf("journal close: %w", err))
		}
	}

	switch outcome.Status {
	case types.OutcomeSuccess:
		a.collector.IncRunCompleted()
	case types.OutcomeInterrupted:
		a.collector.IncRunInterrupted()
	case types.OutcomeCancelled:
		a.collector.IncRunCancelled()
	default:
		a.collector.IncRunFailed()
	}

	r.logger.Info("run finished", map[string]any{
		"outcome":       string(outcome.Status),
		"checkpoint_id": outcome.CheckpointID,
		"frames":        r.seq,
		"duration_ms":   time.Since(r.start).Milliseconds(),
	})

	if a.notifier != nil {
		nctx, cancel := context.WithTimeout(bg, notifyTimeout)
		event := BuildRunFinishedEvent(r.meta, outcome, r.last, r.pending, r.seq, time.Since(r.start))
		if err := a.notifier.Publish(nctx, event); err != nil {
			r.logger.Warn("run-finished notification failed", map[string]any{"error": err.Error()})
			r.reportError(fmt.Errorf("notify: %w", err))
		}
		cancel()
	}

	if a.hooks.OnFinish != nil {
		a.hooks.OnFinish(r.meta, outcome)
	}
}

func (r *run) reportError(err error) {
	if r.adapter.hooks.OnError != nil {
		r.adapter.hooks.OnError(r.meta, err)
	}
}

func (r *run) summary() runSummary {
	return runSummary{
		Last:       r.last,
		Failure:    r.failure,
		IngestErr:  r.ingestErr,
		Stopped:    r.stopped,
		Checkpoint: r.checkpoint,
		Message:    r.lastText,
	}
}

// humanMessage builds the user turn sent with a stream request, or nil when
// the last message is not a user message.
func humanMessage(messages []types.Message) *client.HumanMessage {
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	if last.Role != types.RoleUser {
		return nil
	}
	for _, p := range last.Content {
		if p.Type != types.PartTypeText {
			return &client.HumanMessage{Role: "human", Content: types.CloneParts(last.Content)}
		}
	}
	return &client.HumanMessage{Role: "human", Content: last.PlainText()}
}

// pathSource resolves ancestors along a linear message path.
type pathSource []types.Message

func (p pathSource) MessageByID(id string) (types.Message, string, bool) {
	for i, m := range p {
		if m.ID != id {
			continue
		}
		parent := ""
		if i > 0 {
			parent = p[i-1].ID
		}
		return m, parent, true
	}
	return types.Message{}, "", false
}
