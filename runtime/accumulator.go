// Package runtime turns backend stream frames into message snapshots and
// drives runs against the chat backend.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"

	"github.com/pithecene-io/waypoint/ipc"
	"github.com/pithecene-io/waypoint/types"
)

// IngestError classifies why ingestion stopped early.
type IngestError struct {
	// Kind indicates whether the stream failed or the caller cancelled.
	Kind IngestErrorKind
	// Err is the underlying error.
	Err error
}

// IngestErrorKind classifies ingestion errors.
type IngestErrorKind int

const (
	// IngestErrorStream indicates the response body failed mid-read.
	IngestErrorStream IngestErrorKind = iota
	// IngestErrorCanceled indicates context cancellation.
	IngestErrorCanceled
)

func (e *IngestError) Error() string {
	return e.Err.Error()
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// IsCanceledError returns true if ingestion stopped due to cancellation.
func IsCanceledError(err error) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Kind == IngestErrorCanceled
	}
	return false
}

// IsStreamError returns true if ingestion stopped on a transport read error.
func IsStreamError(err error) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Kind == IngestErrorStream
	}
	return false
}

// Observer receives the side effects of a stream that never become parts.
type Observer interface {
	// OnInterrupt is called with the payload of an interrupt frame.
	OnInterrupt(payload types.InterruptPayload)
	// OnToolResult is called for every tool_result frame that names a call,
	// whether or not the call is known.
	OnToolResult(toolCallID string, result json.RawMessage, isError bool)
	// OnMeta is called for meta frames that carry a phase.
	OnMeta(ev *types.Event)
}

// Callbacks adapts plain functions to Observer. Nil fields are skipped.
type Callbacks struct {
	Interrupt  func(payload types.InterruptPayload)
	ToolResult func(toolCallID string, result json.RawMessage, isError bool)
	Meta       func(ev *types.Event)
}

// OnInterrupt implements Observer.
func (c Callbacks) OnInterrupt(payload types.InterruptPayload) {
	if c.Interrupt != nil {
		c.Interrupt(payload)
	}
}

// OnToolResult implements Observer.
func (c Callbacks) OnToolResult(toolCallID string, result json.RawMessage, isError bool) {
	if c.ToolResult != nil {
		c.ToolResult(toolCallID, result, isError)
	}
}

// OnMeta implements Observer.
func (c Callbacks) OnMeta(ev *types.Event) {
	if c.Meta != nil {
		c.Meta(ev)
	}
}

// FrameTap sees every decoded frame before it is applied.
type FrameTap func(ev *types.Event)

// step is the effect of applying one frame.
type step int

const (
	// stepSkip: nothing to yield.
	stepSkip step = iota
	// stepSnapshot: yield the current parts if there are any.
	stepSnapshot
	// stepFinal: yield the current parts with a status and stop.
	stepFinal
)

var nullJSON = json.RawMessage("null")

// Accumulator folds stream frames into an ordered part list.
//
// Parts are only appended or amended in place. Tool-call parts are keyed by
// call id, so a repeated tool_call frame updates the existing part. An
// Accumulator serves one run and is not safe for concurrent use.
type Accumulator struct {
	parts     []types.Part
	toolIndex map[string]int
	tap       FrameTap
	err       error
}

// NewAccumulator creates an empty accumulator. tap may be nil.
func NewAccumulator(tap FrameTap) *Accumulator {
	return &Accumulator{
		toolIndex: make(map[string]int),
		tap:       tap,
	}
}

// Parts returns a copy of the current parts.
func (a *Accumulator) Parts() []types.Part {
	return types.CloneParts(a.parts)
}

// Err returns the *IngestError that ended the last Ingest early, or nil.
func (a *Accumulator) Err() error {
	return a.err
}

func (a *Accumulator) snapshot(status *types.RunStatus) types.RunResult {
	r := types.RunResult{Content: types.CloneParts(a.parts)}
	if status != nil {
		s := *status
		r.Status = &s
	}
	return r
}

// Ingest reads frames from dec until the stream ends and yields a snapshot
// after each frame that changes visible state.
//
// An interrupt frame yields a final requires-action snapshot and an error
// frame a final incomplete/error snapshot; either ends the sequence without
// reading further. Cancelling ctx ends it with an incomplete/cancelled
// snapshot. The decoder is closed on every exit path, including when the
// consumer stops early.
func (a *Accumulator) Ingest(ctx context.Context, dec *ipc.FrameDecoder, obs Observer) iter.Seq[types.RunResult] {
	if obs == nil {
		obs = Callbacks{}
	}
	return func(yield func(types.RunResult) bool) {
		defer dec.Close()

		for {
			if err := ctx.Err(); err != nil {
				a.cancel(yield, err)
				return
			}

			ev, err := dec.ReadEvent()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					a.cancel(yield, ctxErr)
					return
				}
				a.err = &IngestError{Kind: IngestErrorStream, Err: err}
				a.appendError(err.Error())
				yield(a.snapshot(&types.StatusError))
				return
			}

			if a.tap != nil {
				a.tap(ev)
			}

			switch st, status := a.apply(ev, obs); st {
			case stepSkip:
			case stepSnapshot:
				if len(a.parts) > 0 && !yield(a.snapshot(nil)) {
					return
				}
			case stepFinal:
				yield(a.snapshot(status))
				return
			}
		}
	}
}

func (a *Accumulator) cancel(yield func(types.RunResult) bool, err error) {
	a.err = &IngestError{Kind: IngestErrorCanceled, Err: err}
	yield(a.snapshot(&types.StatusCancelled))
}

// Apply folds one frame into the part list and reports whether it changed
// visible state. It is the step function behind Ingest, exposed for replay.
func (a *Accumulator) Apply(ev *types.Event, obs Observer) (changed, final bool, status *types.RunStatus) {
	if obs == nil {
		obs = Callbacks{}
	}
	st, status := a.apply(ev, obs)
	return st != stepSkip && len(a.parts) > 0, st == stepFinal, status
}

func (a *Accumulator) apply(ev *types.Event, obs Observer) (step, *types.RunStatus) {
	switch ev.Type {
	case types.EventTypeToken:
		if text := ev.Text(); text != "" {
			a.appendText(text)
			return stepSnapshot, nil
		}

	case types.EventTypeToolCall:
		if ev.ID != "" && ev.Name != "" {
			a.upsertToolCall(ev.ID, ev.Name, ev.Arguments)
			return stepSnapshot, nil
		}

	case types.EventTypeToolResult:
		if id := ev.ResultCallID(); id != "" {
			result := ev.Content
			if len(result) == 0 {
				result = nullJSON
			}
			attached := a.attachResult(id, result, ev.IsError)
			obs.OnToolResult(id, result, ev.IsError)
			if attached {
				return stepSnapshot, nil
			}
		}

	case types.EventTypeInterrupt:
		if ev.Payload != nil {
			obs.OnInterrupt(*ev.Payload)
			for _, tc := range ev.Payload.ToolCalls {
				if _, ok := a.toolIndex[tc.ID]; !ok && tc.ID != "" {
					a.upsertToolCall(tc.ID, tc.Name, tc.Arguments)
				}
			}
			return stepFinal, &types.StatusRequiresAction
		}

	case types.EventTypeError:
		msg := ev.Error
		if msg == "" {
			msg = "Unknown error"
		}
		a.appendError(msg)
		return stepFinal, &types.StatusError

	case types.EventTypeMeta:
		if ev.Phase != "" {
			obs.OnMeta(ev)
		}
	}
	return stepSkip, nil
}

func (a *Accumulator) appendText(text string) {
	if n := len(a.parts); n > 0 && a.parts[n-1].Type == types.PartTypeText {
		a.parts[n-1].Text += text
		return
	}
	a.parts = append(a.parts, types.TextPart(text))
}

// appendError adds the visible error text as its own text part.
func (a *Accumulator) appendError(msg string) {
	text := "Error: " + msg
	if len(a.parts) > 0 {
		text = "\n" + text
	}
	a.parts = append(a.parts, types.TextPart(text))
}

func (a *Accumulator) upsertToolCall(id, name string, rawArgs json.RawMessage) {
	args := types.NormalizeArgs(rawArgs)
	if i, ok := a.toolIndex[id]; ok {
		p := &a.parts[i]
		p.ToolName = name
		p.Args = args
		p.ArgsText = types.PrettyArgs(args)
		return
	}
	a.toolIndex[id] = len(a.parts)
	a.parts = append(a.parts, types.Part{
		Type:       types.PartTypeToolCall,
		ToolCallID: id,
		ToolName:   name,
		Args:       args,
		ArgsText:   types.PrettyArgs(args),
	})
}

// attachResult reports false for unknown ids; results can arrive before or
// without their call.
func (a *Accumulator) attachResult(id string, result json.RawMessage, isError bool) bool {
	i, ok := a.toolIndex[id]
	if !ok {
		return false
	}
	a.parts[i].Result = append(json.RawMessage(nil), result...)
	a.parts[i].IsError = isError
	return true
}
