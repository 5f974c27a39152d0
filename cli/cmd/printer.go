package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pithecene-io/waypoint/adapter"
	"github.com/pithecene-io/waypoint/toolkit"
	"github.com/pithecene-io/waypoint/types"
)

// Exit codes for commands that start a run.
const (
	exitSuccess        = 0
	exitBackendError   = 1
	exitTransportError = 2
	exitInterrupted    = 3
	exitLineageError   = 4
	exitCancelled      = 130
)

func outcomeToExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeSuccess:
		return exitSuccess
	case types.OutcomeBackendError:
		return exitBackendError
	case types.OutcomeTransportError:
		return exitTransportError
	case types.OutcomeInterrupted:
		return exitInterrupted
	case types.OutcomeLineageError:
		return exitLineageError
	case types.OutcomeCancelled:
		return exitCancelled
	default:
		return exitBackendError
	}
}

// streamPrinter writes run results to a terminal as they grow. Results are
// full snapshots, so only the unseen tail of each text part is written.
type streamPrinter struct {
	out   io.Writer
	tools *toolkit.Table

	printed   map[int]int
	announced map[string]bool
	resolved  map[string]bool
	midLine   bool
}

func newStreamPrinter(out io.Writer, tools *toolkit.Table) *streamPrinter {
	return &streamPrinter{
		out:       out,
		tools:     tools,
		printed:   make(map[int]int),
		announced: make(map[string]bool),
		resolved:  make(map[string]bool),
	}
}

// Print writes whatever res adds to what was already shown.
func (p *streamPrinter) Print(res types.RunResult) {
	for i, part := range res.Content {
		switch part.Type {
		case types.PartTypeText:
			p.printText(i, part.Text)
		case types.PartTypeToolCall:
			p.printToolCall(part)
		}
	}
}

func (p *streamPrinter) printText(i int, text string) {
	n := p.printed[i]
	if len(text) <= n {
		return
	}
	delta := text[n:]
	p.printed[i] = len(text)
	fmt.Fprint(p.out, delta)
	p.midLine = !strings.HasSuffix(delta, "\n")
}

func (p *streamPrinter) printToolCall(part types.Part) {
	id := part.ToolCallID
	if !p.announced[id] {
		p.announced[id] = true
		p.line(fmt.Sprintf("[tool] %s(%s)", part.ToolName, id))
	}
	if part.HasResult() && !p.resolved[id] {
		p.resolved[id] = true
		p.line(indent(p.tools.Render(part)))
	}
}

func (p *streamPrinter) line(s string) {
	if p.midLine {
		fmt.Fprintln(p.out)
	}
	fmt.Fprintln(p.out, s)
	p.midLine = false
}

// Finish ends a partial line.
func (p *streamPrinter) Finish() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

// printRunSummary writes the one-line outcome of a run, plus the calls
// awaiting approval when it was interrupted.
func printRunSummary(out io.Writer, ev *adapter.RunFinishedEvent, elapsed time.Duration) {
	fmt.Fprintf(out, "\nrun_id=%s, outcome=%s, status=%s, frames=%d, duration=%s\n",
		ev.RunID,
		ev.Outcome,
		statusLabel(ev.Status, ev.Reason),
		ev.FrameCount,
		elapsed.Round(time.Millisecond),
	)
	if ev.CheckpointID != "" {
		fmt.Fprintf(out, "checkpoint=%s\n", ev.CheckpointID)
	}
	if ev.Outcome != string(types.OutcomeSuccess) && ev.Message != "" {
		fmt.Fprintf(out, "message=%s\n", ev.Message)
	}
	if len(ev.PendingTools) > 0 {
		fmt.Fprintf(out, "awaiting approval: %s\n", strings.Join(ev.PendingTools, ", "))
		fmt.Fprintln(out, "decide with: waypoint approve --approve <id> | --reject <id>")
	}
}

func statusLabel(status, reason string) string {
	if reason == "" {
		return status
	}
	return status + "/" + reason
}
