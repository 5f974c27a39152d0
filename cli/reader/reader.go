package reader

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/waypoint/hitl"
	"github.com/pithecene-io/waypoint/lode"
	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/thread"
	"github.com/pithecene-io/waypoint/types"
)

// summaryWidth bounds text shown in table cells.
const summaryWidth = 60

// ThreadFromRepo builds the view of a repo's active branch.
func ThreadFromRepo(threadID string, repo types.ExportedRepo) (*ThreadView, error) {
	tree := thread.New()
	if err := tree.Import(repo); err != nil {
		return nil, fmt.Errorf("import repo: %w", err)
	}

	view := &ThreadView{
		ThreadID: threadID,
		HeadID:   tree.Head(),
		Messages: tree.Len(),
		Path:     []MessageRow{},
	}
	for _, m := range repo.Messages {
		if len(tree.Children(m.Message.ID)) == 0 {
			view.Branches++
		}
	}

	parent := ""
	for _, m := range tree.Path() {
		row := MessageRow{
			ID:         m.ID,
			ParentID:   parent,
			Role:       string(m.Role),
			Status:     statusString(m.Status),
			Checkpoint: m.Checkpoint(),
			Text:       m.PlainText(),
			ToolCalls:  toolCalls(m.Content),
			CreatedAt:  m.CreatedAt,
		}
		if sib := tree.Siblings(m.ID); len(sib) > 1 {
			for i, id := range sib {
				if id == m.ID {
					row.Sibling = fmt.Sprintf("%d/%d", i+1, len(sib))
				}
			}
		}
		view.Path = append(view.Path, row)
		parent = m.ID
	}
	return view, nil
}

// InterruptFromView builds the view of a coordinator snapshot.
func InterruptFromView(threadID string, v hitl.View) *InterruptView {
	out := &InterruptView{
		ThreadID:         threadID,
		State:            v.State.String(),
		MessageID:        v.MessageID,
		AllDecided:       v.AllDecided,
		AllApprovedValid: v.AllApprovedValid,
		ToolCalls:        []ToolCallRow{},
	}
	for _, c := range v.Calls {
		decision := string(c.Decision)
		if decision == "" {
			decision = "undecided"
		}
		out.ToolCalls = append(out.ToolCalls, ToolCallRow{
			ID:        c.Call.ID,
			Name:      c.Call.Name,
			Decision:  decision,
			Arguments: types.NormalizeArgs(c.Call.Arguments),
			Error:     c.Error,
		})
	}
	return out
}

// MetricsFromSnapshot converts an in-process snapshot.
func MetricsFromSnapshot(snap metrics.Snapshot, ts time.Time) *MetricsSnapshot {
	return &MetricsSnapshot{
		Ts:                    ts.UTC().Format(time.RFC3339Nano),
		RunsStarted:           snap.RunsStarted,
		RunsCompleted:         snap.RunsCompleted,
		RunsInterrupted:       snap.RunsInterrupted,
		RunsFailed:            snap.RunsFailed,
		RunsCancelled:         snap.RunsCancelled,
		FramesDecoded:         snap.FramesDecoded,
		FramesSkipped:         snap.FramesSkipped,
		FramesByType:          snap.FramesByType,
		CheckpointsRecorded:   snap.CheckpointsRecorded,
		CheckpointMisses:      snap.CheckpointMisses,
		IndexRebuilds:         snap.IndexRebuilds,
		InterruptsCaptured:    snap.InterruptsCaptured,
		DecisionsSubmitted:    snap.DecisionsSubmitted,
		SubmitValidationFails: snap.SubmitValidationFails,
		EventsReceived:        snap.EventsReceived,
		EventsPersisted:       snap.EventsPersisted,
		EventsDropped:         snap.EventsDropped,
		DroppedByType:         snap.DroppedByType,
		LodeWriteSuccess:      snap.LodeWriteSuccess,
		LodeWriteFailure:      snap.LodeWriteFailure,
		RepoSyncSuccess:       snap.RepoSyncSuccess,
		RepoSyncFailure:       snap.RepoSyncFailure,
		Policy:                snap.Policy,
		StorageBackend:        snap.StorageBackend,
		ThreadID:              snap.ThreadID,
	}
}

// JournalRows builds one row per journaled frame.
func JournalRows(frames []*lode.FrameRecord) []JournalRow {
	rows := make([]JournalRow, 0, len(frames))
	for _, f := range frames {
		rows = append(rows, JournalRow{
			Seq:       f.Seq,
			Ts:        f.Ts,
			Type:      f.Type,
			MessageID: f.MessageID,
			Summary:   Summarize(&f.Event),
		})
	}
	return rows
}

// Summarize describes a frame in one short line.
func Summarize(ev *types.Event) string {
	switch ev.Type {
	case types.EventTypeToken:
		return truncate(strconv.Quote(ev.Text()))
	case types.EventTypeToolCall:
		return fmt.Sprintf("%s(%s)", ev.Name, ev.ID)
	case types.EventTypeToolResult:
		s := "result for " + ev.ResultCallID()
		if ev.IsError {
			s += " (error)"
		}
		return s
	case types.EventTypeInterrupt:
		if ev.Payload == nil {
			return "interrupt without payload"
		}
		ids := make([]string, 0, len(ev.Payload.ToolCalls))
		for _, tc := range ev.Payload.ToolCalls {
			ids = append(ids, tc.Name+"("+tc.ID+")")
		}
		return "awaiting " + strings.Join(ids, ", ")
	case types.EventTypeMeta:
		if cp := ev.Checkpoint(); cp != "" {
			return fmt.Sprintf("phase=%s checkpoint=%s", ev.Phase, cp)
		}
		return "phase=" + string(ev.Phase)
	case types.EventTypeError:
		return truncate(ev.Error)
	default:
		return ""
	}
}

// NewReplayResult summarizes a replayed stream.
func NewReplayResult(source string, parts []types.Part, status *types.RunStatus, frames, skipped int64, checkpoint string, pending []string) *ReplayResult {
	msg := types.Message{Content: parts}
	res := &ReplayResult{
		Source:     source,
		Status:     string(types.RunStatusRunning),
		Frames:     frames,
		Skipped:    skipped,
		Checkpoint: checkpoint,
		Text:       msg.PlainText(),
		ToolCalls:  toolCalls(parts),
		Pending:    pending,
	}
	if status != nil {
		res.Status = string(status.Type)
		res.Reason = string(status.Reason)
	}
	if res.Pending == nil {
		res.Pending = []string{}
	}
	return res
}

func statusString(s *types.RunStatus) string {
	if s == nil {
		return ""
	}
	if s.Reason == "" {
		return string(s.Type)
	}
	return string(s.Type) + "/" + string(s.Reason)
}

func toolCalls(parts []types.Part) []string {
	out := []string{}
	for _, p := range parts {
		if p.Type != types.PartTypeToolCall {
			continue
		}
		label := p.ToolName + "(" + p.ToolCallID + ")"
		switch {
		case p.IsError:
			label += " error"
		case p.HasResult():
			label += " done"
		}
		out = append(out, label)
	}
	return out
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= summaryWidth {
		return s
	}
	return string(r[:summaryWidth-3]) + "..."
}
