package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/cli/reader"
	"github.com/pithecene-io/waypoint/cli/render"
	"github.com/pithecene-io/waypoint/hitl"
	"github.com/pithecene-io/waypoint/types"
)

// ApproveCommand returns the approve command.
// It records decisions for the pending tool calls of an interrupted run and
// resumes the run. Exit codes match chat.
func ApproveCommand() *cli.Command {
	return &cli.Command{
		Name:  "approve",
		Usage: "Approve or reject pending tool calls and resume the run",
		Flags: flags(ConnectionFlags(), StorageFlags(), RunFlags(), []cli.Flag{
			&cli.StringSliceFlag{Name: "approve", Usage: "Approve tool call `ID` (repeatable)"},
			&cli.StringSliceFlag{Name: "reject", Usage: "Reject tool call `ID` (repeatable)"},
			&cli.StringSliceFlag{Name: "args", Usage: "Replace arguments as `ID=JSON` (repeatable)"},
			&cli.BoolFlag{Name: "approve-all", Usage: "Approve every call without a decision"},
			&cli.BoolFlag{Name: "reject-all", Usage: "Reject every call without a decision"},
			FormatFlag,
		}),
		Action: approveAction,
	}
}

// decisionSet is the parsed decision flags.
type decisionSet struct {
	decisions map[string]types.DecisionKind
	args      map[string]string
	fallback  types.DecisionKind
}

func parseDecisions(c *cli.Context) (*decisionSet, error) {
	if c.Bool("approve-all") && c.Bool("reject-all") {
		return nil, errors.New("--approve-all and --reject-all are mutually exclusive")
	}
	d := &decisionSet{
		decisions: make(map[string]types.DecisionKind),
		args:      make(map[string]string),
	}
	switch {
	case c.Bool("approve-all"):
		d.fallback = types.DecisionApproved
	case c.Bool("reject-all"):
		d.fallback = types.DecisionRejected
	}

	for _, id := range c.StringSlice("approve") {
		d.decisions[id] = types.DecisionApproved
	}
	for _, id := range c.StringSlice("reject") {
		if d.decisions[id] == types.DecisionApproved {
			return nil, fmt.Errorf("tool call %s is both approved and rejected", id)
		}
		d.decisions[id] = types.DecisionRejected
	}
	for _, pair := range c.StringSlice("args") {
		id, text, ok := strings.Cut(pair, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid --args %q (want ID=JSON)", pair)
		}
		d.args[id] = text
	}

	if len(d.decisions) == 0 && d.fallback == "" {
		return nil, errors.New("no decisions given (use --approve, --reject, --approve-all or --reject-all)")
	}
	return d, nil
}

// apply records the decisions on coord. Argument parse failures are kept on
// the coordinator and surface at submit.
func (d *decisionSet) apply(coord *hitl.Coordinator) error {
	view := coord.Snapshot()
	known := make(map[string]bool, len(view.Calls))
	for _, call := range view.Calls {
		known[call.Call.ID] = true
	}
	for id := range d.decisions {
		if !known[id] {
			return fmt.Errorf("tool call %s is not awaiting approval", id)
		}
	}
	for id := range d.args {
		if !known[id] {
			return fmt.Errorf("tool call %s is not awaiting approval", id)
		}
	}

	for _, call := range view.Calls {
		id := call.Call.ID
		kind, ok := d.decisions[id]
		if !ok && call.Decision == "" {
			kind, ok = d.fallback, d.fallback != ""
		}
		if ok {
			if err := coord.SetDecision(id, kind); err != nil {
				return err
			}
		}
		if text, ok := d.args[id]; ok {
			var ae *hitl.ArgumentError
			if err := coord.SetDraftArguments(id, text); err != nil && !errors.As(err, &ae) {
				return err
			}
		}
	}
	return nil
}

func approveAction(c *cli.Context) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	decisions, err := parseDecisions(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	w, err := openWorkspace(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer closeWorkspace(c, w)

	if err := w.session.Load(ctx); err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	coord := w.session.Coordinator()
	if coord.State() != hitl.Interrupted {
		return cli.Exit("nothing is awaiting approval on this thread", exitBackendError)
	}
	if err := decisions.apply(coord); err != nil {
		return err
	}

	start := time.Now()
	results, err := w.session.SubmitDecisions(ctx)
	if err != nil {
		if hitl.IsValidationError(err) || errors.Is(err, hitl.ErrNotReady) {
			if r, rerr := render.NewRenderer(c); rerr == nil {
				_ = r.Render(reader.InterruptFromView(cfg.Thread, coord.Snapshot()))
			}
		}
		return cli.Exit(fmt.Sprintf("cannot submit decisions: %v", err), exitBackendError)
	}
	return streamRun(ctx, c, w, results, start)
}
