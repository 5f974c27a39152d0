package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/cli/reader"
	"github.com/pithecene-io/waypoint/cli/render"
	"github.com/pithecene-io/waypoint/cli/tui"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect loads a thread from the backend and shows one view of it. It
// never writes anything back.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a thread (message tree, pending approval)",
		Subcommands: []*cli.Command{
			inspectThreadCommand(),
			inspectInterruptCommand(),
		},
	}
}

func inspectThreadCommand() *cli.Command {
	return &cli.Command{
		Name:   "thread",
		Usage:  "Show the visible branch of the thread",
		Flags:  flags(ConnectionFlags(), ReadOnlyFlags()),
		Action: inspectThreadAction,
	}
}

func inspectThreadAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	w, err := openReadWorkspace(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer closeWorkspace(c, w)

	if err := w.session.Load(ctx); err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	view, err := reader.ThreadFromRepo(cfg.Thread, w.session.Tree().Export())
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectThread, view)
	}
	return r.Render(view)
}

func inspectInterruptCommand() *cli.Command {
	return &cli.Command{
		Name:   "interrupt",
		Usage:  "Show tool calls awaiting approval on the visible branch",
		Flags:  flags(ConnectionFlags(), ReadOnlyFlags()),
		Action: inspectInterruptAction,
	}
}

func inspectInterruptAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	w, err := openReadWorkspace(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer closeWorkspace(c, w)

	// Load rehydrates interrupt state for the loaded head.
	if err := w.session.Load(ctx); err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	view := reader.InterruptFromView(cfg.Thread, w.session.Coordinator().Snapshot())

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewInspectInterrupt, view)
	}
	return r.Render(view)
}
