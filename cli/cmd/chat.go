package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/toolkit"
	"github.com/pithecene-io/waypoint/types"
)

// ChatCommand returns the chat command.
// It sends one user turn (or regenerates one reply) and streams the
// assistant's answer. Exit codes:
//   - 0: success
//   - 1: backend error
//   - 2: transport error
//   - 3: interrupted, awaiting approval
//   - 4: lineage error (no checkpoint to continue from)
//   - 130: cancelled
func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Send a message and stream the assistant's reply",
		ArgsUsage: "[message...] (reads stdin when omitted or \"-\")",
		Flags: flags(ConnectionFlags(), StorageFlags(), RunFlags(), []cli.Flag{
			&cli.StringFlag{Name: "edit", Usage: "Replace user message `ID` with a new branch"},
			&cli.StringFlag{Name: "reload", Usage: "Regenerate assistant message `ID` as a new branch"},
		}),
		Action: chatAction,
	}
}

func chatAction(c *cli.Context) error {
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}

	edit, reload := c.String("edit"), c.String("reload")
	if edit != "" && reload != "" {
		return errors.New("--edit and --reload are mutually exclusive")
	}

	var text string
	if reload != "" {
		if c.Args().Present() {
			return errors.New("--reload does not take a message")
		}
	} else {
		text, err = readMessage(c)
		if err != nil {
			return err
		}
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

	start := time.Now()
	var results iter.Seq[types.RunResult]
	switch {
	case reload != "":
		results, err = w.session.Reload(ctx, reload)
	case edit != "":
		results, err = w.session.Edit(ctx, edit, text)
	default:
		results, err = w.session.Send(ctx, text)
	}
	if err != nil {
		return err
	}
	return streamRun(ctx, c, w, results, start)
}

// readMessage joins the arguments, or reads stdin when there are none or the
// only argument is "-".
func readMessage(c *cli.Context) (string, error) {
	args := c.Args().Slice()
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	in := c.App.Reader
	if in == nil {
		in = os.Stdin
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read message: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("message is empty")
	}
	return text, nil
}

// streamRun prints a run as it streams, then its summary, and exits with the
// code of its outcome.
func streamRun(ctx context.Context, c *cli.Context, w *workspace, results iter.Seq[types.RunResult], start time.Time) error {
	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}

	p := newStreamPrinter(out, toolkit.Default())
	for res := range results {
		p.Print(res)
	}
	p.Finish()

	ev := w.lastEvent()
	if ev == nil {
		return cli.Exit("run finished without an outcome", exitBackendError)
	}
	if !c.Bool("quiet") {
		printRunSummary(out, ev, time.Since(start))
	}
	if ctx.Err() != nil {
		return cli.Exit("", exitCancelled)
	}
	return cli.Exit("", outcomeToExitCode(types.OutcomeStatus(ev.Outcome)))
}

// closeWorkspace closes w and reports problems without changing the exit
// code.
func closeWorkspace(c *cli.Context, w *workspace) {
	if err := w.Close(); err != nil {
		warn(c, "%v", err)
	}
}
