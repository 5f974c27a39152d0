package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/cli/reader"
	"github.com/pithecene-io/waypoint/cli/render"
	"github.com/pithecene-io/waypoint/lode"
)

// JournalCommand returns the journal command with subcommands.
// It reads the frame journal written by chat and approve runs.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "Read journaled stream frames",
		Subcommands: []*cli.Command{
			journalShowCommand(),
		},
	}
}

func journalShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "List the frames of one run in order",
		ArgsUsage: "<run-id>",
		Flags: flags(StorageFlags(), ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to config file"},
		}),
		Action: journalShowAction,
	}
}

func journalShowAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("run-id required", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for journal show
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for journal show", 1)
	}

	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	ds, err := buildReadDataset(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("failed to initialize storage reader: %w", err)
	}
	frames, err := lode.QueryRunFrames(ctx, ds, c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	return r.Render(reader.JournalRows(frames))
}
