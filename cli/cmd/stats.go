package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/cli/reader"
	"github.com/pithecene-io/waypoint/cli/render"
	"github.com/pithecene-io/waypoint/cli/tui"
	"github.com/pithecene-io/waypoint/lode"
)

// StatsCommand returns the stats command with subcommands.
// Stats reads aggregated counters that sessions write on exit.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated session statistics",
		Subcommands: []*cli.Command{
			statsMetricsCommand(),
		},
	}
}

func statsMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Show the latest session metrics recorded for a thread",
		Flags: flags(StorageFlags(), ReadOnlyFlags(), []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to config file"},
			&cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Usage: "Thread ID", EnvVars: []string{"WAYPOINT_THREAD"}},
		}),
		Action: statsMetricsAction,
	}
}

func statsMetricsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadSettings(c)
	if err != nil {
		return err
	}
	if cfg.Thread == "" {
		return errors.New("thread is required (--thread or thread)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	ds, err := buildReadDataset(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("failed to initialize storage reader: %w", err)
	}
	record, err := lode.QueryLatestMetrics(ctx, ds, cfg.Thread)
	if err != nil {
		return fmt.Errorf("failed to read metrics from Lode: %w", err)
	}
	snapshot, err := reader.ParseMetricsRecord(record)
	if err != nil {
		return fmt.Errorf("failed to parse metrics record: %w", err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatsMetrics, snapshot)
	}
	return r.Render(snapshot)
}
