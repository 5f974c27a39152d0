package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/cli/reader"
	"github.com/pithecene-io/waypoint/cli/render"
	"github.com/pithecene-io/waypoint/ipc"
	"github.com/pithecene-io/waypoint/lode"
	"github.com/pithecene-io/waypoint/runtime"
	"github.com/pithecene-io/waypoint/types"
)

// readTimeout bounds journal reads.
const readTimeout = 30 * time.Second

// ReplayCommand returns the replay command.
// Replay folds a recorded stream through the same accumulator a live run
// uses and reports what the assistant message would end up as. It never
// contacts the backend.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Rebuild an assistant message from a recorded stream or a journaled run",
		ArgsUsage: "[stream-file | -]",
		Flags: flags(StorageFlags(), []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to config file"},
			&cli.StringFlag{Name: "run-id", Usage: "Replay journaled run `ID` instead of a file"},
			FormatFlag,
			NoColorFlag,
		}),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	runID := c.String("run-id")
	var result *reader.ReplayResult
	switch {
	case runID != "" && c.NArg() > 0:
		return errors.New("give either a stream file or --run-id, not both")
	case runID != "":
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
		frames, err := lode.QueryRunFrames(ctx, ds, runID)
		if err != nil {
			return fmt.Errorf("failed to read journal: %w", err)
		}
		result = replayFrames("run:"+runID, frames)
	case c.NArg() > 0:
		path := c.Args().First()
		in, err := openStream(c, path)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		result = replayStream(ctx, path, in)
	default:
		return cli.Exit("stream file or --run-id required", 1)
	}

	return r.Render(result)
}

func openStream(c *cli.Context, path string) (io.ReadCloser, error) {
	if path == "-" {
		in := c.App.Reader
		if in == nil {
			in = os.Stdin
		}
		return io.NopCloser(in), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return f, nil
}

// replayTracker collects what a replay reports besides the parts.
type replayTracker struct {
	frames     int64
	checkpoint string
	pending    []string
}

func (t *replayTracker) tap(*types.Event) { t.frames++ }

func (t *replayTracker) observer() runtime.Callbacks {
	return runtime.Callbacks{
		Interrupt: func(payload types.InterruptPayload) {
			t.pending = t.pending[:0]
			for _, tc := range payload.ToolCalls {
				t.pending = append(t.pending, tc.ID)
			}
		},
		Meta: func(ev *types.Event) {
			if cp := ev.Checkpoint(); ev.Phase.CapturesCheckpoint() && cp != "" {
				t.checkpoint = cp
			}
		},
	}
}

// replayStream decodes a recorded response body. The decoder is closed by
// the accumulator.
func replayStream(ctx context.Context, source string, body io.ReadCloser) *reader.ReplayResult {
	var t replayTracker
	dec := ipc.NewFrameDecoder(body)
	acc := runtime.NewAccumulator(t.tap)

	var last *types.RunStatus
	for res := range acc.Ingest(ctx, dec, t.observer()) {
		if res.Status != nil {
			st := *res.Status
			last = &st
		}
	}
	final := runtime.FinalStatus(last)
	return reader.NewReplayResult(source, acc.Parts(), &final, t.frames, dec.Stats().Skipped(), t.checkpoint, t.pending)
}

// replayFrames folds journaled frames. Like a live stream that ends without
// a final frame, a journal without one replays as complete.
func replayFrames(source string, frames []*lode.FrameRecord) *reader.ReplayResult {
	var t replayTracker
	acc := runtime.NewAccumulator(nil)
	obs := t.observer()

	var last *types.RunStatus
	for _, f := range frames {
		ev := f.Event
		t.tap(&ev)
		_, final, status := acc.Apply(&ev, obs)
		if final {
			last = status
			break
		}
	}
	final := runtime.FinalStatus(last)
	return reader.NewReplayResult(source, acc.Parts(), &final, t.frames, 0, t.checkpoint, t.pending)
}
