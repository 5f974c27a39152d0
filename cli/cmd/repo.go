package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/cli/reader"
	"github.com/pithecene-io/waypoint/cli/render"
	"github.com/pithecene-io/waypoint/thread"
	"github.com/pithecene-io/waypoint/types"
)

// RepoCommand returns the repo command with subcommands. It moves whole
// message trees in and out of the backend and changes the visible branch.
func RepoCommand() *cli.Command {
	return &cli.Command{
		Name:  "repo",
		Usage: "Export, import or re-branch a thread's message tree",
		Subcommands: []*cli.Command{
			repoExportCommand(),
			repoImportCommand(),
			repoSwitchCommand(),
		},
	}
}

func repoExportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the thread's message tree as JSON",
		Flags: flags(ConnectionFlags(), []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write to `FILE` instead of stdout"},
		}),
		Action: repoExportAction,
	}
}

func repoExportAction(c *cli.Context) error {
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
	data, err := json.MarshalIndent(w.session.Tree().Export(), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path := c.String("out"); path != "" {
		return os.WriteFile(path, data, 0o644)
	}
	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}
	_, err = out.Write(data)
	return err
}

func repoImportCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Replace the thread's stored message tree with one read from a file",
		ArgsUsage: "<file>",
		Flags:     flags(ConnectionFlags(), []cli.Flag{FormatFlag, NoColorFlag}),
		Action:    repoImportAction,
	}
}

func repoImportAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("file required", 1)
	}
	repo, err := readRepoFile(c.Args().First())
	if err != nil {
		return err
	}
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

	if err := w.backend.PutRepo(ctx, cfg.Thread, *repo); err != nil {
		return fmt.Errorf("failed to store tree: %w", err)
	}
	if w.cache != nil {
		if err := w.cache.Save(ctx, cfg.Thread, *repo); err != nil {
			warn(c, "repo cache save failed: %v", err)
		}
	}

	view, err := reader.ThreadFromRepo(cfg.Thread, *repo)
	if err != nil {
		return err
	}
	return r.Render(view)
}

// readRepoFile reads an exported tree and checks that it imports cleanly.
func readRepoFile(path string) (*types.ExportedRepo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var repo types.ExportedRepo
	if err := json.Unmarshal(data, &repo); err != nil {
		return nil, fmt.Errorf("invalid repo JSON in %s: %w", path, err)
	}
	if err := thread.New().Import(repo); err != nil {
		return nil, fmt.Errorf("invalid repo in %s: %w", path, err)
	}
	return &repo, nil
}

func repoSwitchCommand() *cli.Command {
	return &cli.Command{
		Name:      "switch",
		Usage:     "Make the newest branch under a message the visible one",
		ArgsUsage: "<message-id>",
		Flags:     flags(ConnectionFlags(), []cli.Flag{FormatFlag, NoColorFlag}),
		Action:    repoSwitchAction,
	}
}

func repoSwitchAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("message-id required", 1)
	}
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

	w, err := openWorkspace(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer closeWorkspace(c, w)

	if err := w.session.Load(ctx); err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	if err := w.session.SwitchBranch(c.Args().First()); err != nil {
		return err
	}
	view, err := reader.ThreadFromRepo(cfg.Thread, w.session.Tree().Export())
	if err != nil {
		return err
	}
	return r.Render(view)
}
