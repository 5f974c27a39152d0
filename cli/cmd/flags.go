// Package cmd provides CLI commands for the waypoint binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for select read-only commands (inspect, stats).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, stats only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ConnectionFlags locate the config file, the backend and the thread.
func ConnectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to config file (default: ./waypoint.yaml if present)", EnvVars: []string{"WAYPOINT_CONFIG"}},
		&cli.StringFlag{Name: "backend-url", Usage: "Backend deployment prefix, e.g. http://localhost:8000/api", EnvVars: []string{"WAYPOINT_BACKEND_URL"}},
		&cli.StringSliceFlag{Name: "header", Usage: "Extra backend request header as Key=Value (repeatable)"},
		&cli.StringFlag{Name: "thread", Aliases: []string{"t"}, Usage: "Thread ID", EnvVars: []string{"WAYPOINT_THREAD"}},
		&cli.BoolFlag{Name: "no-log", Usage: "Discard structured logs instead of writing them to stderr"},
	}
}

// StorageFlags select where the frame journal and metrics live.
func StorageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "storage-dataset", Usage: "Lode dataset ID (default: \"waypoint\")"},
		&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3"},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for S3 backend"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Custom S3 endpoint (MinIO, R2)"},
		&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Force S3 path-style addressing"},
	}
}

// RunFlags configure journaling, notifications and caching for commands
// that start runs.
func RunFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "policy", Usage: "Journal policy: strict, buffered or none"},
		&cli.IntFlag{Name: "buffer-events", Usage: "Max buffered frames (buffered policy)"},
		&cli.Int64Flag{Name: "buffer-bytes", Usage: "Max buffer size in bytes (buffered policy)"},
		&cli.StringFlag{Name: "webhook-url", Usage: "POST run-finished events to this URL"},
		&cli.StringFlag{Name: "redis-url", Usage: "PUBLISH run-finished events on this Redis server"},
		&cli.StringFlag{Name: "redis-channel", Usage: "Redis channel ({thread} is replaced by the thread ID)"},
		&cli.StringFlag{Name: "cache-redis-url", Usage: "Cache the message tree in this Redis server"},
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress the run summary"},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
