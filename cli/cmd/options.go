package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/cli/config"
	"github.com/pithecene-io/waypoint/lode"
)

// loadSettings reads the config file and applies flag overrides. Flags only
// win when they were set explicitly.
func loadSettings(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadDefault(c.String("config"))
	if err != nil {
		return nil, err
	}

	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setString("backend-url", &cfg.Backend.URL)
	setString("thread", &cfg.Thread)

	if c.IsSet("header") {
		headers, err := parseHeaders(c.StringSlice("header"))
		if err != nil {
			return nil, err
		}
		if cfg.Backend.Headers == nil {
			cfg.Backend.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.Backend.Headers[k] = v
		}
	}

	setString("storage-dataset", &cfg.Journal.Dataset)
	setString("storage-backend", &cfg.Journal.Backend)
	setString("storage-path", &cfg.Journal.Path)
	setString("storage-region", &cfg.Journal.Region)
	setString("storage-endpoint", &cfg.Journal.Endpoint)
	if c.IsSet("storage-s3-path-style") {
		cfg.Journal.S3PathStyle = c.Bool("storage-s3-path-style")
	}

	setString("policy", &cfg.Journal.Policy)
	if c.IsSet("buffer-events") {
		cfg.Journal.BufferEvents = c.Int("buffer-events")
	}
	if c.IsSet("buffer-bytes") {
		cfg.Journal.BufferBytes = c.Int64("buffer-bytes")
	}

	setString("webhook-url", &cfg.Notify.Webhook.URL)
	setString("redis-url", &cfg.Notify.Redis.URL)
	setString("redis-channel", &cfg.Notify.Redis.Channel)
	setString("cache-redis-url", &cfg.Cache.RedisURL)

	if cfg.Journal.Dataset == "" {
		cfg.Journal.Dataset = lode.DefaultDataset
	}
	if cfg.Journal.Path != "" && cfg.Journal.Backend == "" {
		cfg.Journal.Backend = "fs"
	}
	if cfg.Journal.Policy == "" {
		cfg.Journal.Policy = "strict"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseHeaders parses Key=Value pairs.
func parseHeaders(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q (want Key=Value)", p)
		}
		out[k] = v
	}
	return out, nil
}

// requireBackend checks that a backend and a thread were given.
func requireBackend(cfg *config.Config) error {
	var errs []error
	if cfg.Backend.URL == "" {
		errs = append(errs, errors.New("backend URL is required (--backend-url or backend.url)"))
	}
	if cfg.Thread == "" {
		errs = append(errs, errors.New("thread is required (--thread or thread)"))
	}
	return errors.Join(errs...)
}

// storageBackendName is the backend recorded in metrics.
func storageBackendName(j config.JournalConfig) string {
	if j.Path == "" {
		return "none"
	}
	return j.Backend
}

// policyName is the journal policy recorded in metrics.
func policyName(j config.JournalConfig) string {
	if !j.Enabled() {
		return "none"
	}
	return j.Policy
}

// buildLodeClient opens the journal store. Returns nil when no storage path
// is configured.
func buildLodeClient(ctx context.Context, j config.JournalConfig, threadID string, start time.Time) (*lode.LodeClient, error) {
	if j.Path == "" {
		return nil, nil
	}
	cfg := lode.Config{
		Dataset:        j.Dataset,
		ThreadID:       threadID,
		Day:            lode.DeriveDay(start),
		Policy:         policyName(j),
		StorageBackend: j.Backend,
	}
	switch j.Backend {
	case "fs":
		return lode.NewLodeClient(cfg, j.Path)
	case "s3":
		return lode.NewLodeS3Client(ctx, cfg, s3Config(j))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs or s3)", j.Backend)
	}
}

// buildReadDataset opens the journal store for reading.
func buildReadDataset(ctx context.Context, j config.JournalConfig) (lodelibrary.Dataset, error) {
	if j.Path == "" {
		return nil, errors.New("a storage path is required for reads (--storage-path or journal.path)")
	}
	switch j.Backend {
	case "fs":
		return lode.NewReadDatasetFS(j.Dataset, j.Path)
	case "s3":
		return lode.NewReadDatasetS3(ctx, j.Dataset, s3Config(j))
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (must be fs or s3)", j.Backend)
	}
}

func s3Config(j config.JournalConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(j.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       j.Region,
		Endpoint:     j.Endpoint,
		UsePathStyle: j.S3PathStyle,
	}
}
