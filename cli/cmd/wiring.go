package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/waypoint/adapter"
	"github.com/pithecene-io/waypoint/adapter/redis"
	"github.com/pithecene-io/waypoint/adapter/webhook"
	"github.com/pithecene-io/waypoint/cli/config"
	"github.com/pithecene-io/waypoint/client"
	"github.com/pithecene-io/waypoint/lode"
	"github.com/pithecene-io/waypoint/log"
	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/policy"
	"github.com/pithecene-io/waypoint/repostore"
	redisstore "github.com/pithecene-io/waypoint/repostore/redis"
	"github.com/pithecene-io/waypoint/runtime"
	"github.com/pithecene-io/waypoint/session"
	"github.com/pithecene-io/waypoint/toolkit"
	"github.com/pithecene-io/waypoint/types"
)

// closeTimeout bounds the final sync and metrics write.
const closeTimeout = 15 * time.Second

// recorderDepth is how many run-finished events a workspace keeps for the
// run summary.
const recorderDepth = 16

// workspace is one CLI invocation's session and everything it owns.
type workspace struct {
	cfg       *config.Config
	logger    *log.Logger
	backend   *client.Client
	collector *metrics.Collector
	recorder  *adapter.Recorder
	notifier  adapter.Multi
	cache     repostore.Store
	store     *lode.LodeClient
	session   *session.Session

	// readOnly workspaces never write the tree or metrics back.
	readOnly bool
}

// openWorkspace builds a session from the merged settings. The caller must
// Close the workspace.
func openWorkspace(ctx context.Context, c *cli.Context, cfg *config.Config) (*workspace, error) {
	if err := requireBackend(cfg); err != nil {
		return nil, err
	}

	w := &workspace{
		cfg:       cfg,
		logger:    newLogger(c, cfg.Thread),
		collector: metrics.NewCollector(policyName(cfg.Journal), storageBackendName(cfg.Journal), cfg.Thread),
		recorder:  adapter.NewRecorder(recorderDepth),
	}
	if err := w.open(ctx); err != nil {
		_ = w.closeResources()
		return nil, err
	}
	return w, nil
}

func (w *workspace) open(ctx context.Context) error {
	cfg := w.cfg

	backend, err := client.New(client.Config{
		BaseURL: cfg.Backend.URL,
		Headers: cfg.Backend.Headers,
		Timeout: cfg.Backend.Timeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("backend client: %w", err)
	}
	w.backend = backend

	notifiers, err := buildNotifiers(cfg.Notify)
	if err != nil {
		return err
	}
	w.notifier = append(adapter.Multi{w.recorder}, notifiers...)

	if cfg.Cache.RedisURL != "" {
		cache, err := redisstore.New(redisstore.Config{
			URL:       cfg.Cache.RedisURL,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.TTL.Duration,
		})
		if err != nil {
			return fmt.Errorf("repo cache: %w", err)
		}
		w.cache = cache
	}

	store, err := buildLodeClient(ctx, cfg.Journal, cfg.Thread, time.Now())
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	w.store = store

	scfg := session.Config{
		ThreadID:       cfg.Thread,
		Backend:        backend,
		Tools:          toolkit.Default(),
		Logger:         w.logger,
		Collector:      w.collector,
		Journal:        w.journalFactory(),
		Notifier:       w.notifier,
		SyncDelay:      cfg.Session.SyncDelay.Duration,
		RehydrateDelay: cfg.Session.RehydrateDelay.Duration,
	}
	if w.cache != nil {
		scfg.Cache = w.cache
	}
	if store != nil {
		scfg.Archive = store
	}
	sess, err := session.New(scfg)
	if err != nil {
		return err
	}
	w.session = sess
	return nil
}

// journalFactory opens a policy per run. Without storage every run still
// gets a noop policy so frame counts reach the collector.
func (w *workspace) journalFactory() runtime.JournalFactory {
	j := w.cfg.Journal
	if w.store == nil || !j.Enabled() {
		return func(types.RunMeta) (policy.Policy, error) {
			return policy.NewNoopPolicy(), nil
		}
	}
	return func(types.RunMeta) (policy.Policy, error) {
		return buildPolicy(j, lode.NewInstrumentedSink(lode.NewSink(w.store), w.collector), w.logger)
	}
}

// buildPolicy wraps sink in the configured journal policy.
func buildPolicy(j config.JournalConfig, sink policy.Sink, logger *log.Logger) (policy.Policy, error) {
	switch j.Policy {
	case "strict":
		return policy.NewStrictPolicy(sink), nil
	case "buffered":
		bc := policy.DefaultBufferedConfig()
		if j.BufferEvents > 0 {
			bc.MaxBufferEvents = j.BufferEvents
		}
		if j.BufferBytes > 0 {
			bc.MaxBufferBytes = j.BufferBytes
		}
		bc.Logger = logger
		return policy.NewBufferedPolicy(sink, bc)
	case "none":
		return policy.NewNoopPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown policy: %s", j.Policy)
	}
}

// buildNotifiers creates the configured run-finished adapters.
func buildNotifiers(n config.NotifyConfig) (adapter.Multi, error) {
	var out adapter.Multi
	if n.Webhook.URL != "" {
		wcfg := webhook.Config{
			URL:     n.Webhook.URL,
			Headers: n.Webhook.Headers,
			Timeout: n.Webhook.Timeout.Duration,
			Retries: webhook.DefaultRetries,
		}
		if n.Webhook.Retries != nil {
			wcfg.Retries = *n.Webhook.Retries
		}
		a, err := webhook.New(wcfg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if n.Redis.URL != "" {
		rcfg := redis.Config{
			URL:     n.Redis.URL,
			Channel: n.Redis.Channel,
			Timeout: n.Redis.Timeout.Duration,
		}
		if n.Redis.Retries != nil {
			rcfg.Retries = *n.Redis.Retries
		}
		a, err := redis.New(rcfg)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// lastEvent returns the most recent run-finished event, draining older ones.
func (w *workspace) lastEvent() *adapter.RunFinishedEvent {
	var last *adapter.RunFinishedEvent
	for {
		select {
		case ev := <-w.recorder.Events():
			last = ev
		default:
			return last
		}
	}
}

// openReadWorkspace is openWorkspace for commands that only look.
func openReadWorkspace(ctx context.Context, c *cli.Context, cfg *config.Config) (*workspace, error) {
	w, err := openWorkspace(ctx, c, cfg)
	if err != nil {
		return nil, err
	}
	w.readOnly = true
	return w, nil
}

// Close syncs the tree, records session metrics and releases everything.
func (w *workspace) Close() error {
	if w.readOnly {
		if w.session != nil {
			_ = w.session.Close()
		}
		return w.closeResources()
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if w.session != nil {
		if err := w.session.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sync: %w", err))
		}
		_ = w.session.Close()
	}
	if w.store != nil {
		if err := w.store.WriteMetrics(ctx, w.collector.Snapshot(), time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := w.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (w *workspace) closeResources() error {
	var errs []error
	if w.notifier != nil {
		errs = append(errs, w.notifier.Close())
	}
	if w.cache != nil {
		errs = append(errs, w.cache.Close())
	}
	if w.store != nil {
		errs = append(errs, w.store.Close())
	}
	if w.backend != nil {
		errs = append(errs, w.backend.Close())
	}
	_ = w.logger.Sync()
	return errors.Join(errs...)
}

// newLogger writes structured logs to stderr unless --no-log is set.
func newLogger(c *cli.Context, threadID string) *log.Logger {
	if c.Bool("no-log") {
		return log.NewNop()
	}
	var out io.Writer = os.Stderr
	if c.App.ErrWriter != nil {
		out = c.App.ErrWriter
	}
	return log.NewLogger(threadID).WithOutput(out)
}

// signalContext is cancelled on SIGINT or SIGTERM. A second signal is left
// to the default handler.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// warn prints a non-fatal problem to stderr.
func warn(c *cli.Context, format string, args ...any) {
	out := c.App.ErrWriter
	if out == nil {
		out = os.Stderr
	}
	fmt.Fprintf(out, "Warning: "+format+"\n", args...)
}
