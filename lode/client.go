package lode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/waypoint/metrics"
	"github.com/pithecene-io/waypoint/types"
)

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"thread_id", "day", "run_id", "event_type"}

// ErrMissingRunID is returned when an envelope has no run identity.
var ErrMissingRunID = errors.New("journal write rejected: envelope has no run_id")

// LodeClient is the Lode-backed Client.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	storeFactory lode.StoreFactory
	storeOnce    sync.Once
	store        lode.Store
	storeErr     error
}

// NewLodeClient creates a client with filesystem storage rooted at root.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a client over a custom store factory.
// Use lode.NewMemoryFactory() in tests.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return newClient(ds, cfg, factory), nil
}

func newClient(ds lode.Dataset, cfg Config, factory lode.StoreFactory) *LodeClient {
	if cfg.Dataset == "" {
		cfg.Dataset = DefaultDataset
	}
	return &LodeClient{dataset: ds, config: cfg, storeFactory: factory}
}

func newDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteEvents writes a batch of envelopes as frame records.
// The run_id partition comes from each envelope, so one client serves every
// run of a session.
func (c *LodeClient) WriteEvents(ctx context.Context, events []*types.EventEnvelope) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]any, 0, len(events))
	for _, e := range events {
		if e.RunID == "" {
			return ErrMissingRunID
		}
		records = append(records, toFrameRecordMap(e, c.config))
	}
	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.Dataset+"/"+events[0].RunID)
	}
	return nil
}

// WriteMetrics writes the session metrics snapshot as a single record.
func (c *LodeClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, completedAt time.Time) error {
	record := toMetricsRecordMap(snap, c.config, completedAt)
	if _, err := c.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s/metrics", c.config.Dataset))
	}
	return nil
}

// Close releases client resources. Datasets need no explicit close.
func (c *LodeClient) Close() error {
	return nil
}

var _ Client = (*LodeClient)(nil)
