// Package redis stores exported message trees in Redis, msgpack-encoded
// under waypoint:repo:<thread>.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/waypoint/repostore"
	"github.com/pithecene-io/waypoint/types"
)

// DefaultKeyPrefix prefixes every key.
const DefaultKeyPrefix = "waypoint:repo:"

// DefaultTimeout bounds each Redis call.
const DefaultTimeout = 5 * time.Second

// Config configures the store.
type Config struct {
	// URL is the connection URL (required).
	URL string
	// KeyPrefix defaults to waypoint:repo:.
	KeyPrefix string
	// TTL expires cached trees. Zero keeps them forever.
	TTL time.Duration
	// Timeout bounds each call (default 5s).
	Timeout time.Duration
}

// Store is a Redis-backed repostore.Store.
type Store struct {
	config Config
	client *goredis.Client
}

// New creates a store.
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis repostore requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis repostore: invalid URL: %w", err)
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("ttl must be >= 0, got %v", cfg.TTL)
	}
	return &Store{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Key returns the Redis key for a thread.
func (s *Store) Key(threadID string) string {
	return s.config.KeyPrefix + threadID
}

// Load implements repostore.Store.
func (s *Store) Load(ctx context.Context, threadID string) (*types.ExportedRepo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.Key(threadID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, repostore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis repostore: get %s: %w", threadID, err)
	}

	var repo types.ExportedRepo
	if err := msgpack.Unmarshal(data, &repo); err != nil {
		return nil, fmt.Errorf("redis repostore: decode %s: %w", threadID, err)
	}
	return &repo, nil
}

// Save implements repostore.Store.
func (s *Store) Save(ctx context.Context, threadID string, repo types.ExportedRepo) error {
	data, err := msgpack.Marshal(&repo)
	if err != nil {
		return fmt.Errorf("redis repostore: encode %s: %w", threadID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := s.client.Set(ctx, s.Key(threadID), data, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis repostore: set %s: %w", threadID, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

var _ repostore.Store = (*Store)(nil)
