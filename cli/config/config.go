package config

import (
	"errors"
	"fmt"
	"time"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "waypoint.yaml"

// Config represents a waypoint.yaml configuration file.
// All values are optional and act as defaults for CLI flags.
// CLI flags always override config values.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Thread  string        `yaml:"thread"`
	Journal JournalConfig `yaml:"journal"`
	Notify  NotifyConfig  `yaml:"notify"`
	Cache   CacheConfig   `yaml:"cache"`
	Session SessionConfig `yaml:"session"`
}

// BackendConfig locates the chat backend.
type BackendConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
}

// JournalConfig configures the frame journal and where it is stored.
type JournalConfig struct {
	// Policy is strict, buffered or none.
	Policy       string `yaml:"policy"`
	BufferEvents int    `yaml:"buffer_events"`
	BufferBytes  int64  `yaml:"buffer_bytes"`

	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Enabled reports whether frames should be journaled.
func (j JournalConfig) Enabled() bool {
	return j.Path != "" && j.Policy != "none"
}

// NotifyConfig holds the run-finished notification targets. Both may be set.
type NotifyConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
	Redis   RedisConfig   `yaml:"redis"`
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// RedisConfig configures the redis pub/sub notifier.
type RedisConfig struct {
	URL     string   `yaml:"url"`
	Channel string   `yaml:"channel,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty"`
	Retries *int     `yaml:"retries,omitempty"`
}

// CacheConfig configures the local message-tree cache.
type CacheConfig struct {
	RedisURL  string   `yaml:"redis_url"`
	KeyPrefix string   `yaml:"key_prefix,omitempty"`
	TTL       Duration `yaml:"ttl,omitempty"`
}

// SessionConfig tunes session background work.
type SessionConfig struct {
	SyncDelay      Duration `yaml:"sync_delay,omitempty"`
	RehydrateDelay Duration `yaml:"rehydrate_delay,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "500ms".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values the loader cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	switch c.Journal.Policy {
	case "", "strict", "buffered", "none":
	default:
		errs = append(errs, fmt.Errorf("journal.policy: %q (must be strict, buffered or none)", c.Journal.Policy))
	}
	switch c.Journal.Backend {
	case "", "fs", "s3":
	default:
		errs = append(errs, fmt.Errorf("journal.backend: %q (must be fs or s3)", c.Journal.Backend))
	}
	if c.Journal.BufferEvents < 0 || c.Journal.BufferBytes < 0 {
		errs = append(errs, errors.New("journal buffer limits must not be negative"))
	}
	for name, r := range map[string]*int{"notify.webhook.retries": c.Notify.Webhook.Retries, "notify.redis.retries": c.Notify.Redis.Retries} {
		if r != nil && *r < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}
	return errors.Join(errs...)
}
