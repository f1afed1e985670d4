package cacheinfra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-query-cache/factdb"
)

// Config holds the configuration for the sturdyc snapshot store.
type Config struct {
	// Capacity defines the maximum number of snapshots the store keeps.
	// Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards.
	// Must be greater than 0. Default: 64
	NumShards int

	// TTL is how long a snapshot is kept after its last write.
	// A dropped snapshot only makes the next refresh rebuild it from the
	// cached result, so the value trades memory for rebuild work.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of snapshots to evict
	// when the store reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EvictionInterval sets how often the store checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          64,
		TTL:                24 * time.Hour,
		EvictionPercentage: 10,
		EvictionInterval:   0, // Use default
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
	)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field %s: %s", e.Field, e.Message)
}

// asConfigError reports the first failing field, in field name order.
func asConfigError(err error) error {
	errs, ok := err.(validation.Errors)
	if !ok || len(errs) == 0 {
		return err
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return &ConfigError{Field: fields[0], Message: errs[fields[0]].Error()}
}

// SnapshotStore keeps per key database snapshots in a sturdyc client.
type SnapshotStore struct {
	client *sturdyc.Client[*factdb.DB]
}

// NewSnapshotStore validates cfg and creates the store.
func NewSnapshotStore(cfg Config) (*SnapshotStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, asConfigError(err)
	}

	client := sturdyc.New[*factdb.DB](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SnapshotStore{client: client}, nil
}

// Get returns the snapshot stored under key.
func (s *SnapshotStore) Get(_ context.Context, key string) (*factdb.DB, bool) {
	db, ok := s.client.Get(key)
	if !ok || db == nil {
		return nil, false
	}
	return db, true
}

// Set stores a snapshot. A nil snapshot deletes the key.
func (s *SnapshotStore) Set(ctx context.Context, key string, db *factdb.DB) error {
	if db == nil {
		return s.Delete(ctx, key)
	}
	s.client.Set(key, db)
	return nil
}

// Delete removes a single snapshot.
func (s *SnapshotStore) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes all snapshots whose keys start with prefix.
func (s *SnapshotStore) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// Clear removes every snapshot.
func (s *SnapshotStore) Clear(ctx context.Context) error {
	return s.DeleteByPrefix(ctx, "")
}

// Size returns the number of stored snapshots.
func (s *SnapshotStore) Size() int {
	return s.client.Size()
}
