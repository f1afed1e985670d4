package cache

import (
	"context"

	"github.com/goliatone/go-query-cache/factdb"
)

// KeySerializer builds the identity string of a fully qualified key.
// Two keys with the same serialization share one cache entry.
type KeySerializer interface {
	SerializeKey(key Key) string
	RepoPrefix(repo string) string
}

// SnapshotStore keeps the incremental database snapshot of each cached key.
// A missing snapshot is never an error: callers fall back to the live
// database, so implementations are free to drop entries.
type SnapshotStore interface {
	Get(ctx context.Context, key string) (*factdb.DB, bool)
	Set(ctx context.Context, key string, db *factdb.DB) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Clear(ctx context.Context) error
}
