// Package cache defines the vocabulary shared by the query cache: query keys,
// their serialization, result cells, and the snapshot store.
//
// # Keys
//
// A QueryKey names a cached query by its Kind and the value it depends on.
// The kind decides which transactions can invalidate the entry, so keys must
// come from the fixed taxonomy:
//
//	cache.Block(blockUUID)          // [block uuid]
//	cache.PageBlocks(pageID)        // [page-blocks id]
//	cache.Journals()                // [journals]
//	cache.KV("app/theme")           // [kv key]
//	cache.Custom([]any{"widget", 42}) // refreshed on every transaction
//
// QueryKey.Validate rejects unknown kinds and payloads of the wrong shape
// with ErrInvalidKey. Qualifying a query key with a repository gives a Key:
//
//	key := cache.Journals().In("my-graph")
//
// # Key Serialization
//
// The default KeySerializer renders keys as repo::kind[::payload]. Scalar
// payloads stay readable: strings are quoted, integers and entity ids are
// decimal, UUIDs use their canonical form and lookup refs read as
// lookup:attr=value. Payloads of different types never serialize alike, so
// Custom(1) and Custom("1") are distinct keys, while an int and an EID with
// the same value address the same key.
// Composite payloads are msgpack encoded with sorted map keys and hashed with
// xxhash, which gives maps a deterministic identity regardless of iteration
// order.
//
// Function payloads are formatted by pointer and are therefore stable only
// within one process.
//
// # Cells
//
// A Cell is the observable result container of a cache entry. The engine
// hands the same cell to every caller asking for the same key and writes it
// whenever a refresh produces a different value:
//
//	stop := cell.Watch(func(old, new any) { render(new) })
//	defer stop()
//
// # Snapshot Store
//
// SnapshotStore keeps the small per key database that incremental refreshes
// evaluate against. NewSnapshotStore builds the sturdyc backed default from a
// Config; dropping an entry is always safe because the engine falls back to
// the live database.
package cache
