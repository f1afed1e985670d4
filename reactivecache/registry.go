package reactivecache

import (
	"context"
	"sort"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

// QueryFunc computes a result without the generic evaluator.
type QueryFunc func(ctx context.Context, db *factdb.DB) (any, error)

// InputsFunc computes the positional inputs of the entry query. snapshot is
// the entry's incremental snapshot and may be nil.
type InputsFunc func(db, snapshot *factdb.DB) ([]any, error)

// TransformFunc maps a raw result to the cached value.
type TransformFunc func(any) any

func identity(v any) any { return v }

// Entry is a registered cached query.
type Entry struct {
	Key       cache.Key
	Query     *factdb.Query
	Inputs    []any
	Result    *cache.Cell
	Transform TransformFunc
	QueryFn   QueryFunc
	InputsFn  InputsFunc
}

func (ent *Entry) transform(v any) any {
	if ent.Transform == nil {
		return v
	}
	return ent.Transform(v)
}

// Lookup returns the result cell cached under key.
func (e *Engine) Lookup(key cache.Key) (*cache.Cell, bool) {
	ent, ok := e.entries.Load(e.id(key))
	if !ok {
		return nil, false
	}
	return ent.Result, true
}

// Entry returns a copy of the entry cached under key.
func (e *Engine) Entry(key cache.Key) (Entry, bool) {
	ent, ok := e.entries.Load(e.id(key))
	if !ok {
		return Entry{}, false
	}
	return *ent, true
}

// Register stores entry, overwriting any entry under the same key. When one
// exists its cell is kept and receives the new entry's value, so holders of
// the cell stay attached. The returned cell is the one now registered.
func (e *Engine) Register(entry Entry) *cache.Cell {
	id := e.id(entry.Key)
	var (
		carry bool
		value any
	)
	stored, _ := e.entries.Compute(id, func(old *Entry, loaded bool) (*Entry, bool) {
		next := entry
		switch {
		case loaded && old.Result != nil:
			if next.Result != nil && next.Result != old.Result {
				carry, value = true, next.Result.Get()
			}
			next.Result = old.Result
		case next.Result == nil:
			next.Result = cache.NewCell(nil)
		}
		return &next, false
	})
	// watchers run outside the map lock
	if carry {
		stored.Result.Set(value)
	}
	return stored.Result
}

// Evict removes the entry under key together with its snapshot.
func (e *Engine) Evict(ctx context.Context, key cache.Key) {
	id := e.id(key)
	e.entries.Delete(id)
	if err := e.snapshots.Delete(ctx, id); err != nil {
		e.logger.Warn("snapshot delete failed", "key", id, "error", err)
	}
}

// Clear drops every entry, subscriber set and snapshot.
func (e *Engine) Clear(ctx context.Context) {
	e.entries.Clear()
	e.subscribers.Clear()
	if err := e.snapshots.Clear(ctx); err != nil {
		e.logger.Warn("snapshot clear failed", "error", err)
	}
}

// ClearRepo drops the entries, subscriber sets and snapshots of repo.
func (e *Engine) ClearRepo(ctx context.Context, repo string) {
	for _, id := range e.entryIDs(repo) {
		e.entries.Delete(id)
	}
	e.subscribers.Range(func(id string, set subscriberSet) bool {
		if set.key.Repo == repo {
			e.subscribers.Delete(id)
		}
		return true
	})
	if err := e.snapshots.DeleteByPrefix(ctx, e.serializer.RepoPrefix(repo)); err != nil {
		e.logger.Warn("snapshot clear failed", "repo", repo, "error", err)
	}
}

// ClearPreserving evicts the entries of repo except those whose kind is in
// the preserved set. It returns the number of evicted entries.
func (e *Engine) ClearPreserving(ctx context.Context, repo string) int {
	n := 0
	for _, ent := range e.entriesOf(repo) {
		if e.preserved.Has(ent.Key.Kind()) {
			continue
		}
		e.Evict(ctx, ent.Key)
		n++
	}
	return n
}

// Keys returns the cached keys of repo ordered by identity.
func (e *Engine) Keys(repo string) []cache.Key {
	entries := e.entriesOf(repo)
	out := make([]cache.Key, len(entries))
	for i, ent := range entries {
		out[i] = ent.Key
	}
	return out
}

func (e *Engine) entryIDs(repo string) []string {
	var ids []string
	e.entries.Range(func(id string, ent *Entry) bool {
		if ent.Key.Repo == repo {
			ids = append(ids, id)
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

func (e *Engine) entriesOf(repo string) []*Entry {
	ids := e.entryIDs(repo)
	out := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if ent, ok := e.entries.Load(id); ok {
			out = append(out, ent)
		}
	}
	return out
}
