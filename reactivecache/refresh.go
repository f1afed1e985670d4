package reactivecache

import (
	"context"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

// RefreshResult reports what one transaction did to the cache.
type RefreshResult struct {
	// Skipped is set when the transaction was ignored.
	Skipped bool
	// Affected is the analyzer output.
	Affected KeySet
	// Refreshed lists the re-evaluated keys, Changed those whose cell was
	// written.
	Refreshed []cache.Key
	Changed   []cache.Key
	// Failed lists entries whose evaluation failed. Their cells keep the
	// previous value.
	Failed []EntryFailure
}

// EntryFailure is the failure of one entry during a refresh.
type EntryFailure struct {
	Key cache.Key
	Err error
}

type entryResult struct {
	key     cache.Key
	changed bool
	err     error
}

var resultOptions = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmp.Exporter(func(reflect.Type) bool { return true }),
}

// sameResult compares results structurally; nil and empty collections are
// equal.
func sameResult(a, b any) bool {
	return cmp.Equal(a, b, resultOptions...)
}

// Refresh brings the entries of repo up to date with a committed
// transaction. It does nothing for an empty batch, an empty repo name or a
// transaction flagged with factdb.MetaSkipRefresh. A report without DBAfter
// is refreshed against the repository's current database. A failing entry
// is reported in the result and does not stop the others.
func (e *Engine) Refresh(ctx context.Context, repo string, report *factdb.TxReport) RefreshResult {
	if repo == "" || report == nil || len(report.Facts) == 0 || report.Meta.SkipRefresh() {
		return RefreshResult{Skipped: true}
	}

	db := report.DBAfter
	if db == nil {
		conn, err := e.Conn(repo)
		if err != nil {
			e.logger.Warn("refresh without a database", "repo", repo, "error", err)
			return RefreshResult{Skipped: true}
		}
		db = conn.DB()
	}
	entries := e.entriesOf(repo)
	cached := make([]cache.QueryKey, len(entries))
	for i, ent := range entries {
		cached[i] = ent.Key.Query
	}

	var page factdb.EID
	if e.currentPage != nil {
		page, _ = e.currentPage(repo)
	}
	affected := AffectedKeys(db, report.Facts, cached, page)
	result := RefreshResult{Affected: affected}

	for _, ent := range entries {
		if ent.Key.Kind() != cache.KindCustom && !affected.Has(ent.Key.Query) {
			continue
		}
		res := e.refreshEntry(ctx, db, report.Facts, ent)
		result.Refreshed = append(result.Refreshed, res.key)
		switch {
		case res.err != nil:
			e.logger.Error("refresh failed", "key", e.id(res.key), "error", res.err)
			result.Failed = append(result.Failed, EntryFailure{Key: res.key, Err: res.err})
		case res.changed:
			result.Changed = append(result.Changed, res.key)
		}
	}

	e.logger.Debug("refreshed",
		"repo", repo,
		"tx", report.ID.String(),
		"facts", len(report.Facts),
		"affected", affected.Len(),
		"refreshed", len(result.Refreshed),
		"changed", len(result.Changed),
		"failed", len(result.Failed),
	)
	return result
}

func (e *Engine) refreshEntry(ctx context.Context, db *factdb.DB, facts []factdb.Fact, ent *Entry) entryResult {
	id := e.id(ent.Key)
	prev := ent.Result.Get()

	var snapshot *factdb.DB
	if (ent.Query != nil || ent.QueryFn != nil) && ent.Key.Kind() != cache.KindKV {
		prevSnapshot, _ := e.snapshots.Get(ctx, id)
		next, err := BuildSnapshot(db.Schema(), prev, facts, prevSnapshot, ent.Key.Query)
		if err != nil {
			e.logger.Warn("snapshot build failed",
				"key", id,
				"result", prev,
				"facts", facts,
				"error", err,
			)
		}
		snapshot = next
		e.storeSnapshot(ctx, id, snapshot)
	}

	raw, err := e.execute(ctx, db, snapshot, ent)
	if err != nil {
		return entryResult{key: ent.Key, err: err}
	}
	value := ent.transform(raw)
	if sameResult(prev, value) {
		return entryResult{key: ent.Key}
	}
	ent.Result.Set(value)
	return entryResult{key: ent.Key, changed: true}
}
