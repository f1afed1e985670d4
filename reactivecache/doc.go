// Package reactivecache keeps query results over a factdb database current
// as transactions commit.
//
// An Engine owns two registries. The cache registry maps a fully qualified
// key (repository plus cache.QueryKey) to an Entry holding the query, its
// inputs and the cache.Cell with the latest result. The subscriber registry
// maps keys to the consumers reading them; when the last consumer of a key
// unsubscribes the entry is evicted.
//
//	engine, err := reactivecache.New(reactivecache.WithLogger(logger))
//	engine.Attach("graph", conn)
//
//	cell, err := engine.PageBlocks(ctx, "graph", pageID,
//		reactivecache.WithSubscriber("page-view"))
//	stop := cell.Watch(func(_, blocks any) { render(blocks) })
//
// Attach installs a commit listener on the connection. For every committed
// transaction the engine derives the keys that may be stale from the changed
// attributes (AffectedKeys), re-evaluates the matching entries and writes a
// cell only when its value changed. Entries keyed as custom are re-evaluated
// on every transaction.
//
// Each entry also keeps a small incremental snapshot (BuildSnapshot) seeded
// from its previous result and advanced with each fact batch. Input
// functions receive it next to the live database.
package reactivecache
