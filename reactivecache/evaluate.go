package reactivecache

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

type evalOptions struct {
	subscriber  SubscriberID
	inputs      []any
	noCache     bool
	nonReactive bool
	transform   TransformFunc
	queryFn     QueryFunc
	inputsFn    InputsFunc
}

// EvalOption configures a single Evaluate call.
type EvalOption func(*evalOptions)

// WithSubscriber records sub as a consumer of the evaluated key.
func WithSubscriber(sub SubscriberID) EvalOption {
	return func(o *evalOptions) { o.subscriber = sub }
}

// WithInputs sets the positional query inputs.
func WithInputs(inputs ...any) EvalOption {
	return func(o *evalOptions) { o.inputs = inputs }
}

// WithoutCache forces evaluation even when the key is cached. The cached
// cell, if any, is reused and receives the new value.
func WithoutCache() EvalOption {
	return func(o *evalOptions) { o.noCache = true }
}

// NonReactive evaluates once without registering the key for refresh.
func NonReactive() EvalOption {
	return func(o *evalOptions) { o.nonReactive = true }
}

// WithTransform sets the function applied to every raw result.
func WithTransform(fn TransformFunc) EvalOption {
	return func(o *evalOptions) { o.transform = fn }
}

// WithQueryFunc replaces the generic evaluator for the key.
func WithQueryFunc(fn QueryFunc) EvalOption {
	return func(o *evalOptions) { o.queryFn = fn }
}

// WithInputsFunc computes the query inputs from the database and the key's
// incremental snapshot on every evaluation.
func WithInputsFunc(fn InputsFunc) EvalOption {
	return func(o *evalOptions) { o.inputsFn = fn }
}

// Evaluate returns the result cell of key in repo. A cached key returns its
// cell without evaluating query, even when query differs from the cached one.
// On a miss the result is computed against the live database and, unless
// NonReactive is given, registered for refresh. The subscriber is recorded
// only against a registered entry, so a failed or one-shot evaluation leaves
// no subscription behind.
//
// Keys outside the taxonomy fail with an error wrapping cache.ErrInvalidKey
// before any registration happens.
func (e *Engine) Evaluate(ctx context.Context, repo string, key cache.QueryKey, query *factdb.Query, opts ...EvalOption) (*cache.Cell, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	conn, err := e.Conn(repo)
	if err != nil {
		return nil, err
	}

	var o evalOptions
	for _, opt := range opts {
		opt(&o)
	}

	fq := key.In(repo)
	if !o.noCache {
		if cell, ok := e.Lookup(fq); ok {
			e.subscribe(fq, o.subscriber)
			return cell, nil
		}
	}

	id := e.id(fq)
	e.logger.Debug("cache miss", "key", id)

	entry := Entry{
		Key:       fq,
		Query:     query,
		Inputs:    o.inputs,
		Transform: o.transform,
		QueryFn:   o.queryFn,
		InputsFn:  o.inputsFn,
	}
	db := conn.DB()
	raw, err := e.execute(ctx, db, nil, &entry)
	if err != nil {
		return nil, err
	}
	value := entry.transform(raw)

	if o.nonReactive {
		return cache.NewCell(value), nil
	}

	if key.Kind != cache.KindKV {
		// a fresh result reseeds the snapshot
		snapshot, err := BuildSnapshot(db.Schema(), value, nil, nil, key)
		if err != nil {
			e.logger.Warn("snapshot build failed", "key", id, "result", value, "error", err)
		}
		e.storeSnapshot(ctx, id, snapshot)
	}

	entry.Result = cache.NewCell(value)
	cell := e.Register(entry)
	e.subscribe(fq, o.subscriber)
	return cell, nil
}

// subscribe attributes a read of a registered key to sub, when one is given.
func (e *Engine) subscribe(key cache.Key, sub SubscriberID) {
	if sub != "" {
		e.Subscribe(key, sub)
	}
}

// execute runs an entry's query in priority order: custom query function,
// inputs function with the evaluator, direct fetch for kv and entity keys
// without a query, then the evaluator with the stored inputs.
func (e *Engine) execute(ctx context.Context, db, snapshot *factdb.DB, ent *Entry) (any, error) {
	key := ent.Key.Query
	switch {
	case ent.QueryFn != nil:
		v, err := ent.QueryFn(ctx, db)
		if err != nil {
			return nil, errors.Wrapf(errors.Mark(err, ErrEvaluation), "query function of %s", key)
		}
		return v, nil

	case ent.InputsFn != nil:
		if ent.Query == nil {
			return nil, errors.Wrapf(ErrEvaluation, "inputs function of %s without a query", key)
		}
		inputs, err := ent.InputsFn(db, snapshot)
		if err != nil {
			return nil, errors.Wrapf(errors.Mark(err, ErrEvaluation), "inputs function of %s", key)
		}
		return e.query(ent.Query, db, key, inputs)

	case ent.Query == nil && (key.Kind == cache.KindKV || key.Kind == cache.KindEntity):
		return directFetch(db, key), nil

	case ent.Query != nil:
		return e.query(ent.Query, db, key, ent.Inputs)
	}
	return nil, errors.Wrapf(ErrEvaluation, "%s has no query", key)
}

func (e *Engine) query(q *factdb.Query, db *factdb.DB, key cache.QueryKey, inputs []any) (any, error) {
	v, err := factdb.Q(q, db, inputs...)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrEvaluation), "evaluate %s", key)
	}
	return v, nil
}

// directFetch reads a keyed value or pulls an entity. Missing data is nil.
func directFetch(db *factdb.DB, key cache.QueryKey) any {
	switch key.Kind {
	case cache.KindKV:
		ent, ok := db.Entity(factdb.LookupRef{Attr: factdb.AttrIdent, Value: key.Arg})
		if !ok {
			return nil
		}
		return ent[factdb.AttrKVValue]
	case cache.KindEntity:
		ent, ok := db.Entity(key.Arg)
		if !ok {
			return nil
		}
		return ent
	}
	return nil
}

func (e *Engine) storeSnapshot(ctx context.Context, id string, snapshot *factdb.DB) {
	var err error
	if snapshot == nil {
		err = e.snapshots.Delete(ctx, id)
	} else {
		err = e.snapshots.Set(ctx, id, snapshot)
	}
	if err != nil {
		e.logger.Warn("snapshot store failed", "key", id, "error", err)
	}
}
