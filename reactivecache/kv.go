package reactivecache

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

// OriginKV marks transactions issued by SetKeyedValue.
const OriginKV = "kv"

// SetKeyedValue stores value under key in repo as a {db/ident, kv/value}
// entity. A nil value retracts the entity, clears the cached cell and evicts
// the key.
func (e *Engine) SetKeyedValue(ctx context.Context, repo, key string, value any) error {
	qk := cache.KV(key)
	if err := qk.Validate(); err != nil {
		return err
	}
	conn, err := e.Conn(repo)
	if err != nil {
		return err
	}
	meta := factdb.Metadata{factdb.MetaOrigin: OriginKV}
	ref := factdb.LookupRef{Attr: factdb.AttrIdent, Value: key}

	if value == nil {
		if _, ok := conn.DB().Resolve(ref); ok {
			if _, err := conn.Transact(ctx, []any{factdb.RetractEntity(ref)}, meta); err != nil {
				return errors.Wrapf(err, "retract keyed value %q", key)
			}
		}
		fq := qk.In(repo)
		if cell, ok := e.Lookup(fq); ok && cell.Get() != nil {
			cell.Set(nil)
		}
		e.Evict(ctx, fq)
		return nil
	}

	_, err = conn.Transact(ctx, []any{factdb.Entity{
		factdb.AttrIdent:   key,
		factdb.AttrKVValue: value,
	}}, meta)
	if err != nil {
		return errors.Wrapf(err, "set keyed value %q", key)
	}
	return nil
}

// GetKeyedValue reads the value stored under key, nil when absent.
func (e *Engine) GetKeyedValue(ctx context.Context, repo, key string, opts ...EvalOption) (any, error) {
	cell, err := e.Evaluate(ctx, repo, cache.KV(key), nil, opts...)
	if err != nil {
		return nil, err
	}
	return cell.Get(), nil
}
