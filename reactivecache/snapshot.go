package reactivecache

import (
	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

// BuildSnapshot returns the incremental snapshot of key after facts.
//
// Custom keys never get a snapshot. An existing snapshot has the facts
// applied. Without one, a previous result shaped as a collection of entity
// maps (or empty) seeds an empty database that then receives the facts. Any
// other result yields nil, which makes callers read the live database.
//
// On failure the previous snapshot is returned together with an error
// wrapping ErrSnapshot.
func BuildSnapshot(schema factdb.Schema, prev any, facts []factdb.Fact, prevSnapshot *factdb.DB, key cache.QueryKey) (*factdb.DB, error) {
	if key.Kind == cache.KindCustom {
		return nil, nil
	}

	if prevSnapshot != nil {
		next, err := prevSnapshot.WithFacts(facts)
		if err != nil {
			return prevSnapshot, errors.Wrapf(errors.Mark(err, ErrSnapshot), "apply %d facts to snapshot of %s", len(facts), key)
		}
		return next, nil
	}

	entities, ok := entityCollection(prev)
	if !ok {
		return nil, nil
	}
	seeded, err := factdb.Empty(schema).WithEntities(entities)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrSnapshot), "seed snapshot of %s", key)
	}
	next, err := seeded.WithFacts(facts)
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrSnapshot), "apply %d facts to seeded snapshot of %s", len(facts), key)
	}
	return next, nil
}

// entityCollection reports whether v is nil, empty, or a collection of
// entity maps, returning the non nil entities.
func entityCollection(v any) ([]factdb.Entity, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case []factdb.Entity:
		out := make([]factdb.Entity, 0, len(x))
		for _, ent := range x {
			if ent != nil {
				out = append(out, ent)
			}
		}
		return out, true
	case []map[string]any:
		out := make([]factdb.Entity, 0, len(x))
		for _, m := range x {
			if m != nil {
				out = append(out, factdb.Entity(m))
			}
		}
		return out, true
	case []any:
		out := make([]factdb.Entity, 0, len(x))
		for _, item := range x {
			if item == nil {
				continue
			}
			ent, ok := factdb.IsEntityMap(item)
			if !ok {
				return nil, false
			}
			out = append(out, ent)
		}
		return out, true
	}
	return nil, false
}
