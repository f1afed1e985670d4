package reactivecache

import (
	"sort"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

// structuralAttrs move or reparent a block.
var structuralAttrs = map[string]bool{
	factdb.AttrParent: true,
	factdb.AttrLeft:   true,
	factdb.AttrPage:   true,
}

// textualAttrs change which blocks mention a page without linking it.
var textualAttrs = map[string]bool{
	factdb.AttrContent: true,
	factdb.AttrRefs:    true,
	factdb.AttrName:    true,
	factdb.AttrPage:    true,
}

// alwaysStale kinds are refreshed whenever cached: their dependency set is
// not derived from the changed facts.
var alwaysStale = cache.NewKindSet(cache.KindBlockAndChildren, cache.KindRefBlocks)

var canonicalKeys = cache.NewDefaultKeySerializer()

// KeySet is a set of repository-less query keys. Keys with equal
// serialization are the same member, so an EID and an int payload match.
type KeySet struct {
	keys map[string]cache.QueryKey
}

// NewKeySet builds a set from keys.
func NewKeySet(keys ...cache.QueryKey) KeySet {
	s := KeySet{keys: make(map[string]cache.QueryKey, len(keys))}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func canonical(k cache.QueryKey) string {
	return canonicalKeys.SerializeKey(cache.Key{Query: k})
}

// Add inserts k.
func (s KeySet) Add(k cache.QueryKey) {
	s.keys[canonical(k)] = k
}

// Has reports membership.
func (s KeySet) Has(k cache.QueryKey) bool {
	_, ok := s.keys[canonical(k)]
	return ok
}

// Len returns the number of keys.
func (s KeySet) Len() int {
	return len(s.keys)
}

// Keys returns the members ordered by serialization.
func (s KeySet) Keys() []cache.QueryKey {
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]cache.QueryKey, len(ids))
	for i, id := range ids {
		out[i] = s.keys[id]
	}
	return out
}

// AffectedKeys derives the query keys that may be stale after facts were
// applied to db. cached lists the keys currently cached in the repository;
// currentPage is the viewed page or zero.
//
// The result over-approximates: structural, reference and block namespace
// changes are mapped to the blocks and pages they touch, and kinds whose
// dependencies cannot be attributed to single ids are always included.
func AffectedKeys(db *factdb.DB, facts []factdb.Fact, cached []cache.QueryKey, currentPage factdb.EID) KeySet {
	out := NewKeySet()

	var (
		candidates = newValueSet()
		refs       = newValueSet()
		moved      = newValueSet()
		journals   bool
		textual    bool
	)
	for _, f := range facts {
		if structuralAttrs[f.A] {
			candidates.add(f.V)
		}
		if f.A == factdb.AttrPage {
			moved.add(f.E)
		}
		if f.A == factdb.AttrRefs {
			refs.add(f.V)
		}
		if factdb.Namespace(f.A) == "block" {
			candidates.add(f.E)
		}
		if textualAttrs[f.A] {
			textual = true
		}
		switch f.A {
		case factdb.AttrJournal, factdb.AttrJournalDay:
			journals = true
		case factdb.AttrUUID:
			// retracted blocks no longer resolve below
			if id, ok := f.V.(uuid.UUID); ok {
				out.Add(cache.Block(id))
			}
		case factdb.AttrKVValue, factdb.AttrIdent:
			if ident := identOf(db, facts, f); ident != "" {
				out.Add(cache.KV(ident))
			}
		}
	}

	for _, v := range candidates.values {
		ent, ok := resolve(db, v)
		if !ok {
			continue
		}
		if id, ok := ent.UUID(); ok {
			out.Add(cache.Block(id))
		}
		page, ok := pageOf(db, ent)
		if !ok {
			continue
		}
		out.Add(cache.PageBlocks(page.ID()))
		out.Add(cache.PageToPages(page.ID()))
		if page.Bool(factdb.AttrJournal) {
			journals = true
		}
	}

	if currentPage > 0 {
		out.Add(cache.PageToPages(currentPage))
		out.Add(cache.PageFromPages(currentPage))
	}

	for _, v := range refs.values {
		ent, ok := resolve(db, v)
		if !ok {
			continue
		}
		if ent.IsPage() {
			out.Add(cache.PageBlocks(ent.ID()))
			out.Add(cache.PageFromPages(ent.ID()))
		} else {
			out.Add(cache.BlockRefsCount(ent.ID()))
			out.Add(cache.BlockRefIDs(ent.ID()))
		}
	}

	// a block changing page changes the backlinks of the pages it references
	for _, v := range moved.values {
		ent, ok := resolve(db, v)
		if !ok {
			continue
		}
		for _, ref := range ent.Refs(factdb.AttrRefs) {
			if target, ok := db.Entity(ref); ok && target.IsPage() {
				out.Add(cache.PageFromPages(ref))
			}
		}
	}

	if journals {
		out.Add(cache.Journals())
	}

	touched := newValueSet()
	for _, f := range facts {
		touched.add(f.E)
	}
	for _, k := range cached {
		switch {
		case alwaysStale.Has(k.Kind):
			out.Add(k)
		case k.Kind == cache.KindPageUnlinkedRefs && textual:
			out.Add(k)
		case k.Kind == cache.KindEntity && entityTouched(db, k, touched):
			out.Add(k)
		}
	}
	return out
}

// resolve reads the entity behind a candidate value. Strings shaped like a
// UUID are looked up by block identifier.
func resolve(db *factdb.DB, v any) (factdb.Entity, bool) {
	switch x := v.(type) {
	case string:
		id, err := uuid.Parse(x)
		if err != nil {
			return nil, false
		}
		return db.Entity(factdb.LookupRef{Attr: factdb.AttrUUID, Value: id})
	case uuid.UUID:
		return db.Entity(factdb.LookupRef{Attr: factdb.AttrUUID, Value: x})
	}
	return db.Entity(v)
}

// pageOf returns ent when it is a page, otherwise the page it belongs to.
func pageOf(db *factdb.DB, ent factdb.Entity) (factdb.Entity, bool) {
	if ent.IsPage() {
		return ent, true
	}
	id, ok := ent.Ref(factdb.AttrPage)
	if !ok {
		return nil, false
	}
	return db.Entity(id)
}

// identOf finds the keyed-value name of the entity changed by f, looking at
// the database first and at the batch for retracted entities.
func identOf(db *factdb.DB, facts []factdb.Fact, f factdb.Fact) string {
	if f.A == factdb.AttrIdent {
		s, _ := f.V.(string)
		return s
	}
	if ent, ok := db.Entity(f.E); ok {
		if s := ent.String(factdb.AttrIdent); s != "" {
			return s
		}
	}
	for _, g := range facts {
		if g.E == f.E && g.A == factdb.AttrIdent {
			s, _ := g.V.(string)
			return s
		}
	}
	return ""
}

// entityTouched reports whether a cached entity key addresses one of the
// changed entities. Lookup refs that no longer resolve count as touched.
func entityTouched(db *factdb.DB, k cache.QueryKey, touched *valueSet) bool {
	if id, ok := k.EntityID(); ok {
		return touched.has(id)
	}
	lr, ok := k.Arg.(factdb.LookupRef)
	if !ok {
		return false
	}
	id, ok := db.Resolve(lr)
	if !ok {
		return true
	}
	return touched.has(id)
}

// valueSet is an insertion ordered set of candidate values.
type valueSet struct {
	seen   map[string]bool
	values []any
}

func newValueSet() *valueSet {
	return &valueSet{seen: map[string]bool{}}
}

func (s *valueSet) key(v any) string {
	return canonicalKeys.SerializeKey(cache.Key{Query: cache.QueryKey{Arg: v}})
}

func (s *valueSet) add(v any) {
	if v == nil {
		return
	}
	k := s.key(v)
	if s.seen[k] {
		return
	}
	s.seen[k] = true
	s.values = append(s.values, v)
}

func (s *valueSet) has(v any) bool {
	return s.seen[s.key(v)]
}
