package factdb

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	// ErrInvalidFact is returned when a fact cannot be applied to a database.
	ErrInvalidFact = errors.New("invalid fact")
	// ErrUniqueConflict is returned when a unique value is already owned by
	// another entity.
	ErrUniqueConflict = errors.New("unique value conflict")
	// ErrUnresolved is returned when an entity reference does not resolve.
	ErrUnresolved = errors.New("entity reference does not resolve")
)

// Fact is a single change: a value added to or retracted from an entity
// attribute.
type Fact struct {
	E     EID
	A     string
	V     any
	Added bool
}

// DB is an immutable database value. Every change produces a new DB that
// shares untouched entities with its parent.
type DB struct {
	schema Schema
	eavt   map[EID]map[string][]any
	unique map[string]map[any]EID
	maxEID EID
}

// Empty returns a database holding no entities.
func Empty(schema Schema) *DB {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &DB{
		schema: schema,
		eavt:   map[EID]map[string][]any{},
		unique: map[string]map[any]EID{},
	}
}

// Schema returns the schema the database was created with.
func (db *DB) Schema() Schema {
	return db.schema
}

// Size returns the number of entities.
func (db *DB) Size() int {
	return len(db.eavt)
}

// MaxEID returns the highest entity id ever stored.
func (db *DB) MaxEID() EID {
	return db.maxEID
}

// Resolve turns an entity reference into an existing entity id. Accepted
// references are ids, LookupRefs and entity maps carrying an id.
func (db *DB) Resolve(ref any) (EID, bool) {
	if db == nil {
		return 0, false
	}
	if lr, ok := ref.(LookupRef); ok {
		return db.lookup(lr)
	}
	id, ok := toEID(ref)
	if !ok {
		return 0, false
	}
	_, exists := db.eavt[id]
	return id, exists
}

func (db *DB) lookup(lr LookupRef) (EID, bool) {
	if s, ok := lr.Value.(string); ok && lr.Attr == AttrUUID {
		if id, err := uuid.Parse(s); err == nil {
			lr.Value = id
		}
	}
	if idx, ok := db.unique[lr.Attr]; ok {
		id, found := idx[valueKey(lr.Value)]
		return id, found
	}
	if db.schema.Spec(lr.Attr).Unique {
		return 0, false
	}
	want := valueKey(lr.Value)
	for _, id := range db.EntityIDs() {
		for _, v := range db.eavt[id][lr.Attr] {
			if valueKey(v) == want {
				return id, true
			}
		}
	}
	return 0, false
}

// Entity pulls every attribute of the referenced entity.
func (db *DB) Entity(ref any) (Entity, bool) {
	id, ok := db.Resolve(ref)
	if !ok {
		return nil, false
	}
	return db.pull(id), true
}

func (db *DB) pull(id EID) Entity {
	attrs := db.eavt[id]
	out := make(Entity, len(attrs)+1)
	out[AttrID] = id
	for attr, vals := range attrs {
		spec := db.schema.Spec(attr)
		if spec.Many {
			list := make([]any, 0, len(vals))
			for _, v := range vals {
				list = append(list, pullValue(spec, v))
			}
			sortValues(list)
			out[attr] = list
			continue
		}
		if len(vals) > 0 {
			out[attr] = pullValue(spec, vals[0])
		}
	}
	return out
}

func pullValue(spec AttrSpec, v any) any {
	if spec.Ref {
		if id, ok := toEID(v); ok {
			return Entity{AttrID: id}
		}
	}
	return v
}

// Values returns the raw values stored for an entity attribute.
func (db *DB) Values(id EID, attr string) []any {
	vals := db.eavt[id][attr]
	out := make([]any, len(vals))
	copy(out, vals)
	return out
}

// Datoms returns every added fact of an entity.
func (db *DB) Datoms(id EID) []Fact {
	attrs := db.eavt[id]
	names := make([]string, 0, len(attrs))
	for a := range attrs {
		names = append(names, a)
	}
	sort.Strings(names)
	var out []Fact
	for _, a := range names {
		for _, v := range attrs[a] {
			out = append(out, Fact{E: id, A: a, V: v, Added: true})
		}
	}
	return out
}

// EntityIDs returns every entity id in ascending order.
func (db *DB) EntityIDs() []EID {
	ids := make([]EID, 0, len(db.eavt))
	for id := range db.eavt {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReferencesTo returns the facts whose ref value points at id.
func (db *DB) ReferencesTo(id EID) []Fact {
	var out []Fact
	for _, e := range db.EntityIDs() {
		for attr, vals := range db.eavt[e] {
			if !db.schema.Spec(attr).Ref {
				continue
			}
			for _, v := range vals {
				if ref, ok := toEID(v); ok && ref == id {
					out = append(out, Fact{E: e, A: attr, V: ref, Added: true})
				}
			}
		}
	}
	return out
}

// WithFacts returns a new database with the facts applied in order.
func (db *DB) WithFacts(facts []Fact) (*DB, error) {
	b := db.begin()
	for _, f := range facts {
		var err error
		if f.Added {
			err = b.add(f)
		} else {
			err = b.retract(f)
		}
		if err != nil {
			return nil, err
		}
	}
	return b.db, nil
}

// WithEntities seeds the database with pulled entity maps. Nil values are
// skipped; every entity must carry an id.
func (db *DB) WithEntities(entities []Entity) (*DB, error) {
	var facts []Fact
	for _, ent := range entities {
		id, ok := toEID(ent[AttrID])
		if !ok {
			return nil, errors.Wrapf(ErrInvalidFact, "entity without %s", AttrID)
		}
		for attr, val := range ent {
			if attr == AttrID || val == nil {
				continue
			}
			spec := db.schema.Spec(attr)
			if spec.Many {
				for _, v := range asList(val) {
					if v != nil {
						facts = append(facts, Fact{E: id, A: attr, V: v, Added: true})
					}
				}
				continue
			}
			facts = append(facts, Fact{E: id, A: attr, V: val, Added: true})
		}
	}
	return db.WithFacts(facts)
}

func asList(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case []EID:
		out := make([]any, len(x))
		for i, id := range x {
			out[i] = id
		}
		return out
	case []Entity:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	}
	return []any{v}
}

type builder struct {
	db       *DB
	ownedEnt map[EID]bool
	ownedIdx map[string]bool
}

func (db *DB) begin() *builder {
	next := &DB{
		schema: db.schema,
		eavt:   make(map[EID]map[string][]any, len(db.eavt)),
		unique: make(map[string]map[any]EID, len(db.unique)),
		maxEID: db.maxEID,
	}
	for id, attrs := range db.eavt {
		next.eavt[id] = attrs
	}
	for attr, idx := range db.unique {
		next.unique[attr] = idx
	}
	return &builder{db: next, ownedEnt: map[EID]bool{}, ownedIdx: map[string]bool{}}
}

func (b *builder) entity(id EID) map[string][]any {
	attrs, ok := b.db.eavt[id]
	if b.ownedEnt[id] && ok {
		return attrs
	}
	owned := make(map[string][]any, len(attrs)+1)
	if ok {
		for a, vals := range attrs {
			owned[a] = vals
		}
	}
	b.db.eavt[id] = owned
	b.ownedEnt[id] = true
	return owned
}

func (b *builder) index(attr string) map[any]EID {
	idx := b.db.unique[attr]
	if b.ownedIdx[attr] {
		return idx
	}
	owned := make(map[any]EID, len(idx)+1)
	for k, v := range idx {
		owned[k] = v
	}
	b.db.unique[attr] = owned
	b.ownedIdx[attr] = true
	return owned
}

func (b *builder) normalise(f Fact) (any, error) {
	if f.E <= 0 {
		return nil, errors.Wrapf(ErrInvalidFact, "entity id %d", f.E)
	}
	if f.A == "" || f.A == AttrID {
		return nil, errors.Wrapf(ErrInvalidFact, "attribute %q", f.A)
	}
	if f.V == nil {
		return nil, errors.Wrapf(ErrInvalidFact, "nil value for %s", f.A)
	}
	if b.db.schema.Spec(f.A).Ref {
		id, ok := toEID(f.V)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidFact, "ref attribute %s with value %v", f.A, f.V)
		}
		return id, nil
	}
	return coerce(f.A, f.V), nil
}

// coerce stores block identifiers as UUIDs and integers as int64.
func coerce(attr string, v any) any {
	if s, ok := v.(string); ok && attr == AttrUUID {
		if id, err := uuid.Parse(s); err == nil {
			return id
		}
	}
	return canon(v)
}

func (b *builder) add(f Fact) error {
	v, err := b.normalise(f)
	if err != nil {
		return err
	}
	spec := b.db.schema.Spec(f.A)
	key := valueKey(v)
	if spec.Unique {
		if owner, ok := b.db.unique[f.A][key]; ok && owner != f.E {
			return errors.Wrapf(ErrUniqueConflict, "%s %v owned by %d", f.A, v, owner)
		}
	}

	ent := b.entity(f.E)
	old := ent[f.A]
	if spec.Many {
		for _, existing := range old {
			if valueKey(existing) == key {
				return nil
			}
		}
		next := make([]any, len(old), len(old)+1)
		copy(next, old)
		ent[f.A] = append(next, v)
	} else {
		if spec.Unique {
			for _, existing := range old {
				k := valueKey(existing)
				if k != key {
					delete(b.index(f.A), k)
				}
			}
		}
		ent[f.A] = []any{v}
	}
	if spec.Unique {
		b.index(f.A)[key] = f.E
	}
	if f.E > b.db.maxEID {
		b.db.maxEID = f.E
	}
	return nil
}

func (b *builder) retract(f Fact) error {
	v, err := b.normalise(f)
	if err != nil {
		return err
	}
	if _, ok := b.db.eavt[f.E]; !ok {
		return nil
	}
	ent := b.entity(f.E)
	key := valueKey(v)
	old := ent[f.A]
	next := make([]any, 0, len(old))
	for _, existing := range old {
		if valueKey(existing) != key {
			next = append(next, existing)
		}
	}
	if len(next) == len(old) {
		if len(ent) == 0 {
			delete(b.db.eavt, f.E)
		}
		return nil
	}
	if b.db.schema.Spec(f.A).Unique && b.db.unique[f.A][key] == f.E {
		delete(b.index(f.A), key)
	}
	if len(next) == 0 {
		delete(ent, f.A)
	} else {
		ent[f.A] = next
	}
	if len(ent) == 0 {
		delete(b.db.eavt, f.E)
	}
	return nil
}
