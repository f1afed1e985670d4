package factdb

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Transaction metadata keys understood by listeners.
const (
	MetaSkipRefresh = "skip-refresh?"
	MetaReplay      = "replay?"
	MetaOrigin      = "origin"
)

// Metadata travels with a transaction to its listeners.
type Metadata map[string]any

// SkipRefresh reports whether cached queries should ignore the transaction.
func (m Metadata) SkipRefresh() bool {
	b, _ := m[MetaSkipRefresh].(bool)
	return b
}

// OpKind is the kind of a transaction operation.
type OpKind int

const (
	OpAdd OpKind = iota
	OpRetract
	OpRetractEntity
)

// Op is a single transaction operation. E accepts an id, a LookupRef or a
// TempID; ref values accept the same plus entity maps.
type Op struct {
	Kind OpKind
	E    any
	A    string
	V    any
}

// Add asserts a value.
func Add(e any, attr string, v any) Op {
	return Op{Kind: OpAdd, E: e, A: attr, V: v}
}

// Retract removes a value.
func Retract(e any, attr string, v any) Op {
	return Op{Kind: OpRetract, E: e, A: attr, V: v}
}

// RetractEntity removes every value of an entity and every reference to it.
func RetractEntity(e any) Op {
	return Op{Kind: OpRetractEntity, E: e}
}

// TxReport describes a committed transaction.
type TxReport struct {
	ID       uuid.UUID
	DBBefore *DB
	DBAfter  *DB
	Facts    []Fact
	Meta     Metadata
	TempIDs  map[TempID]EID
}

// Transact applies transaction data, Ops and Entity maps, and returns the
// resulting report. The receiver is not modified.
func (db *DB) Transact(txData []any, meta Metadata) (*TxReport, error) {
	t := &txn{b: db.begin(), tempids: map[TempID]EID{}}
	for i, item := range txData {
		var err error
		switch x := item.(type) {
		case Op:
			err = t.op(x)
		case []Op:
			for _, op := range x {
				if err = t.op(op); err != nil {
					break
				}
			}
		case Entity:
			err = t.entity(x)
		case map[string]any:
			err = t.entity(Entity(x))
		default:
			err = errors.Wrapf(ErrInvalidFact, "unsupported tx item %T", item)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "tx item %d", i)
		}
	}
	if meta == nil {
		meta = Metadata{}
	}
	return &TxReport{
		ID:       uuid.New(),
		DBBefore: db,
		DBAfter:  t.b.db,
		Facts:    t.facts,
		Meta:     meta,
		TempIDs:  t.tempids,
	}, nil
}

// ApplyFacts applies already resolved facts and returns the report.
func (db *DB) ApplyFacts(facts []Fact, meta Metadata) (*TxReport, error) {
	next, err := db.WithFacts(facts)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = Metadata{}
	}
	return &TxReport{
		ID:       uuid.New(),
		DBBefore: db,
		DBAfter:  next,
		Facts:    append([]Fact(nil), facts...),
		Meta:     meta,
		TempIDs:  map[TempID]EID{},
	}, nil
}

type txn struct {
	b       *builder
	tempids map[TempID]EID
	facts   []Fact
}

func (t *txn) alloc() EID {
	t.b.db.maxEID++
	return t.b.db.maxEID
}

func (t *txn) resolve(ref any, allowNew bool) (EID, error) {
	switch x := ref.(type) {
	case TempID:
		if id, ok := t.tempids[x]; ok {
			return id, nil
		}
		if !allowNew {
			return 0, errors.Wrapf(ErrUnresolved, "tempid %q", x)
		}
		id := t.alloc()
		t.tempids[x] = id
		return id, nil
	case string:
		return t.resolve(TempID(x), allowNew)
	case LookupRef:
		if id, ok := t.b.db.lookup(x); ok {
			return id, nil
		}
		return 0, errors.Wrapf(ErrUnresolved, "lookup %s %v", x.Attr, x.Value)
	}
	if id, ok := toEID(ref); ok {
		if id > t.b.db.maxEID {
			t.b.db.maxEID = id
		}
		return id, nil
	}
	return 0, errors.Wrapf(ErrUnresolved, "reference %v (%T)", ref, ref)
}

func (t *txn) value(attr string, v any) (any, error) {
	if !t.b.db.schema.Spec(attr).Ref {
		return coerce(attr, v), nil
	}
	if ent, ok := v.(Entity); ok {
		if _, hasID := ent[AttrID]; !hasID {
			return nil, errors.Wrapf(ErrInvalidFact, "nested entity without id for %s", attr)
		}
		return t.resolve(ent[AttrID], true)
	}
	return t.resolve(v, true)
}

func (t *txn) add(e EID, attr string, v any) error {
	spec := t.b.db.schema.Spec(attr)
	current := t.b.db.eavt[e][attr]
	key := valueKey(canon(v))
	for _, existing := range current {
		if valueKey(existing) == key {
			return nil
		}
	}
	if !spec.Many {
		for _, existing := range current {
			f := Fact{E: e, A: attr, V: existing, Added: false}
			if err := t.b.retract(f); err != nil {
				return err
			}
			t.facts = append(t.facts, f)
		}
	}
	f := Fact{E: e, A: attr, V: v, Added: true}
	if err := t.b.add(f); err != nil {
		return err
	}
	f.V = t.b.db.eavt[e][attr][len(t.b.db.eavt[e][attr])-1]
	t.facts = append(t.facts, f)
	return nil
}

func (t *txn) retract(e EID, attr string, v any) error {
	key := valueKey(canon(v))
	for _, existing := range t.b.db.eavt[e][attr] {
		if valueKey(existing) == key {
			f := Fact{E: e, A: attr, V: existing, Added: false}
			if err := t.b.retract(f); err != nil {
				return err
			}
			t.facts = append(t.facts, f)
			return nil
		}
	}
	return nil
}

func (t *txn) op(op Op) error {
	switch op.Kind {
	case OpAdd:
		e, err := t.resolve(op.E, true)
		if err != nil {
			return err
		}
		v, err := t.value(op.A, op.V)
		if err != nil {
			return err
		}
		return t.add(e, op.A, v)
	case OpRetract:
		e, err := t.resolve(op.E, false)
		if err != nil {
			return err
		}
		v, err := t.value(op.A, op.V)
		if err != nil {
			return err
		}
		return t.retract(e, op.A, v)
	case OpRetractEntity:
		e, err := t.resolve(op.E, false)
		if err != nil {
			return err
		}
		for _, f := range t.b.db.ReferencesTo(e) {
			if err := t.retract(f.E, f.A, f.V); err != nil {
				return err
			}
		}
		for _, f := range t.b.db.Datoms(e) {
			if err := t.retract(f.E, f.A, f.V); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Wrapf(ErrInvalidFact, "unknown op kind %d", op.Kind)
}

// entity resolves the target of an entity map: its id or tempid, or an
// existing entity owning one of its unique values, or a fresh id.
func (t *txn) entity(ent Entity) error {
	attrs := make([]string, 0, len(ent))
	for a := range ent {
		if a != AttrID {
			attrs = append(attrs, a)
		}
	}
	sort.Strings(attrs)

	var (
		e   EID
		err error
	)
	for _, a := range attrs {
		if !t.b.db.schema.Spec(a).Unique || ent[a] == nil {
			continue
		}
		if id, ok := t.b.db.lookup(LookupRef{Attr: a, Value: ent[a]}); ok {
			e = id
			break
		}
	}
	raw, hasID := ent[AttrID]
	switch {
	case e != 0 && hasID:
		if tmp, ok := asTempID(raw); ok {
			t.tempids[tmp] = e
		} else if id, ok := toEID(raw); ok && id != e {
			return errors.Wrapf(ErrUniqueConflict, "entity %d upserts into %d", id, e)
		}
	case hasID:
		if e, err = t.resolve(raw, true); err != nil {
			return err
		}
	case e == 0:
		e = t.alloc()
	}

	for _, a := range attrs {
		val := ent[a]
		if val == nil {
			continue
		}
		vals := []any{val}
		if t.b.db.schema.Spec(a).Many {
			vals = asList(val)
		}
		for _, v := range vals {
			rv, err := t.value(a, v)
			if err != nil {
				return err
			}
			if err := t.add(e, a, rv); err != nil {
				return err
			}
		}
	}
	return nil
}

func asTempID(v any) (TempID, bool) {
	switch x := v.(type) {
	case TempID:
		return x, true
	case string:
		return TempID(x), true
	}
	return "", false
}
