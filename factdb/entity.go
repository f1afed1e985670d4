package factdb

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// EID is an entity id. Ids are positive and allocated by the database.
type EID int64

// LookupRef addresses an entity through a unique attribute value.
type LookupRef struct {
	Attr  string
	Value any
}

// TempID names an entity that does not exist yet inside one transaction.
type TempID string

// Entity is a pulled entity: attribute name to value, with AttrID holding
// the entity id. Ref values are nested Entity maps holding only AttrID; many
// valued attributes hold []any.
type Entity map[string]any

// ID returns the entity id, zero when the map carries none.
func (e Entity) ID() EID {
	id, _ := toEID(e[AttrID])
	return id
}

// Ref returns the id referenced by a single-valued ref attribute.
func (e Entity) Ref(attr string) (EID, bool) {
	return toEID(e[attr])
}

// Refs returns the ids referenced by a many-valued ref attribute.
func (e Entity) Refs(attr string) []EID {
	vals, ok := e[attr].([]any)
	if !ok {
		if id, ok := toEID(e[attr]); ok {
			return []EID{id}
		}
		return nil
	}
	out := make([]EID, 0, len(vals))
	for _, v := range vals {
		if id, ok := toEID(v); ok {
			out = append(out, id)
		}
	}
	return out
}

// String returns a string attribute.
func (e Entity) String(attr string) string {
	s, _ := e[attr].(string)
	return s
}

// Bool returns a boolean attribute.
func (e Entity) Bool(attr string) bool {
	b, _ := e[attr].(bool)
	return b
}

// Int returns an integer attribute.
func (e Entity) Int(attr string) int64 {
	n, _ := canon(e[attr]).(int64)
	return n
}

// UUID returns the block identifier of the entity.
func (e Entity) UUID() (uuid.UUID, bool) {
	id, ok := e[AttrUUID].(uuid.UUID)
	return id, ok
}

// IsPage reports whether the entity is a page.
func (e Entity) IsPage() bool {
	return e.String(AttrName) != ""
}

// IsEntityMap reports whether v is shaped like a pulled entity.
func IsEntityMap(v any) (Entity, bool) {
	switch m := v.(type) {
	case Entity:
		_, ok := m[AttrID]
		return m, ok
	case map[string]any:
		_, ok := m[AttrID]
		return Entity(m), ok
	}
	return nil, false
}

func toEID(v any) (EID, bool) {
	switch x := v.(type) {
	case EID:
		return x, x > 0
	case int64:
		return EID(x), x > 0
	case int:
		return EID(x), x > 0
	case int32:
		return EID(x), x > 0
	case uint64:
		return EID(x), x > 0
	case Entity:
		return toEID(x[AttrID])
	case map[string]any:
		return toEID(x[AttrID])
	}
	return 0, false
}

// canon normalises a value so values that compare equal share one
// representation: integers and entity ids become int64.
func canon(v any) any {
	switch x := v.(type) {
	case EID:
		return int64(x)
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// valueKey returns a comparable key for v, used by indexes and sets.
func valueKey(v any) any {
	c := canon(v)
	switch c.(type) {
	case int64, float64, string, bool, uuid.UUID, nil:
		return c
	}
	return fmt.Sprintf("%T:%v", c, c)
}

func lessValue(a, b any) bool {
	ca, cb := canon(a), canon(b)
	switch x := ca.(type) {
	case int64:
		if y, ok := cb.(int64); ok {
			return x < y
		}
	case float64:
		if y, ok := cb.(float64); ok {
			return x < y
		}
	case string:
		if y, ok := cb.(string); ok {
			return x < y
		}
	}
	return fmt.Sprint(ca) < fmt.Sprint(cb)
}

func sortValues(vals []any) {
	sort.SliceStable(vals, func(i, j int) bool { return lessValue(vals[i], vals[j]) })
}
