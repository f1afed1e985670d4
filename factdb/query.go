package factdb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrQuery is returned for malformed queries or mismatched inputs.
var ErrQuery = errors.New("invalid query")

// FindKind selects the shape of a query result.
type FindKind int

const (
	// FindPull returns []Entity, one pulled entity per distinct binding.
	FindPull FindKind = iota
	// FindCount returns the number of distinct values of a variable as int.
	FindCount
	// FindScalars returns the distinct values of one variable as []any.
	FindScalars
	// FindTuples returns distinct tuples as [][]any.
	FindTuples
)

// Find is the find specification of a query.
type Find struct {
	Kind FindKind
	Vars []string
}

// Binding names a positional input. Collection inputs bind each element.
type Binding struct {
	Var        string
	Collection bool
}

// Term is a clause position: a variable, a constant or the blank "_".
type Term struct {
	Var   string
	Value any
	Blank bool
}

// V builds a variable term.
func V(name string) Term { return Term{Var: name} }

// C builds a constant term.
func C(v any) Term { return Term{Value: v} }

// Blank builds the blank term.
func Blank() Term { return Term{Blank: true} }

// Clause is an [e a v] pattern. The attribute must be a constant.
type Clause struct {
	E, A, V Term
}

// Query is a pattern query over one database.
type Query struct {
	Find  Find
	In    []Binding
	Where []Clause
}

type row map[string]any

// Q evaluates q against db with positional inputs.
func Q(q *Query, db *DB, inputs ...any) (any, error) {
	if q == nil {
		return nil, errors.Wrap(ErrQuery, "nil query")
	}
	if db == nil {
		return nil, errors.Wrap(ErrQuery, "nil database")
	}
	if len(inputs) != len(q.In) {
		return nil, errors.Wrapf(ErrQuery, "expected %d inputs, got %d", len(q.In), len(inputs))
	}

	rel := []row{{}}
	for i, b := range q.In {
		var next []row
		values := []any{inputs[i]}
		if b.Collection {
			values = asList(inputs[i])
		}
		for _, r := range rel {
			for _, v := range values {
				nr := r.with(b.Var, canonInput(v))
				next = append(next, nr)
			}
		}
		rel = next
	}

	for _, c := range q.Where {
		next, err := db.match(c, rel)
		if err != nil {
			return nil, err
		}
		rel = next
	}
	return db.project(q.Find, rel)
}

func canonInput(v any) any {
	if lr, ok := v.(LookupRef); ok {
		return lr
	}
	return canon(v)
}

func (r row) with(name string, v any) row {
	out := make(row, len(r)+1)
	for k, val := range r {
		out[k] = val
	}
	out[name] = v
	return out
}

func (db *DB) match(c Clause, rel []row) ([]row, error) {
	if c.A.Var != "" || c.A.Blank {
		return nil, errors.Wrap(ErrQuery, "attribute position must be a constant")
	}
	attr, ok := c.A.Value.(string)
	if !ok {
		return nil, errors.Wrapf(ErrQuery, "attribute %v is not a name", c.A.Value)
	}

	var out []row
	for _, r := range rel {
		for _, e := range db.candidates(c.E, attr, r) {
			for _, v := range db.eavt[e][attr] {
				nr, ok := bindTerm(r, c.V, attr, v)
				if !ok {
					continue
				}
				if c.E.Var != "" {
					if _, bound := nr[c.E.Var]; !bound {
						nr = nr.with(c.E.Var, e)
					}
				}
				out = append(out, nr)
			}
		}
	}
	return out, nil
}

func (db *DB) candidates(t Term, attr string, r row) []EID {
	var ref any
	switch {
	case t.Var != "":
		bound, ok := r[t.Var]
		if !ok {
			return db.withAttr(attr)
		}
		ref = bound
	case t.Blank:
		return db.withAttr(attr)
	default:
		ref = t.Value
	}
	if id, ok := db.Resolve(ref); ok {
		return []EID{id}
	}
	return nil
}

func (db *DB) withAttr(attr string) []EID {
	var out []EID
	for _, id := range db.EntityIDs() {
		if len(db.eavt[id][attr]) > 0 {
			out = append(out, id)
		}
	}
	return out
}

func bindTerm(r row, t Term, attr string, v any) (row, bool) {
	switch {
	case t.Blank:
		return r, true
	case t.Var != "":
		bound, ok := r[t.Var]
		if !ok {
			return r.with(t.Var, v), true
		}
		return r, valueKey(bound) == valueKey(v)
	default:
		return r, valueKey(coerce(attr, t.Value)) == valueKey(v)
	}
}

func (db *DB) project(f Find, rel []row) (any, error) {
	if len(f.Vars) == 0 {
		return nil, errors.Wrap(ErrQuery, "find has no variables")
	}
	for _, r := range rel {
		for _, v := range f.Vars {
			if _, ok := r[v]; !ok {
				return nil, errors.Wrapf(ErrQuery, "find variable %s is not bound", v)
			}
		}
		break
	}

	switch f.Kind {
	case FindPull:
		seen := map[EID]bool{}
		var ids []EID
		for _, r := range rel {
			id, ok := toEID(r[f.Vars[0]])
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out := make([]Entity, 0, len(ids))
		for _, id := range ids {
			if _, exists := db.eavt[id]; exists {
				out = append(out, db.pull(id))
			}
		}
		return out, nil
	case FindCount:
		seen := map[any]bool{}
		for _, r := range rel {
			seen[valueKey(r[f.Vars[0]])] = true
		}
		return len(seen), nil
	case FindScalars:
		seen := map[any]bool{}
		out := []any{}
		for _, r := range rel {
			v := r[f.Vars[0]]
			k := valueKey(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
		sortValues(out)
		return out, nil
	case FindTuples:
		seen := map[string]bool{}
		out := [][]any{}
		for _, r := range rel {
			tuple := make([]any, len(f.Vars))
			for i, v := range f.Vars {
				tuple[i] = r[v]
			}
			k := fmt.Sprint(tuple...)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, tuple)
		}
		sort.SliceStable(out, func(i, j int) bool {
			for k := range out[i] {
				if lessValue(out[i][k], out[j][k]) {
					return true
				}
				if lessValue(out[j][k], out[i][k]) {
					return false
				}
			}
			return false
		})
		return out, nil
	}
	return nil, errors.Wrapf(ErrQuery, "unknown find kind %d", f.Kind)
}

// String renders the query in its textual form.
func (q *Query) String() string {
	var b strings.Builder
	b.WriteString("[:find ")
	switch q.Find.Kind {
	case FindPull:
		fmt.Fprintf(&b, "(pull %s [*])", strings.Join(q.Find.Vars, " "))
	case FindCount:
		fmt.Fprintf(&b, "(count %s)", strings.Join(q.Find.Vars, " "))
	default:
		b.WriteString(strings.Join(q.Find.Vars, " "))
	}
	if len(q.In) > 0 {
		b.WriteString(" :in $")
		for _, in := range q.In {
			if in.Collection {
				fmt.Fprintf(&b, " [%s ...]", in.Var)
			} else {
				b.WriteString(" " + in.Var)
			}
		}
	}
	b.WriteString(" :where")
	for _, c := range q.Where {
		fmt.Fprintf(&b, " [%s %s %s]", c.E.render(true), c.A.render(false), c.V.render(false))
	}
	b.WriteString("]")
	return b.String()
}

func (t Term) render(entity bool) string {
	switch {
	case t.Blank:
		return "_"
	case t.Var != "":
		return t.Var
	}
	switch v := t.Value.(type) {
	case string:
		if !entity && Namespace(v) != "" && !strings.ContainsAny(v, " \"") {
			return ":" + v
		}
		return fmt.Sprintf("%q", v)
	}
	return fmt.Sprint(t.Value)
}
