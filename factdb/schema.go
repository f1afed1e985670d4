package factdb

import "strings"

// Attribute names used by the block graph. Values are stored without the
// leading colon used by the textual query syntax.
const (
	AttrID           = "db/id"
	AttrIdent        = "db/ident"
	AttrUUID         = "block/uuid"
	AttrName         = "block/name"
	AttrOriginalName = "block/original-name"
	AttrContent      = "block/content"
	AttrParent       = "block/parent"
	AttrLeft         = "block/left"
	AttrPage         = "block/page"
	AttrRefs         = "block/refs"
	AttrPathRefs     = "block/path-refs"
	AttrAlias        = "block/alias"
	AttrJournal      = "block/journal?"
	AttrJournalDay   = "block/journal-day"
	AttrKVValue      = "kv/value"
)

// AttrSpec describes how an attribute's values are stored and indexed.
type AttrSpec struct {
	// Ref marks values as entity ids.
	Ref bool
	// Many allows a set of values per entity instead of a single one.
	Many bool
	// Unique indexes the value so the entity can be found with a LookupRef
	// and upserted by transactions.
	Unique bool
}

// Schema maps attribute names to their spec. Attributes missing from the
// schema are single-valued scalars.
type Schema map[string]AttrSpec

// DefaultSchema returns the schema of the block graph.
func DefaultSchema() Schema {
	return Schema{
		AttrIdent:    {Unique: true},
		AttrUUID:     {Unique: true},
		AttrName:     {Unique: true},
		AttrParent:   {Ref: true},
		AttrLeft:     {Ref: true},
		AttrPage:     {Ref: true},
		AttrRefs:     {Ref: true, Many: true},
		AttrPathRefs: {Ref: true, Many: true},
		AttrAlias:    {Ref: true, Many: true},
	}
}

// Spec returns the attribute spec, the zero spec for unknown attributes.
func (s Schema) Spec(attr string) AttrSpec {
	if s == nil {
		return AttrSpec{}
	}
	return s[attr]
}

// Clone returns a copy of the schema.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Namespace returns the part of an attribute name before the slash.
func Namespace(attr string) string {
	if i := strings.IndexByte(attr, '/'); i >= 0 {
		return attr[:i]
	}
	return ""
}
