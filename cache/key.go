package cache

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/factdb"
)

// ErrInvalidKey is returned for query keys outside the key taxonomy or with
// a payload of the wrong shape.
var ErrInvalidKey = errors.New("invalid query key")

// Kind classifies a cached query by what it depends on.
type Kind string

const (
	KindBlock            Kind = "block"
	KindBlockRefsCount   Kind = "block-refs-count"
	KindPageBlocks       Kind = "page-blocks"
	KindBlockAndChildren Kind = "block-and-children"
	KindJournals         Kind = "journals"
	KindPageToPages      Kind = "page->pages"
	KindPageFromPages    Kind = "page<-pages"
	KindRefBlocks        Kind = "page<-blocks-or-block<-blocks"
	KindPageUnlinkedRefs Kind = "page-unlinked-refs"
	KindBlockRefIDs      Kind = "block<-block-ids"
	KindCustom           Kind = "custom"
	KindKV               Kind = "kv"
	KindEntity           Kind = "entity"
)

var kindPayload = map[Kind]payloadShape{
	KindBlock:            payloadUUID,
	KindBlockRefsCount:   payloadID,
	KindPageBlocks:       payloadID,
	KindBlockAndChildren: payloadUUID,
	KindJournals:         payloadNone,
	KindPageToPages:      payloadID,
	KindPageFromPages:    payloadID,
	KindRefBlocks:        payloadID,
	KindPageUnlinkedRefs: payloadID,
	KindBlockRefIDs:      payloadID,
	KindCustom:           payloadAny,
	KindKV:               payloadName,
	KindEntity:           payloadRef,
}

type payloadShape int

const (
	payloadNone payloadShape = iota
	payloadUUID
	payloadID
	payloadName
	payloadRef
	payloadAny
)

// Known reports whether k is part of the key taxonomy.
func (k Kind) Known() bool {
	_, ok := kindPayload[k]
	return ok
}

// KindSet is a set of kinds.
type KindSet map[Kind]struct{}

// NewKindSet builds a set from kinds.
func NewKindSet(kinds ...Kind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s KindSet) Has(k Kind) bool {
	_, ok := s[k]
	return ok
}

// QueryKey identifies a cached query by kind and the value it depends on.
type QueryKey struct {
	Kind Kind
	Arg  any
}

// Block keys a single block fetch.
func Block(id uuid.UUID) QueryKey { return QueryKey{Kind: KindBlock, Arg: id} }

// BlockRefsCount keys the number of references into a block.
func BlockRefsCount(id factdb.EID) QueryKey { return QueryKey{Kind: KindBlockRefsCount, Arg: id} }

// PageBlocks keys the blocks of a page.
func PageBlocks(page factdb.EID) QueryKey { return QueryKey{Kind: KindPageBlocks, Arg: page} }

// BlockAndChildren keys a block with its descendants.
func BlockAndChildren(id uuid.UUID) QueryKey {
	return QueryKey{Kind: KindBlockAndChildren, Arg: id}
}

// Journals keys the journal page list.
func Journals() QueryKey { return QueryKey{Kind: KindJournals} }

// PageToPages keys the pages referenced from a page.
func PageToPages(page factdb.EID) QueryKey { return QueryKey{Kind: KindPageToPages, Arg: page} }

// PageFromPages keys the pages referencing a page.
func PageFromPages(page factdb.EID) QueryKey { return QueryKey{Kind: KindPageFromPages, Arg: page} }

// RefBlocks keys the blocks referencing a page or block.
func RefBlocks(id factdb.EID) QueryKey { return QueryKey{Kind: KindRefBlocks, Arg: id} }

// PageUnlinkedRefs keys textual, unlinked mentions of a page.
func PageUnlinkedRefs(page factdb.EID) QueryKey {
	return QueryKey{Kind: KindPageUnlinkedRefs, Arg: page}
}

// BlockRefIDs keys the ids of blocks referencing a block.
func BlockRefIDs(id factdb.EID) QueryKey { return QueryKey{Kind: KindBlockRefIDs, Arg: id} }

// Custom keys a caller defined query.
func Custom(arg any) QueryKey { return QueryKey{Kind: KindCustom, Arg: arg} }

// KV keys a keyed scalar.
func KV(key string) QueryKey { return QueryKey{Kind: KindKV, Arg: key} }

// EntityKey keys a direct entity fetch by id or LookupRef.
func EntityKey(ref any) QueryKey { return QueryKey{Kind: KindEntity, Arg: ref} }

// Validate checks the kind and the payload shape.
func (k QueryKey) Validate() error {
	shape, ok := kindPayload[k.Kind]
	if !ok {
		return errors.Wrapf(ErrInvalidKey, "unknown kind %q", k.Kind)
	}
	switch shape {
	case payloadNone:
		if k.Arg != nil {
			return errors.Wrapf(ErrInvalidKey, "%s takes no argument, got %v", k.Kind, k.Arg)
		}
	case payloadUUID:
		if id, ok := k.Arg.(uuid.UUID); !ok || id == uuid.Nil {
			return errors.Wrapf(ErrInvalidKey, "%s expects a block uuid, got %T", k.Kind, k.Arg)
		}
	case payloadID:
		if !isEntityID(k.Arg) {
			return errors.Wrapf(ErrInvalidKey, "%s expects an entity id, got %v (%T)", k.Kind, k.Arg, k.Arg)
		}
	case payloadName:
		if s, ok := k.Arg.(string); !ok || s == "" {
			return errors.Wrapf(ErrInvalidKey, "%s expects a non empty key, got %v", k.Kind, k.Arg)
		}
	case payloadRef:
		if _, ok := k.Arg.(factdb.LookupRef); !ok && !isEntityID(k.Arg) {
			return errors.Wrapf(ErrInvalidKey, "%s expects an id or lookup ref, got %T", k.Kind, k.Arg)
		}
	}
	return nil
}

// EntityID returns the id payload of id shaped keys.
func (k QueryKey) EntityID() (factdb.EID, bool) {
	switch x := k.Arg.(type) {
	case factdb.EID:
		return x, x > 0
	case int64:
		return factdb.EID(x), x > 0
	case int:
		return factdb.EID(x), x > 0
	}
	return 0, false
}

func (k QueryKey) String() string {
	if k.Arg == nil {
		return "[" + string(k.Kind) + "]"
	}
	return fmt.Sprintf("[%s %v]", k.Kind, k.Arg)
}

func isEntityID(v any) bool {
	switch x := v.(type) {
	case factdb.EID:
		return x > 0
	case int64:
		return x > 0
	case int:
		return x > 0
	}
	return false
}

// Key is a fully qualified key: a query key within one repository.
type Key struct {
	Repo  string
	Query QueryKey
}

// In qualifies a query key with a repository.
func (k QueryKey) In(repo string) Key {
	return Key{Repo: repo, Query: k}
}

// Kind returns the query kind.
func (k Key) Kind() Kind {
	return k.Query.Kind
}

func (k Key) String() string {
	return k.Repo + " " + k.Query.String()
}
