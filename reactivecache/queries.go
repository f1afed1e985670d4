package reactivecache

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

var (
	journalsQuery = factdb.MustParseQuery(
		`[:find (pull ?p [*]) :where [?p :block/journal? true]]`)
	blockQuery = factdb.MustParseQuery(
		`[:find (pull ?b [*]) :in $ ?id :where [?b :block/uuid ?id]]`)
	blockRefsCountQuery = factdb.MustParseQuery(
		`[:find (count ?b) :in $ ?id :where [?b :block/refs ?id]]`)
	pageBlocksQuery = factdb.MustParseQuery(
		`[:find (pull ?b [*]) :in $ ?p :where [?b :block/page ?p]]`)
	childrenQuery = factdb.MustParseQuery(
		`[:find (pull ?c [*]) :in $ ?p :where [?c :block/parent ?p]]`)
	pageLinksQuery = factdb.MustParseQuery(
		`[:find ?ref :in $ ?p :where [?b :block/page ?p] [?b :block/refs ?ref] [?ref :block/name _]]`)
	pageBacklinksQuery = factdb.MustParseQuery(
		`[:find ?src :in $ ?p :where [?b :block/refs ?p] [?b :block/page ?src]]`)
	refBlocksQuery = factdb.MustParseQuery(
		`[:find (pull ?b [*]) :in $ [?id ...] :where [?b :block/refs ?id]]`)
	blockRefIDsQuery = factdb.MustParseQuery(
		`[:find ?b :in $ ?id :where [?b :block/refs ?id]]`)
	contentQuery = factdb.MustParseQuery(
		`[:find (pull ?b [*]) :where [?b :block/content _]]`)
)

// Journals caches the journal pages, most recent day first.
func (e *Engine) Journals(ctx context.Context, repo string, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithTransform(sortJournals)}, opts...)
	return e.Evaluate(ctx, repo, cache.Journals(), journalsQuery, opts...)
}

func sortJournals(v any) any {
	pages, ok := v.([]factdb.Entity)
	if !ok {
		return v
	}
	out := append([]factdb.Entity(nil), pages...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Int(factdb.AttrJournalDay) > out[j].Int(factdb.AttrJournalDay)
	})
	return out
}

// Block caches a single block, nil when it does not exist.
func (e *Engine) Block(ctx context.Context, repo string, id uuid.UUID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithInputs(id), WithTransform(first)}, opts...)
	return e.Evaluate(ctx, repo, cache.Block(id), blockQuery, opts...)
}

func first(v any) any {
	if ents, ok := v.([]factdb.Entity); ok && len(ents) > 0 {
		return ents[0]
	}
	return nil
}

// BlockRefsCount caches the number of blocks referencing a block.
func (e *Engine) BlockRefsCount(ctx context.Context, repo string, id factdb.EID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithInputs(id)}, opts...)
	return e.Evaluate(ctx, repo, cache.BlockRefsCount(id), blockRefsCountQuery, opts...)
}

// PageBlocks caches the blocks of a page.
func (e *Engine) PageBlocks(ctx context.Context, repo string, page factdb.EID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithInputs(page)}, opts...)
	return e.Evaluate(ctx, repo, cache.PageBlocks(page), pageBlocksQuery, opts...)
}

// BlockAndChildren caches a block followed by its descendants in breadth
// first order.
func (e *Engine) BlockAndChildren(ctx context.Context, repo string, id uuid.UUID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithQueryFunc(func(_ context.Context, db *factdb.DB) (any, error) {
		return subtree(db, id)
	})}, opts...)
	return e.Evaluate(ctx, repo, cache.BlockAndChildren(id), childrenQuery, opts...)
}

func subtree(db *factdb.DB, id uuid.UUID) ([]factdb.Entity, error) {
	root, ok := db.Entity(factdb.LookupRef{Attr: factdb.AttrUUID, Value: id})
	if !ok {
		return []factdb.Entity{}, nil
	}
	out := []factdb.Entity{root}
	seen := map[factdb.EID]bool{root.ID(): true}
	for i := 0; i < len(out); i++ {
		res, err := factdb.Q(childrenQuery, db, out[i].ID())
		if err != nil {
			return nil, err
		}
		for _, child := range res.([]factdb.Entity) {
			if seen[child.ID()] {
				continue
			}
			seen[child.ID()] = true
			out = append(out, child)
		}
	}
	return out, nil
}

// PageLinks caches the ids of pages referenced from a page.
func (e *Engine) PageLinks(ctx context.Context, repo string, page factdb.EID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithInputs(page)}, opts...)
	return e.Evaluate(ctx, repo, cache.PageToPages(page), pageLinksQuery, opts...)
}

// PageBacklinks caches the ids of pages whose blocks reference a page.
func (e *Engine) PageBacklinks(ctx context.Context, repo string, page factdb.EID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithInputs(page)}, opts...)
	return e.Evaluate(ctx, repo, cache.PageFromPages(page), pageBacklinksQuery, opts...)
}

// References caches the blocks referencing a page or block, including
// references to the aliases of a page.
func (e *Engine) References(ctx context.Context, repo string, id factdb.EID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithInputsFunc(func(db, _ *factdb.DB) ([]any, error) {
		return []any{aliasIDs(db, id)}, nil
	})}, opts...)
	return e.Evaluate(ctx, repo, cache.RefBlocks(id), refBlocksQuery, opts...)
}

func aliasIDs(db *factdb.DB, id factdb.EID) []any {
	ids := []any{id}
	for _, v := range db.Values(id, factdb.AttrAlias) {
		ids = append(ids, v)
	}
	return ids
}

// PageUnlinkedRefs caches the blocks mentioning a page name in their content
// without referencing the page.
func (e *Engine) PageUnlinkedRefs(ctx context.Context, repo string, page factdb.EID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithQueryFunc(func(_ context.Context, db *factdb.DB) (any, error) {
		return unlinkedRefs(db, page)
	})}, opts...)
	return e.Evaluate(ctx, repo, cache.PageUnlinkedRefs(page), contentQuery, opts...)
}

func unlinkedRefs(db *factdb.DB, page factdb.EID) ([]factdb.Entity, error) {
	out := []factdb.Entity{}
	p, ok := db.Entity(page)
	if !ok || !p.IsPage() {
		return out, nil
	}
	name := strings.ToLower(p.String(factdb.AttrName))

	res, err := factdb.Q(contentQuery, db)
	if err != nil {
		return nil, err
	}
	for _, b := range res.([]factdb.Entity) {
		if owner, ok := b.Ref(factdb.AttrPage); ok && owner == page {
			continue
		}
		if refersTo(b, page) {
			continue
		}
		if strings.Contains(strings.ToLower(b.String(factdb.AttrContent)), name) {
			out = append(out, b)
		}
	}
	return out, nil
}

func refersTo(b factdb.Entity, id factdb.EID) bool {
	for _, ref := range b.Refs(factdb.AttrRefs) {
		if ref == id {
			return true
		}
	}
	return false
}

// BlockRefIDs caches the ids of blocks referencing a block.
func (e *Engine) BlockRefIDs(ctx context.Context, repo string, id factdb.EID, opts ...EvalOption) (*cache.Cell, error) {
	opts = append([]EvalOption{WithInputs(id)}, opts...)
	return e.Evaluate(ctx, repo, cache.BlockRefIDs(id), blockRefIDsQuery, opts...)
}

// Entity caches a pulled entity addressed by id or lookup ref.
func (e *Engine) Entity(ctx context.Context, repo string, ref any, opts ...EvalOption) (*cache.Cell, error) {
	return e.Evaluate(ctx, repo, cache.EntityKey(ref), nil, opts...)
}

// Custom caches a caller defined query. Custom entries are re-evaluated on
// every transaction of their repository.
func (e *Engine) Custom(ctx context.Context, repo string, arg any, query *factdb.Query, opts ...EvalOption) (*cache.Cell, error) {
	return e.Evaluate(ctx, repo, cache.Custom(arg), query, opts...)
}
