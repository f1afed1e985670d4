package reactivecache

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

func TestRefresh_JournalsFollowCommits(t *testing.T) {
	conn := factdb.NewConn(factdb.DefaultSchema())
	e := newTestEngine(t)
	e.Attach(testRepo, conn)
	ctx := context.Background()

	cell, err := e.Journals(ctx, testRepo, WithSubscriber("journals-view"))
	require.NoError(t, err)
	assert.Empty(t, cell.Get())

	report, err := conn.Transact(ctx, []any{factdb.Entity{
		factdb.AttrName:       "oct 16th, 2026",
		factdb.AttrJournal:    true,
		factdb.AttrJournalDay: 20261016,
	}}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"oct 16th, 2026"}, pageNames(t, cell.Get()))
	assert.Equal(t, uint64(1), cell.Version())

	// the listener already refreshed, a second pass finds nothing to write
	res := e.Refresh(ctx, testRepo, report)
	assert.False(t, res.Skipped)
	assert.True(t, res.Affected.Has(cache.Journals()))
	assert.Equal(t, []cache.Key{cache.Journals().In(testRepo)}, res.Refreshed)
	assert.Empty(t, res.Changed)
}

func TestRefresh_Skips(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	cell, err := e.PageBlocks(ctx, testRepo, g.topic)
	require.NoError(t, err)

	report, err := g.conn.Transact(ctx,
		[]any{factdb.Add(g.b1, factdb.AttrContent, "quiet edit")},
		factdb.Metadata{factdb.MetaSkipRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cell.Version())

	tests := []struct {
		name   string
		repo   string
		report *factdb.TxReport
	}{
		{name: "skip-refresh metadata", repo: testRepo, report: report},
		{name: "nil report", repo: testRepo},
		{name: "empty batch", repo: testRepo, report: &factdb.TxReport{DBAfter: g.conn.DB()}},
		{name: "empty repo", repo: "", report: &factdb.TxReport{DBAfter: g.conn.DB(), Facts: report.Facts}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Refresh(ctx, tt.repo, tt.report)
			assert.True(t, res.Skipped)
			assert.Empty(t, res.Refreshed)
		})
	}
}

func TestRefresh_WritesOnlyChangedCells(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	constant, err := e.Custom(ctx, testRepo, "constant", nil,
		WithQueryFunc(func(context.Context, *factdb.DB) (any, error) {
			return []string{"x"}, nil
		}))
	require.NoError(t, err)
	blocks, err := e.PageBlocks(ctx, testRepo, g.topic)
	require.NoError(t, err)

	var writes int
	blocks.Watch(func(_, _ any) { writes++ })

	report, err := g.conn.Transact(ctx, []any{factdb.Add(g.b1, factdb.AttrContent, "edited")}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(0), constant.Version())
	assert.Equal(t, 1, writes)
	got := blocks.Get().([]factdb.Entity)
	require.Len(t, got, 2)
	assert.Equal(t, "edited", got[0].String(factdb.AttrContent))

	res := e.Refresh(ctx, testRepo, report)
	assert.Contains(t, res.Refreshed, cache.Custom("constant").In(testRepo))
	assert.Contains(t, res.Refreshed, cache.PageBlocks(g.topic).In(testRepo))
	assert.Empty(t, res.Changed)
	assert.Equal(t, 1, writes)
}

func TestRefresh_UnaffectedEntriesAreLeftAlone(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	journal, err := e.PageBlocks(ctx, testRepo, g.journal)
	require.NoError(t, err)

	report, err := g.conn.Transact(ctx, []any{factdb.Add(g.b1, factdb.AttrContent, "edited")}, nil)
	require.NoError(t, err)

	res := e.Refresh(ctx, testRepo, report)
	assert.False(t, res.Affected.Has(cache.PageBlocks(g.journal)))
	assert.NotContains(t, res.Refreshed, cache.PageBlocks(g.journal).In(testRepo))
	assert.Equal(t, uint64(0), journal.Version())
}

func TestRefresh_FailureIsIsolated(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	fail := false
	flaky, err := e.Custom(ctx, testRepo, "flaky", nil,
		WithQueryFunc(func(context.Context, *factdb.DB) (any, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return "ok", nil
		}))
	require.NoError(t, err)
	blocks, err := e.PageBlocks(ctx, testRepo, g.topic)
	require.NoError(t, err)

	fail = true
	report, err := g.conn.Transact(ctx, []any{factdb.Add(g.b1, factdb.AttrContent, "edited")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "ok", flaky.Get())
	assert.Equal(t, uint64(1), blocks.Version())

	res := e.Refresh(ctx, testRepo, report)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, cache.Custom("flaky").In(testRepo), res.Failed[0].Key)
	assert.True(t, errors.Is(res.Failed[0].Err, ErrEvaluation))
	assert.Equal(t, "ok", flaky.Get())
}

func TestRefresh_InputsFuncReceivesSnapshot(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	var snapshots []*factdb.DB
	cell, err := e.Evaluate(ctx, testRepo, cache.RefBlocks(g.topic), refBlocksQuery,
		WithInputsFunc(func(_, snapshot *factdb.DB) ([]any, error) {
			snapshots = append(snapshots, snapshot)
			return []any{[]any{g.topic}}, nil
		}))
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Nil(t, snapshots[0])

	_, err = g.conn.Transact(ctx, []any{factdb.Add(g.b4, factdb.AttrRefs, g.topic)}, nil)
	require.NoError(t, err)

	require.Len(t, snapshots, 2)
	snapshot := snapshots[1]
	require.NotNil(t, snapshot)
	_, ok := snapshot.Entity(g.b2)
	assert.True(t, ok, "seeded from the previous result")
	b4, ok := snapshot.Entity(g.b4)
	require.True(t, ok, "advanced with the batch")
	assert.Equal(t, []factdb.EID{g.topic}, b4.Refs(factdb.AttrRefs))

	got := cell.Get().([]factdb.Entity)
	require.Len(t, got, 2)
	assert.Equal(t, g.b2, got[0].ID())
	assert.Equal(t, g.b4, got[1].ID())
}

func TestRefresh_CurrentPage(t *testing.T) {
	var current factdb.EID
	e, g := attachedGraph(t, WithCurrentPage(func(string) (factdb.EID, bool) {
		return current, current > 0
	}))
	current = g.journal

	report, err := g.conn.Transact(context.Background(),
		[]any{factdb.Add(g.b1, factdb.AttrContent, "edited")}, nil)
	require.NoError(t, err)

	res := e.Refresh(context.Background(), testRepo, report)
	assert.True(t, res.Affected.Has(cache.PageToPages(g.journal)))
	assert.True(t, res.Affected.Has(cache.PageFromPages(g.journal)))
}

func TestKeyedValues(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	v, err := e.GetKeyedValue(ctx, testRepo, "favorites")
	require.NoError(t, err)
	assert.Nil(t, v)
	cell, ok := e.Lookup(cache.KV("favorites").In(testRepo))
	require.True(t, ok)

	require.NoError(t, e.SetKeyedValue(ctx, testRepo, "favorites", []int{1, 2, 3}))
	assert.Equal(t, []int{1, 2, 3}, cell.Get())

	v, err = e.GetKeyedValue(ctx, testRepo, "favorites")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, v)

	require.NoError(t, e.SetKeyedValue(ctx, testRepo, "favorites", nil))
	assert.Nil(t, cell.Get())
	_, ok = e.Lookup(cache.KV("favorites").In(testRepo))
	assert.False(t, ok)
	_, ok = g.conn.DB().Resolve(factdb.LookupRef{Attr: factdb.AttrIdent, Value: "favorites"})
	assert.False(t, ok)

	v, err = e.GetKeyedValue(ctx, testRepo, "favorites")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestKeyedValues_Errors(t *testing.T) {
	e, _ := attachedGraph(t)
	ctx := context.Background()

	err := e.SetKeyedValue(ctx, testRepo, "", "x")
	assert.True(t, errors.Is(err, cache.ErrInvalidKey))

	err = e.SetKeyedValue(ctx, "missing", "k", "x")
	assert.True(t, errors.Is(err, ErrUnknownRepo))

	// clearing an absent key is a no-op
	assert.NoError(t, e.SetKeyedValue(ctx, testRepo, "absent", nil))
}

func TestDetach(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	cell, err := e.PageBlocks(ctx, testRepo, g.topic, WithSubscriber("view"))
	require.NoError(t, err)
	assert.Equal(t, []string{testRepo}, e.Repos())

	e.Detach(ctx, testRepo)
	assert.Empty(t, e.Repos())
	assert.Empty(t, e.Keys(testRepo))

	_, err = g.conn.Transact(ctx, []any{factdb.Add(g.b1, factdb.AttrContent, "edited")}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cell.Version())
}

// Every cached canned query must equal a fresh evaluation after each commit.
func TestRefresh_MatchesDirectEvaluation(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()
	b5UUID := uuid.New()

	type canned struct {
		name string
		eval func(opts ...EvalOption) (*cache.Cell, error)
	}
	queries := []canned{
		{"journals", func(o ...EvalOption) (*cache.Cell, error) { return e.Journals(ctx, testRepo, o...) }},
		{"block b1", func(o ...EvalOption) (*cache.Cell, error) { return e.Block(ctx, testRepo, g.b1UUID, o...) }},
		{"block b3", func(o ...EvalOption) (*cache.Cell, error) { return e.Block(ctx, testRepo, g.b3UUID, o...) }},
		{"block refs count b1", func(o ...EvalOption) (*cache.Cell, error) { return e.BlockRefsCount(ctx, testRepo, g.b1, o...) }},
		{"page blocks topic", func(o ...EvalOption) (*cache.Cell, error) { return e.PageBlocks(ctx, testRepo, g.topic, o...) }},
		{"page blocks journal", func(o ...EvalOption) (*cache.Cell, error) { return e.PageBlocks(ctx, testRepo, g.journal, o...) }},
		{"block and children b1", func(o ...EvalOption) (*cache.Cell, error) { return e.BlockAndChildren(ctx, testRepo, g.b1UUID, o...) }},
		{"page links journal", func(o ...EvalOption) (*cache.Cell, error) { return e.PageLinks(ctx, testRepo, g.journal, o...) }},
		{"page backlinks topic", func(o ...EvalOption) (*cache.Cell, error) { return e.PageBacklinks(ctx, testRepo, g.topic, o...) }},
		{"references topic", func(o ...EvalOption) (*cache.Cell, error) { return e.References(ctx, testRepo, g.topic, o...) }},
		{"unlinked refs topic", func(o ...EvalOption) (*cache.Cell, error) { return e.PageUnlinkedRefs(ctx, testRepo, g.topic, o...) }},
		{"block ref ids b1", func(o ...EvalOption) (*cache.Cell, error) { return e.BlockRefIDs(ctx, testRepo, g.b1, o...) }},
		{"entity topic", func(o ...EvalOption) (*cache.Cell, error) { return e.Entity(ctx, testRepo, g.topic, o...) }},
		{"entity by name", func(o ...EvalOption) (*cache.Cell, error) {
			return e.Entity(ctx, testRepo, factdb.LookupRef{Attr: factdb.AttrName, Value: "topic"}, o...)
		}},
	}

	cells := make(map[string]*cache.Cell, len(queries))
	for _, q := range queries {
		cell, err := q.eval(WithSubscriber("view"))
		require.NoError(t, err, q.name)
		cells[q.name] = cell
	}

	txs := []struct {
		name string
		data []any
	}{
		{"add child block", []any{factdb.Entity{
			factdb.AttrUUID:    b5UUID,
			factdb.AttrPage:    g.topic,
			factdb.AttrParent:  g.b1,
			factdb.AttrContent: "topic again",
		}}},
		{"reference a block", []any{factdb.Add(g.b4, factdb.AttrRefs, g.b1)}},
		{"drop a page reference", []any{factdb.Retract(g.b2, factdb.AttrRefs, g.topic)}},
		{"edit content", []any{factdb.Add(g.b1, factdb.AttrContent, "first, edited")}},
		{"move block", []any{factdb.Add(g.b3, factdb.AttrPage, g.journal)}},
		{"add journal page", []any{factdb.Entity{
			factdb.AttrName:       "jan 2nd, 2024",
			factdb.AttrJournal:    true,
			factdb.AttrJournalDay: 20240102,
		}}},
		{"rename page", []any{factdb.Add(g.topic, factdb.AttrOriginalName, "Topic!")}},
		{"link page again", []any{factdb.Add(g.b3, factdb.AttrRefs, g.topic)}},
		{"edit unrelated block", []any{factdb.Add(g.b4, factdb.AttrContent, "more about Topic, edited")}},
		{"edit unrelated block again", []any{factdb.Add(g.b4, factdb.AttrContent, "less about topic")}},
		{"edit unrelated block a third time", []any{factdb.Add(g.b4, factdb.AttrContent, "nothing")}},
		{"edit content again", []any{factdb.Add(g.b1, factdb.AttrContent, "first, edited twice")}},
		{"delete block", []any{factdb.RetractEntity(g.b3)}},
	}

	for _, tx := range txs {
		_, err := g.conn.Transact(ctx, tx.data, nil)
		require.NoError(t, err, tx.name)

		for _, q := range queries {
			fresh, err := q.eval(NonReactive(), WithoutCache())
			require.NoError(t, err, q.name)
			if diff := cmp.Diff(fresh.Get(), cells[q.name].Get(), resultOptions...); diff != "" {
				t.Errorf("%s after %q (-fresh +cached):\n%s", q.name, tx.name, diff)
			}
		}
	}
}

func TestRefresh_RepeatedEditsWithAlwaysStaleEntries(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	tree, err := e.BlockAndChildren(ctx, testRepo, g.b1UUID)
	require.NoError(t, err)
	refs, err := e.References(ctx, testRepo, g.topic)
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		_, err := g.conn.Transact(ctx, []any{factdb.Add(g.b4, factdb.AttrContent, content)}, nil)
		require.NoError(t, err, content)
	}

	_, err = g.conn.Transact(ctx, []any{factdb.Add(g.b3, factdb.AttrContent, "child, edited")}, nil)
	require.NoError(t, err)

	var contents []string
	for _, b := range tree.Get().([]factdb.Entity) {
		contents = append(contents, b.String(factdb.AttrContent))
	}
	assert.Contains(t, contents, "child, edited")

	fresh, err := e.References(ctx, testRepo, g.topic, NonReactive(), WithoutCache())
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(fresh.Get(), refs.Get(), resultOptions...))
}

func TestRefresh_FailedSnapshotBuildKeepsPreviousSnapshot(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()
	key := cache.PageBlocks(g.topic).In(testRepo)

	cell, err := e.PageBlocks(ctx, testRepo, g.topic)
	require.NoError(t, err)
	before, ok := e.snapshots.Get(ctx, e.id(key))
	require.True(t, ok)

	// the live database moves on without notifying the engine
	_, err = g.conn.Transact(ctx, []any{factdb.Add(g.b1, factdb.AttrContent, "quiet edit")},
		factdb.Metadata{factdb.MetaSkipRefresh: true})
	require.NoError(t, err)

	// a page reference that is not an entity id cannot be applied to the snapshot
	res := e.Refresh(ctx, testRepo, &factdb.TxReport{
		DBAfter: g.conn.DB(),
		Facts:   []factdb.Fact{{E: g.b1, A: factdb.AttrPage, V: "not-an-id", Added: true}},
	})

	assert.Empty(t, res.Failed)
	assert.Contains(t, res.Refreshed, key)
	assert.Contains(t, res.Changed, key)

	got := cell.Get().([]factdb.Entity)
	require.Len(t, got, 2)
	assert.Equal(t, "quiet edit", got[0].String(factdb.AttrContent))

	after, ok := e.snapshots.Get(ctx, e.id(key))
	require.True(t, ok)
	assert.Same(t, before, after)
}

func TestRefresh_ReportWithoutDatabase(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	cell, err := e.PageBlocks(ctx, testRepo, g.topic)
	require.NoError(t, err)

	report, err := g.conn.Transact(ctx, []any{factdb.Add(g.b1, factdb.AttrContent, "edited")},
		factdb.Metadata{factdb.MetaSkipRefresh: true})
	require.NoError(t, err)

	res := e.Refresh(ctx, testRepo, &factdb.TxReport{Facts: report.Facts})
	assert.False(t, res.Skipped)
	assert.Equal(t, []cache.Key{cache.PageBlocks(g.topic).In(testRepo)}, res.Changed)
	assert.Equal(t, "edited", cell.Get().([]factdb.Entity)[0].String(factdb.AttrContent))

	res = e.Refresh(ctx, "missing", &factdb.TxReport{Facts: report.Facts})
	assert.True(t, res.Skipped)
}
