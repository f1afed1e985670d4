package reactivecache

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

func TestEvaluate_InvalidKeyFailsBeforeRegistration(t *testing.T) {
	e, _ := attachedGraph(t)
	ctx := context.Background()

	key := cache.QueryKey{Kind: "pages"}
	cell, err := e.Evaluate(ctx, testRepo, key, pageBlocksQuery, WithSubscriber("view"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, cache.ErrInvalidKey))
	assert.Nil(t, cell)
	assert.Empty(t, e.Keys(testRepo))
	assert.Empty(t, e.Subscribers(key.In(testRepo)))
}

func TestEvaluate_UnknownRepo(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Journals(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRepo))
}

func TestEvaluate_CacheHitSkipsQuery(t *testing.T) {
	e, _ := attachedGraph(t)
	ctx := context.Background()

	calls := 0
	fn := func(context.Context, *factdb.DB) (any, error) {
		calls++
		return calls, nil
	}

	first, err := e.Custom(ctx, testRepo, "counter", nil, WithQueryFunc(fn))
	require.NoError(t, err)
	second, err := e.Custom(ctx, testRepo, "counter", journalsQuery, WithQueryFunc(fn))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, second.Get())
}

func TestEvaluate_NonReactiveIsNotRegistered(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	cell, err := e.PageBlocks(ctx, testRepo, g.topic, NonReactive())
	require.NoError(t, err)

	blocks, ok := cell.Get().([]factdb.Entity)
	require.True(t, ok)
	assert.Len(t, blocks, 2)
	_, cached := e.Lookup(cache.PageBlocks(g.topic).In(testRepo))
	assert.False(t, cached)
}

func TestEvaluate_WithoutCacheReusesCell(t *testing.T) {
	e, _ := attachedGraph(t)
	ctx := context.Background()

	value := "a"
	fn := func(context.Context, *factdb.DB) (any, error) { return value, nil }

	cell, err := e.Custom(ctx, testRepo, "v", nil, WithQueryFunc(fn))
	require.NoError(t, err)

	var seen []any
	cell.Watch(func(_, v any) { seen = append(seen, v) })

	value = "b"
	again, err := e.Custom(ctx, testRepo, "v", nil, WithQueryFunc(fn), WithoutCache())
	require.NoError(t, err)

	assert.Same(t, cell, again)
	assert.Equal(t, "b", cell.Get())
	assert.Equal(t, []any{"b"}, seen)
}

func TestEvaluate_EvaluationErrorIsMarked(t *testing.T) {
	e, _ := attachedGraph(t)

	_, err := e.Custom(context.Background(), testRepo, "broken", nil,
		WithQueryFunc(func(context.Context, *factdb.DB) (any, error) {
			return nil, errors.New("boom")
		}))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEvaluation))
	assert.Empty(t, e.Keys(testRepo))
}

func TestEvaluate_MissingQueryFails(t *testing.T) {
	e, _ := attachedGraph(t)

	_, err := e.Custom(context.Background(), testRepo, "nothing", nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEvaluation))
}

func TestEvaluate_CannedQueries(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()

	t.Run("block", func(t *testing.T) {
		cell, err := e.Block(ctx, testRepo, g.b1UUID)
		require.NoError(t, err)
		ent, ok := cell.Get().(factdb.Entity)
		require.True(t, ok)
		assert.Equal(t, "first", ent.String(factdb.AttrContent))
	})

	t.Run("caller inputs override defaults", func(t *testing.T) {
		cell, err := e.Block(ctx, testRepo, g.b1UUID, WithInputs(g.b4UUID), NonReactive())
		require.NoError(t, err)
		ent, ok := cell.Get().(factdb.Entity)
		require.True(t, ok)
		assert.Equal(t, g.b4, ent.ID())
	})

	t.Run("journals", func(t *testing.T) {
		cell, err := e.Journals(ctx, testRepo)
		require.NoError(t, err)
		assert.Equal(t, []string{"jan 1st, 2024"}, pageNames(t, cell.Get()))
	})

	t.Run("block and children", func(t *testing.T) {
		cell, err := e.BlockAndChildren(ctx, testRepo, g.b1UUID)
		require.NoError(t, err)
		blocks := cell.Get().([]factdb.Entity)
		require.Len(t, blocks, 2)
		assert.Equal(t, g.b1, blocks[0].ID())
		assert.Equal(t, g.b3, blocks[1].ID())
	})

	t.Run("page links", func(t *testing.T) {
		cell, err := e.PageLinks(ctx, testRepo, g.journal)
		require.NoError(t, err)
		assert.Equal(t, []factdb.EID{g.topic}, eids(t, cell.Get()))
	})

	t.Run("page backlinks", func(t *testing.T) {
		cell, err := e.PageBacklinks(ctx, testRepo, g.topic)
		require.NoError(t, err)
		assert.Equal(t, []factdb.EID{g.journal}, eids(t, cell.Get()))
	})

	t.Run("references", func(t *testing.T) {
		cell, err := e.References(ctx, testRepo, g.topic)
		require.NoError(t, err)
		blocks := cell.Get().([]factdb.Entity)
		require.Len(t, blocks, 1)
		assert.Equal(t, g.b2, blocks[0].ID())
	})

	t.Run("unlinked references", func(t *testing.T) {
		cell, err := e.PageUnlinkedRefs(ctx, testRepo, g.topic)
		require.NoError(t, err)
		blocks := cell.Get().([]factdb.Entity)
		require.Len(t, blocks, 1)
		assert.Equal(t, g.b4, blocks[0].ID())
	})

	t.Run("block refs count", func(t *testing.T) {
		cell, err := e.BlockRefsCount(ctx, testRepo, g.b1)
		require.NoError(t, err)
		assert.Equal(t, 0, cell.Get())
	})

	t.Run("entity by lookup", func(t *testing.T) {
		cell, err := e.Entity(ctx, testRepo, factdb.LookupRef{Attr: factdb.AttrName, Value: "topic"})
		require.NoError(t, err)
		ent := cell.Get().(factdb.Entity)
		assert.Equal(t, g.topic, ent.ID())
	})

	t.Run("missing entity is nil", func(t *testing.T) {
		cell, err := e.Entity(ctx, testRepo, factdb.EID(9999))
		require.NoError(t, err)
		assert.Nil(t, cell.Get())
	})
}

func TestUnsubscribe_EvictsWhenLastSubscriberLeaves(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()
	key := cache.PageBlocks(g.topic).In(testRepo)

	first, err := e.PageBlocks(ctx, testRepo, g.topic, WithSubscriber("a"))
	require.NoError(t, err)
	_, err = e.PageBlocks(ctx, testRepo, g.topic, WithSubscriber("b"))
	require.NoError(t, err)
	_, err = e.PageBlocks(ctx, testRepo, g.topic, WithSubscriber("b"))
	require.NoError(t, err)
	assert.Equal(t, []SubscriberID{"a", "b"}, e.Subscribers(key))

	assert.Empty(t, e.Unsubscribe(ctx, "a"))
	_, ok := e.Lookup(key)
	assert.True(t, ok)

	assert.Equal(t, []cache.Key{key}, e.Unsubscribe(ctx, "b"))
	_, ok = e.Lookup(key)
	assert.False(t, ok)
	assert.Empty(t, e.Subscribers(key))

	again, err := e.PageBlocks(ctx, testRepo, g.topic)
	require.NoError(t, err)
	assert.NotSame(t, first, again)
}

func TestUnsubscribe_UnknownSubscriber(t *testing.T) {
	e, _ := attachedGraph(t)
	assert.Empty(t, e.Unsubscribe(context.Background(), "nobody"))
}

func TestEvaluate_CustomPayloadTypesAreDistinctKeys(t *testing.T) {
	e, _ := attachedGraph(t)
	ctx := context.Background()

	constant := func(v any) QueryFunc {
		return func(context.Context, *factdb.DB) (any, error) { return v, nil }
	}

	byInt, err := e.Custom(ctx, testRepo, 1, nil, WithQueryFunc(constant("int payload")))
	require.NoError(t, err)
	byString, err := e.Custom(ctx, testRepo, "1", nil, WithQueryFunc(constant("string payload")))
	require.NoError(t, err)

	assert.NotSame(t, byInt, byString)
	assert.Equal(t, "int payload", byInt.Get())
	assert.Equal(t, "string payload", byString.Get())
	assert.Len(t, e.Keys(testRepo), 2)
}

func TestEvaluate_FailedMissLeavesNoSubscription(t *testing.T) {
	e, _ := attachedGraph(t)
	ctx := context.Background()
	key := cache.Custom("broken").In(testRepo)

	_, err := e.Custom(ctx, testRepo, "broken", nil, WithSubscriber("view"),
		WithQueryFunc(func(context.Context, *factdb.DB) (any, error) {
			return nil, errors.New("boom")
		}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEvaluation))

	_, ok := e.Lookup(key)
	assert.False(t, ok)
	assert.Empty(t, e.Subscribers(key))
}

func TestEvaluate_SubscribesOnHitAndAfterRegistration(t *testing.T) {
	e, g := attachedGraph(t)
	ctx := context.Background()
	key := cache.PageBlocks(g.topic).In(testRepo)

	_, err := e.PageBlocks(ctx, testRepo, g.topic, NonReactive(), WithSubscriber("once"))
	require.NoError(t, err)
	assert.Empty(t, e.Subscribers(key), "one-shot reads are not attributed")

	_, err = e.PageBlocks(ctx, testRepo, g.topic, WithSubscriber("a"))
	require.NoError(t, err)
	_, err = e.PageBlocks(ctx, testRepo, g.topic, WithSubscriber("b"))
	require.NoError(t, err)
	assert.Equal(t, []SubscriberID{"a", "b"}, e.Subscribers(key))
}
