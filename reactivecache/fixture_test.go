package reactivecache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
)

const testRepo = "r"

// testGraph is a small block graph:
//
//	topic    b1 "first"            <- b3 "child" (parent b1)
//	journal  b2 "see [[topic]]" refs topic
//	         b4 "more about Topic"
type testGraph struct {
	conn *factdb.Conn

	topic, journal factdb.EID
	b1, b2, b3, b4 factdb.EID

	b1UUID, b2UUID, b3UUID, b4UUID uuid.UUID
}

func seedGraph(t *testing.T) *testGraph {
	t.Helper()

	g := &testGraph{
		conn:   factdb.NewConn(factdb.DefaultSchema()),
		b1UUID: uuid.New(),
		b2UUID: uuid.New(),
		b3UUID: uuid.New(),
		b4UUID: uuid.New(),
	}
	report, err := g.conn.Transact(context.Background(), []any{
		factdb.Entity{
			factdb.AttrID:           factdb.TempID("topic"),
			factdb.AttrName:         "topic",
			factdb.AttrOriginalName: "Topic",
		},
		factdb.Entity{
			factdb.AttrID:         factdb.TempID("journal"),
			factdb.AttrName:       "jan 1st, 2024",
			factdb.AttrJournal:    true,
			factdb.AttrJournalDay: 20240101,
		},
		factdb.Entity{
			factdb.AttrID:      factdb.TempID("b1"),
			factdb.AttrUUID:    g.b1UUID,
			factdb.AttrPage:    factdb.TempID("topic"),
			factdb.AttrContent: "first",
		},
		factdb.Entity{
			factdb.AttrID:      factdb.TempID("b2"),
			factdb.AttrUUID:    g.b2UUID,
			factdb.AttrPage:    factdb.TempID("journal"),
			factdb.AttrContent: "see [[topic]]",
			factdb.AttrRefs:    []any{factdb.TempID("topic")},
		},
		factdb.Entity{
			factdb.AttrID:      factdb.TempID("b3"),
			factdb.AttrUUID:    g.b3UUID,
			factdb.AttrPage:    factdb.TempID("topic"),
			factdb.AttrParent:  factdb.TempID("b1"),
			factdb.AttrContent: "child",
		},
		factdb.Entity{
			factdb.AttrID:      factdb.TempID("b4"),
			factdb.AttrUUID:    g.b4UUID,
			factdb.AttrPage:    factdb.TempID("journal"),
			factdb.AttrContent: "more about Topic",
		},
	}, nil)
	require.NoError(t, err)

	g.topic = report.TempIDs["topic"]
	g.journal = report.TempIDs["journal"]
	g.b1 = report.TempIDs["b1"]
	g.b2 = report.TempIDs["b2"]
	g.b3 = report.TempIDs["b3"]
	g.b4 = report.TempIDs["b4"]
	return g
}

func newTestStore(t *testing.T) cache.SnapshotStore {
	t.Helper()
	store, err := cache.NewSnapshotStore(cache.Config{
		Capacity:           1000,
		NumShards:          4,
		TTL:                time.Hour,
		EvictionPercentage: 10,
	})
	require.NoError(t, err)
	return store
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSnapshotStore(newTestStore(t))}, opts...)
	e, err := New(opts...)
	require.NoError(t, err)
	return e
}

// attachedGraph returns an engine with a seeded graph attached as testRepo.
func attachedGraph(t *testing.T, opts ...Option) (*Engine, *testGraph) {
	t.Helper()
	g := seedGraph(t)
	e := newTestEngine(t, opts...)
	e.Attach(testRepo, g.conn)
	return e, g
}

func pageNames(t *testing.T, v any) []string {
	t.Helper()
	pages, ok := v.([]factdb.Entity)
	require.True(t, ok, "expected []factdb.Entity, got %T", v)
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.String(factdb.AttrName)
	}
	return out
}

func eids(t *testing.T, v any) []factdb.EID {
	t.Helper()
	list, ok := v.([]any)
	require.True(t, ok, "expected []any, got %T", v)
	out := make([]factdb.EID, 0, len(list))
	for _, x := range list {
		switch id := x.(type) {
		case factdb.EID:
			out = append(out, id)
		case int64:
			out = append(out, factdb.EID(id))
		default:
			t.Fatalf("unexpected id %v (%T)", x, x)
		}
	}
	return out
}
