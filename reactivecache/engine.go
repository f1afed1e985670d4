package reactivecache

import (
	"context"
	"log/slog"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
	"github.com/goliatone/go-query-cache/internal/logging"
)

var (
	// ErrUnknownRepo is returned when a repository was never attached.
	ErrUnknownRepo = errors.New("unknown repository")
	// ErrEvaluation wraps failures of the query evaluator or of custom
	// query and input functions.
	ErrEvaluation = errors.New("query evaluation failed")
	// ErrSnapshot wraps incremental snapshot build failures.
	ErrSnapshot = errors.New("snapshot build failed")
)

// ListenerName is the name under which Attach registers its commit listener.
const ListenerName = "query-cache"

// DefaultPreservedKinds are the kinds kept by ClearPreserving: reference
// views that are expensive to rebuild after a partial reset.
var DefaultPreservedKinds = cache.NewKindSet(
	cache.KindBlockRefsCount,
	cache.KindRefBlocks,
	cache.KindPageFromPages,
	cache.KindPageUnlinkedRefs,
	cache.KindBlockRefIDs,
)

// PageResolver returns the page currently viewed in a repository.
type PageResolver func(repo string) (factdb.EID, bool)

// Engine owns the cache and subscriber registries of one process and keeps
// cached query results current as transactions commit.
type Engine struct {
	repos       *xsync.MapOf[string, *factdb.Conn]
	entries     *xsync.MapOf[string, *Entry]
	subscribers *xsync.MapOf[string, subscriberSet]

	snapshots   cache.SnapshotStore
	serializer  cache.KeySerializer
	logger      logging.Logger
	preserved   cache.KindSet
	currentPage PageResolver
}

// Option configures an Engine.
type Option func(*Engine)

// WithSnapshotStore sets the store holding incremental snapshots.
func WithSnapshotStore(store cache.SnapshotStore) Option {
	return func(e *Engine) { e.snapshots = store }
}

// WithKeySerializer sets the serializer defining key identity.
func WithKeySerializer(s cache.KeySerializer) Option {
	return func(e *Engine) { e.serializer = s }
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSlog sets the engine logger from a *slog.Logger.
func WithSlog(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = logging.NewSlogAdapter(l) }
}

// WithPreservedKinds replaces the kinds kept by ClearPreserving.
func WithPreservedKinds(kinds ...cache.Kind) Option {
	return func(e *Engine) { e.preserved = cache.NewKindSet(kinds...) }
}

// WithCurrentPage sets the resolver of the currently viewed page.
func WithCurrentPage(fn PageResolver) Option {
	return func(e *Engine) { e.currentPage = fn }
}

// New creates an engine. Without a snapshot store option the default
// sturdyc store is created from cache.DefaultConfig.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		repos:       xsync.NewMapOf[string, *factdb.Conn](),
		entries:     xsync.NewMapOf[string, *Entry](),
		subscribers: xsync.NewMapOf[string, subscriberSet](),
		serializer:  cache.NewDefaultKeySerializer(),
		logger:      logging.Nop(),
		preserved:   DefaultPreservedKinds,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.snapshots == nil {
		store, err := cache.NewSnapshotStore(cache.DefaultConfig())
		if err != nil {
			return nil, errors.Wrap(err, "create snapshot store")
		}
		e.snapshots = store
	}
	return e, nil
}

// Attach registers conn as repository repo and refreshes the cache after
// each of its commits.
func (e *Engine) Attach(repo string, conn *factdb.Conn) {
	e.repos.Store(repo, conn)
	conn.Listen(ListenerName, func(ctx context.Context, report *factdb.TxReport) {
		e.Refresh(ctx, repo, report)
	})
}

// Detach stops refreshing repo and drops its cache entries.
func (e *Engine) Detach(ctx context.Context, repo string) {
	conn, ok := e.repos.LoadAndDelete(repo)
	if !ok {
		return
	}
	conn.Unlisten(ListenerName)
	e.ClearRepo(ctx, repo)
}

// Conn returns the connection attached as repo.
func (e *Engine) Conn(repo string) (*factdb.Conn, error) {
	conn, ok := e.repos.Load(repo)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRepo, "%q", repo)
	}
	return conn, nil
}

// Repos returns the attached repository names in order.
func (e *Engine) Repos() []string {
	var out []string
	e.repos.Range(func(name string, _ *factdb.Conn) bool {
		out = append(out, name)
		return true
	})
	sort.Strings(out)
	return out
}

func (e *Engine) id(key cache.Key) string {
	return e.serializer.SerializeKey(key)
}
