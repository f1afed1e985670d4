package di

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	repository "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/factdb"
	"github.com/goliatone/go-query-cache/factlog"
	"github.com/goliatone/go-query-cache/internal/logging"
	"github.com/goliatone/go-query-cache/reactivecache"
)

// Option customizes a Container.
type Option func(*options)

type options struct {
	logger    logging.Logger
	store     factlog.Store
	preserved []cache.Kind
	engine    []reactivecache.Option
}

// WithLogger sets the logger shared by the engine and the journal.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithJournalStore records every transaction of opened repositories to store
// and replays it when a repository is opened again.
func WithJournalStore(store factlog.Store) Option {
	return func(o *options) { o.store = store }
}

// WithJournalRepository journals through a generic repository of records.
func WithJournalRepository(repo repository.Repository[*factlog.TxRecord]) Option {
	return func(o *options) { o.store = factlog.NewRepositoryStore(repo) }
}

// WithPreservedKinds replaces the kinds the engine keeps on ClearPreserving.
func WithPreservedKinds(kinds ...cache.Kind) Option {
	return func(o *options) { o.preserved = kinds }
}

// WithEngineOptions passes extra options to the engine.
func WithEngineOptions(opts ...reactivecache.Option) Option {
	return func(o *options) { o.engine = append(o.engine, opts...) }
}

// Container provides dependency injection for the query cache components.
// It owns the snapshot store, the key serializer and the engine built over
// them, plus the optional transaction journal.
type Container struct {
	snapshots     cache.SnapshotStore
	keySerializer cache.KeySerializer
	config        cache.Config
	logger        logging.Logger
	engine        *reactivecache.Engine
	journal       *factlog.Journal

	mu    sync.Mutex
	conns map[string]*factdb.Conn
}

// NewContainer creates a new DI container with the provided snapshot store
// configuration.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	o := &options{logger: logging.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	snapshots, err := cache.NewSnapshotStore(config)
	if err != nil {
		return nil, err
	}
	keySerializer := cache.NewDefaultKeySerializer()

	engineOpts := []reactivecache.Option{
		reactivecache.WithSnapshotStore(snapshots),
		reactivecache.WithKeySerializer(keySerializer),
		reactivecache.WithLogger(o.logger),
	}
	if o.preserved != nil {
		engineOpts = append(engineOpts, reactivecache.WithPreservedKinds(o.preserved...))
	}
	engine, err := reactivecache.New(append(engineOpts, o.engine...)...)
	if err != nil {
		return nil, err
	}

	c := &Container{
		snapshots:     snapshots,
		keySerializer: keySerializer,
		config:        config,
		logger:        o.logger,
		engine:        engine,
		conns:         map[string]*factdb.Conn{},
	}
	if o.store != nil {
		c.journal = factlog.NewJournal(o.store, factlog.Options{Logger: o.logger})
	}
	return c, nil
}

// NewContainerWithDefaults creates a new DI container using the default
// snapshot store configuration.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// Engine returns the query engine.
func (c *Container) Engine() *reactivecache.Engine {
	return c.engine
}

// SnapshotStore returns the singleton snapshot store instance.
func (c *Container) SnapshotStore() cache.SnapshotStore {
	return c.snapshots
}

// KeySerializer returns the singleton key serializer instance.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns a copy of the snapshot store configuration.
func (c *Container) Config() cache.Config {
	return c.config
}

// Journal returns the transaction journal, nil when none is configured.
func (c *Container) Journal() *factlog.Journal {
	return c.journal
}

// OpenRepo returns the connection of repository name, creating it on first
// use. A new connection replays the journal, then records further commits
// and is attached to the engine.
func (c *Container) OpenRepo(ctx context.Context, name string, schema factdb.Schema) (*factdb.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[name]; ok {
		return conn, nil
	}

	conn := factdb.NewConn(schema)
	if c.journal != nil {
		n, err := c.journal.Replay(ctx, name, conn)
		if err != nil {
			return nil, errors.Wrapf(err, "open repo %q", name)
		}
		c.journal.Attach(name, conn)
		c.logger.Debug("repo opened", "repo", name, "replayed", n)
	}
	c.engine.Attach(name, conn)
	c.conns[name] = conn
	return conn, nil
}

// CloseRepo detaches repository name and forgets its connection.
func (c *Container) CloseRepo(ctx context.Context, name string) {
	c.mu.Lock()
	conn, ok := c.conns[name]
	delete(c.conns, name)
	c.mu.Unlock()
	if !ok {
		return
	}
	if c.journal != nil {
		c.journal.Detach(conn)
	}
	c.engine.Detach(ctx, name)
}

// Close detaches every repository and clears the snapshot store.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	names := make([]string, 0, len(c.conns))
	for name := range c.conns {
		names = append(names, name)
	}
	c.mu.Unlock()
	for _, name := range names {
		c.CloseRepo(ctx, name)
	}
	return c.snapshots.Clear(ctx)
}
