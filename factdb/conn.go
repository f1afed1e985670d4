package factdb

import (
	"context"
	"sync"
)

// Listener is called synchronously after every committed transaction.
type Listener func(ctx context.Context, report *TxReport)

type namedListener struct {
	name string
	fn   Listener
}

// Conn holds the current database value of a repository and notifies
// listeners, in registration order, after each commit.
type Conn struct {
	mu        sync.Mutex
	db        *DB
	listeners []namedListener
}

// NewConn creates a connection to an empty database.
func NewConn(schema Schema) *Conn {
	return &Conn{db: Empty(schema)}
}

// NewConnFromDB creates a connection holding db.
func NewConnFromDB(db *DB) *Conn {
	return &Conn{db: db}
}

// DB returns the current database value.
func (c *Conn) DB() *DB {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

// Reset replaces the current database value without notifying listeners.
func (c *Conn) Reset(db *DB) {
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
}

// Listen registers fn under name, replacing a listener with the same name.
func (c *Conn) Listen(name string, fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.name == name {
			c.listeners[i].fn = fn
			return
		}
	}
	c.listeners = append(c.listeners, namedListener{name: name, fn: fn})
}

// Unlisten removes the listener registered under name.
func (c *Conn) Unlisten(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.name == name {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// Transact commits transaction data and notifies listeners.
func (c *Conn) Transact(ctx context.Context, txData []any, meta Metadata) (*TxReport, error) {
	return c.commit(ctx, func(db *DB) (*TxReport, error) {
		return db.Transact(txData, meta)
	})
}

// ApplyFacts commits resolved facts and notifies listeners.
func (c *Conn) ApplyFacts(ctx context.Context, facts []Fact, meta Metadata) (*TxReport, error) {
	return c.commit(ctx, func(db *DB) (*TxReport, error) {
		return db.ApplyFacts(facts, meta)
	})
}

func (c *Conn) commit(ctx context.Context, fn func(*DB) (*TxReport, error)) (*TxReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	report, err := fn(c.db)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.db = report.DBAfter
	listeners := make([]namedListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(ctx, report)
	}
	return report, nil
}
