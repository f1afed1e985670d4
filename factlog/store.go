package factlog

import (
	"context"
	"database/sql"
	"sort"

	"github.com/cockroachdb/errors"
	repository "github.com/goliatone/go-repository-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Store persists transaction records.
type Store interface {
	// Append assigns the next sequence number of the record's repository and
	// stores it.
	Append(ctx context.Context, rec *TxRecord) error
	// Load returns the records of repo in sequence order.
	Load(ctx context.Context, repo string) ([]*TxRecord, error)
}

// OpenSQLite opens a bun database over a SQLite file. Use ":memory:" for a
// private in-memory database.
func OpenSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", dsn)
	}
	// an in-memory database lives as long as its single connection
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, errors.Wrapf(err, "ping sqlite %s", dsn)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// BunStore keeps records in a SQL table through bun.
type BunStore struct {
	db *bun.DB
}

var _ Store = (*BunStore)(nil)

// NewBunStore creates the log table when missing.
func NewBunStore(ctx context.Context, db *bun.DB) (*BunStore, error) {
	if _, err := db.NewCreateTable().
		Model((*TxRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "create tx_log table")
	}
	if _, err := db.NewCreateIndex().
		Model((*TxRecord)(nil)).
		Index("tx_log_repo_seq_idx").
		Unique().
		IfNotExists().
		Column("repo", "seq").
		Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "create tx_log index")
	}
	return &BunStore{db: db}, nil
}

// DB returns the underlying database.
func (s *BunStore) DB() *bun.DB {
	return s.db
}

func (s *BunStore) Append(ctx context.Context, rec *TxRecord) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var last int64
		if err := tx.NewSelect().
			Model((*TxRecord)(nil)).
			ColumnExpr("COALESCE(MAX(seq), 0)").
			Where("repo = ?", rec.Repo).
			Scan(ctx, &last); err != nil {
			return errors.Wrap(err, "read last sequence")
		}
		rec.Seq = last + 1
		if _, err := tx.NewInsert().Model(rec).Exec(ctx); err != nil {
			return errors.Wrapf(err, "append %s/%d", rec.Repo, rec.Seq)
		}
		return nil
	})
}

func (s *BunStore) Load(ctx context.Context, repo string) ([]*TxRecord, error) {
	var out []*TxRecord
	if err := s.db.NewSelect().
		Model(&out).
		Where("repo = ?", repo).
		Order("seq ASC").
		Scan(ctx); err != nil {
		return nil, errors.Wrapf(err, "load %s", repo)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *BunStore) Close() error {
	return s.db.Close()
}

// RepositoryStore keeps records through a generic repository.
type RepositoryStore struct {
	repo repository.Repository[*TxRecord]
}

var _ Store = (*RepositoryStore)(nil)

// NewRepositoryStore wraps repo.
func NewRepositoryStore(repo repository.Repository[*TxRecord]) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

func byRepo(repo string) repository.SelectCriteria {
	return func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.repo = ?", repo)
	}
}

func bySeq(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("seq ASC")
}

func (s *RepositoryStore) Append(ctx context.Context, rec *TxRecord) error {
	existing, err := s.Load(ctx, rec.Repo)
	if err != nil {
		return err
	}
	rec.Seq = 1
	if n := len(existing); n > 0 {
		rec.Seq = existing[n-1].Seq + 1
	}
	if _, err := s.repo.Create(ctx, rec); err != nil {
		return errors.Wrapf(err, "append %s/%d", rec.Repo, rec.Seq)
	}
	return nil
}

func (s *RepositoryStore) Load(ctx context.Context, repo string) ([]*TxRecord, error) {
	records, _, err := s.repo.List(ctx, byRepo(repo), bySeq)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", repo)
	}
	// criteria are applied by the repository; keep only repo's records in
	// order for implementations that ignore them
	out := make([]*TxRecord, 0, len(records))
	for _, r := range records {
		if r.Repo == repo {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
