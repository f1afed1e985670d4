package factlog

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/goliatone/go-query-cache/factdb"
	"github.com/goliatone/go-query-cache/internal/logging"
)

// ListenerName is the connection listener name a journal records under.
const ListenerName = "fact-journal"

// OriginReplay marks transactions applied by Replay.
const OriginReplay = "journal-replay"

// Options configure a Journal.
type Options struct {
	Logger logging.Logger
}

// Journal records committed transactions to a Store and replays them into a
// fresh connection.
type Journal struct {
	store  Store
	logger logging.Logger
}

// NewJournal creates a journal over store.
func NewJournal(store Store, opts Options) *Journal {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Journal{store: store, logger: logger.With("component", "factlog")}
}

// Store returns the journal store.
func (j *Journal) Store() Store {
	return j.store
}

// Record returns a listener appending every committed transaction of repo.
// Replayed transactions are not recorded again. Listeners cannot fail a
// commit, so append errors are logged.
func (j *Journal) Record(repo string) factdb.Listener {
	return func(ctx context.Context, report *factdb.TxReport) {
		if replay, _ := report.Meta[factdb.MetaReplay].(bool); replay || len(report.Facts) == 0 {
			return
		}
		rec, err := NewRecord(repo, report)
		if err == nil {
			err = j.store.Append(ctx, rec)
		}
		if err != nil {
			j.logger.Error("journal append failed", "repo", repo, "tx", report.ID, "error", err)
			return
		}
		j.logger.Debug("journal append", "repo", repo, "seq", rec.Seq, "facts", len(report.Facts))
	}
}

// Attach records the transactions of conn under repo.
func (j *Journal) Attach(repo string, conn *factdb.Conn) {
	conn.Listen(ListenerName, j.Record(repo))
}

// Detach stops recording conn.
func (j *Journal) Detach(conn *factdb.Conn) {
	conn.Unlisten(ListenerName)
}

// Replay applies the stored transactions of repo to conn in order and returns
// how many were applied. Replayed transactions carry skip-refresh so cached
// queries are not refreshed for history.
func (j *Journal) Replay(ctx context.Context, repo string, conn *factdb.Conn) (int, error) {
	records, err := j.store.Load(ctx, repo)
	if err != nil {
		return 0, err
	}
	for i, rec := range records {
		facts, err := DecodeFacts(rec.Facts)
		if err != nil {
			return i, errors.Wrapf(err, "record %s/%d", repo, rec.Seq)
		}
		meta := factdb.Metadata{
			factdb.MetaSkipRefresh: true,
			factdb.MetaReplay:      true,
			factdb.MetaOrigin:      OriginReplay,
		}
		if _, err := conn.ApplyFacts(ctx, facts, meta); err != nil {
			return i, errors.Wrapf(err, "replay %s/%d", repo, rec.Seq)
		}
	}
	j.logger.Info("journal replayed", "repo", repo, "transactions", len(records))
	return len(records), nil
}
