// Package ledger implements the segment ledger: a small SQLite side
// store recording contiguous recorded time ranges, kept transactionally
// consistent with deletions and splits in the block index (spec §3,
// §4.6). Connection handling — WAL mode, busy timeout, and open
// retries with backoff — is grounded on the original r_sqlite_conn
// implementation, which opens a fresh connection local to every
// method rather than holding one open across calls; this package
// follows the same pattern so a writer's transaction never serializes
// a reader's query behind it (spec's "the ledger connection is
// independent and short-lived per mutating operation").
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	revderrors "github.com/iamNilotpal/revd/pkg/errors"
	"github.com/iamNilotpal/revd/pkg/options"
)

// SchemaVersion is the user_version this package reads and writes.
const SchemaVersion = 1

// Segment is one ledger row: a contiguous recorded time interval.
// EndTs == 0 denotes the live/open segment.
type Segment struct {
	ID      int64
	StartTs int64
	EndTs   int64
}

// Ledger identifies the `.sdb` file and the connection parameters
// used to open it; it holds no connection of its own. Every
// operation opens its own short-lived *sql.DB via withConn and closes
// it before returning, so a writer's in-flight transaction never
// blocks a concurrent reader behind one shared connection.
type Ledger struct {
	path string
	opts *options.Options
	log  *zap.SugaredLogger
}

// Open verifies the `.sdb` ledger at path can be reached and its
// schema is current, creating the file and table on first use. It
// does not keep the connection it opens for this check; every
// subsequent operation opens its own.
func Open(path string, opts *options.Options, log *zap.SugaredLogger) (*Ledger, error) {
	l := &Ledger{path: path, opts: opts, log: log}

	db, err := l.openConn()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := l.ensureSchema(db); err != nil {
		return nil, err
	}
	return l, nil
}

// openConn opens a fresh connection to the ledger file, enabling WAL
// journal mode and the configured busy timeout, retrying the open
// itself with exponential-ish backoff on any open or ping failure —
// mirroring r_sqlite_conn's constructor retry loop.
// Callers must close the returned *sql.DB.
func (l *Ledger) openConn() (*sql.DB, error) {
	lopts := l.opts.LedgerOptions
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", l.path, lopts.BusyTimeout.Milliseconds())

	var db *sql.DB
	var err error
	for attempt := 1; attempt <= lopts.OpenRetries; attempt++ {
		db, err = sql.Open("sqlite3", dsn)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			break
		}

		l.log.Warnw("ledger open attempt failed, retrying", "path", l.path, "attempt", attempt, "error", err)
		if db != nil {
			db.Close()
		}
		time.Sleep(lopts.RetryBaseSleep * time.Duration(attempt))
	}
	if err != nil {
		return nil, revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to open segment ledger after retries").
			WithPath(l.path).
			WithDetail("retries", lopts.OpenRetries)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to enable WAL mode").WithPath(l.path)
	}
	return db, nil
}

// withConn opens a connection, runs fn against it, and closes it
// before returning — the per-call connection lifetime spec §4.7
// requires so a writer never holds a lock across operations.
func (l *Ledger) withConn(fn func(db *sql.DB) error) error {
	db, err := l.openConn()
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

// Close is a no-op: Ledger holds no connection between calls. It
// exists so callers that manage a Ledger's lifetime alongside a
// writer and reader have one symmetric shutdown step to call.
func (l *Ledger) Close() error {
	return nil
}

func (l *Ledger) ensureSchema(db *sql.DB) error {
	row := db.QueryRow("PRAGMA user_version;")
	var version int
	if err := row.Scan(&version); err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to read ledger schema version")
	}

	if version == 0 {
		if _, err := db.Exec(`
			CREATE TABLE IF NOT EXISTS segments(
				id INTEGER PRIMARY KEY,
				start_ts INTEGER,
				end_ts INTEGER
			);
			CREATE INDEX IF NOT EXISTS segments_start_ts_idx ON segments(start_ts);
		`); err != nil {
			return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to create segments schema")
		}

		if err := Upgrade(db); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and
// rolling back on any error or panic — the Go analogue of the
// original's r_sqlite_transaction<T> catch-rollback-rethrow template.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to begin ledger transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err = tx.Commit(); err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to commit ledger transaction")
	}
	return nil
}
