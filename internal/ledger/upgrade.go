package ledger

import (
	"database/sql"

	revderrors "github.com/iamNilotpal/revd/pkg/errors"
)

// Upgrade migrates a ledger's schema forward from user_version 0 to
// SchemaVersion, per spec §4.7: rename segments to new_segments,
// recreate segments with an autoincrement id, copy rows across, drop
// the renamed table, recreate the start_ts index, and set
// user_version. This runs even against a freshly created ledger
// (version 0 with an empty segments table) so the migration path is
// exercised whenever an older build's file is opened.
func Upgrade(db *sql.DB) error {
	row := db.QueryRow("PRAGMA user_version;")
	var version int
	if err := row.Scan(&version); err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to read ledger schema version")
	}
	if version >= SchemaVersion {
		return nil
	}

	stmts := []string{
		"ALTER TABLE segments RENAME TO new_segments;",
		"CREATE TABLE segments(id INTEGER PRIMARY KEY AUTOINCREMENT, start_ts INTEGER, end_ts INTEGER);",
		"INSERT INTO segments(id, start_ts, end_ts) SELECT id, start_ts, end_ts FROM new_segments;",
		"DROP TABLE new_segments;",
		"CREATE INDEX IF NOT EXISTS segments_start_ts_idx ON segments(start_ts);",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "ledger schema migration failed").
				WithDetail("statement", stmt)
		}
	}

	if _, err := db.Exec("PRAGMA user_version = 1;"); err != nil {
		return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, "failed to set ledger schema version")
	}
	return nil
}
