package ledger

import (
	"context"
	"database/sql"

	revderrors "github.com/iamNilotpal/revd/pkg/errors"
)

func newStorageIoError(err error, msg string) error {
	return revderrors.NewStorageError(err, revderrors.ErrorCodeIO, msg)
}

// OpenSegment inserts a new live segment row (end_ts = 0) and returns
// its id, on the very first frame after open (spec §4.4 step 1, §4.6).
func (l *Ledger) OpenSegment(ctx context.Context, startTs int64) (int64, error) {
	var id int64
	err := l.withConn(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "INSERT INTO segments(start_ts, end_ts) VALUES (?, 0)", startTs)
		if err != nil {
			return wrapIoErr(err, "failed to open ledger segment")
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// CloseSegment sets end_ts = lastTs on the given row, per finalize
// (spec §4.4).
func (l *Ledger) CloseSegment(ctx context.Context, id, lastTs int64) error {
	return l.withConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "UPDATE segments SET end_ts = ? WHERE id = ?", lastTs, id)
		if err != nil {
			return wrapIoErr(err, "failed to close ledger segment")
		}
		return nil
	})
}

// FixLiveSegment runs the open-time recovery step: any row still open
// (end_ts = 0) is closed at the file's observed last_ts. If the file
// is empty (lastTsPresent is false) this is a no-op.
func (l *Ledger) FixLiveSegment(ctx context.Context, lastTs int64, lastTsPresent bool) error {
	if !lastTsPresent {
		return nil
	}
	return l.withConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "UPDATE segments SET end_ts = ? WHERE end_ts = 0", lastTs)
		if err != nil {
			return wrapIoErr(err, "failed to fix live segment on open")
		}
		return nil
	})
}

// PruneReclaimedPast deletes ledger rows that are closed and whose
// start_ts is before the file's current first_ts — segments whose
// beginning the ring has already overwritten (spec §4.4 step 7). A
// closed row that starts before firstTs is deleted even when its
// end_ts lies after firstTs.
func (l *Ledger) PruneReclaimedPast(ctx context.Context, firstTs int64) error {
	return l.withConn(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM segments WHERE end_ts != 0 AND start_ts < ?", firstTs)
		if err != nil {
			return wrapIoErr(err, "failed to prune reclaimed-past segments")
		}
		return nil
	})
}

// QuerySegments implements spec §4.5's query_segments: rows that
// overlap [startTs, endTs), clipped to that range. A live row
// (end_ts = 0) is treated as extending through endTs for the overlap
// test and is clipped to endTs in the returned value.
func (l *Ledger) QuerySegments(ctx context.Context, startTs, endTs int64) ([]Segment, error) {
	var out []Segment
	err := l.withConn(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT id, start_ts, end_ts FROM segments
			 WHERE (end_ts >= ? OR end_ts = 0) AND start_ts < ?
			 ORDER BY start_ts`,
			startTs, endTs,
		)
		if err != nil {
			return wrapIoErr(err, "failed to query segments")
		}
		defer rows.Close()

		for rows.Next() {
			var s Segment
			if err := rows.Scan(&s.ID, &s.StartTs, &s.EndTs); err != nil {
				return wrapIoErr(err, "failed to scan segment row")
			}

			clippedEnd := s.EndTs
			if clippedEnd == 0 || clippedEnd > endTs {
				clippedEnd = endTs
			}
			clippedStart := s.StartTs
			if clippedStart < startTs {
				clippedStart = startTs
			}

			out = append(out, Segment{ID: s.ID, StartTs: clippedStart, EndTs: clippedEnd})
		}
		return rows.Err()
	})
	return out, err
}

// RemoveBlocks applies the ledger-side half of spec §4.6's deletion
// algorithm (steps 5-7) inside one transaction: split the single
// covering row if exactly one exists, otherwise truncate/delete every
// row touching [effStart, effEnd).
func (l *Ledger) RemoveBlocks(ctx context.Context, effStart, effEnd int64) error {
	return l.withConn(func(db *sql.DB) error {
		return WithTx(ctx, db, func(tx *sql.Tx) error {
			rows, err := tx.QueryContext(ctx,
				"SELECT id, start_ts, end_ts FROM segments WHERE start_ts < ? AND end_ts > ?",
				effStart, effEnd,
			)
			if err != nil {
				return wrapIoErr(err, "failed to locate splitting segment")
			}
			var coveringRows []Segment
			for rows.Next() {
				var s Segment
				if err := rows.Scan(&s.ID, &s.StartTs, &s.EndTs); err != nil {
					rows.Close()
					return wrapIoErr(err, "failed to scan candidate segment")
				}
				coveringRows = append(coveringRows, s)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return wrapIoErr(err, "failed to walk candidate segments")
			}

			if len(coveringRows) == 1 {
				row := coveringRows[0]
				if _, err := tx.ExecContext(ctx, "UPDATE segments SET end_ts = ? WHERE id = ?", effStart, row.ID); err != nil {
					return wrapIoErr(err, "failed to split segment (shrink)")
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO segments(start_ts, end_ts) VALUES (?, ?)", effEnd, row.EndTs,
				); err != nil {
					return wrapIoErr(err, "failed to split segment (insert tail)")
				}
				return nil
			}

			if _, err := tx.ExecContext(ctx,
				"UPDATE segments SET end_ts = ? WHERE end_ts >= ? AND end_ts < ? AND start_ts < ?",
				effStart, effStart, effEnd, effStart,
			); err != nil {
				return wrapIoErr(err, "failed to truncate segment tail ends")
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM segments WHERE end_ts >= ? AND end_ts < ? AND start_ts >= ?",
				effStart, effEnd, effStart,
			); err != nil {
				return wrapIoErr(err, "failed to delete fully-covered segments")
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE segments SET start_ts = ? WHERE start_ts >= ? AND start_ts < ?",
				effEnd, effStart, effEnd,
			); err != nil {
				return wrapIoErr(err, "failed to truncate segment start ends")
			}
			return nil
		})
	})
}

// ReconcileGaps removes dumbdex entries whose first_ts falls in a gap
// the ledger no longer covers — the optional recovery scan spec §4.6
// leaves for a crash landing between a ledger commit and the
// subsequent dumbdex mutation. It returns the first_ts values that
// should be removed from the dumbdex.
func (l *Ledger) ReconcileGaps(ctx context.Context, dumbdexFirstTs []int64) ([]int64, error) {
	if len(dumbdexFirstTs) == 0 {
		return nil, nil
	}

	var stale []int64
	err := l.withConn(func(db *sql.DB) error {
		for _, ts := range dumbdexFirstTs {
			var covered bool
			row := db.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM segments WHERE start_ts <= ? AND (end_ts = 0 OR end_ts > ?))",
				ts, ts,
			)
			if err := row.Scan(&covered); err != nil {
				return wrapIoErr(err, "failed to reconcile dumbdex against ledger")
			}
			if !covered {
				stale = append(stale, ts)
			}
		}
		return nil
	})
	return stale, err
}

func wrapIoErr(err error, msg string) error {
	return newStorageIoError(err, msg)
}
