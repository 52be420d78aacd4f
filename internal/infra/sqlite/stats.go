package sqlite

import (
	"database/sql"
	"errors"
	"time"

	"github.com/citytransit/etalearn/internal/domain"
)

// ─── Statistics Store Operations ─────────────────────────────────────

// GetStat reads one (segment_id, bin_id) cell outside of any write
// transaction. It does not take the writer slot, but it waits for the
// store's single connection while a write transaction holds it.
// A row with no schedule baseline yet is reported via ok=false so the
// caller can return not_found.
func (db *DB) GetStat(segmentID int64, binID int) (domain.SegmentStat, bool, error) {
	return getStat(db.db, segmentID, binID)
}

// GetStatTx reads the cell inside an in-flight write transaction, used by
// the Learning Updater's read-modify-write.
func (db *DB) GetStatTx(tx *Tx, segmentID int64, binID int) (domain.SegmentStat, bool, error) {
	return getStat(tx.tx, segmentID, binID)
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getStat(q queryer, segmentID int64, binID int) (domain.SegmentStat, bool, error) {
	var s domain.SegmentStat
	var lastUpdate string
	err := q.QueryRow(`
		SELECT segment_id, bin_id, n, m1, m2, ema_mean, ema_var, schedule_mean_sec, last_update
		FROM segment_stats WHERE segment_id = ? AND bin_id = ?
	`, segmentID, binID).Scan(&s.SegmentID, &s.BinID, &s.N, &s.M1, &s.M2, &s.EMAMean, &s.EMAVar, &s.ScheduleMeanSec, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SegmentStat{}, false, nil
	}
	if err != nil {
		return domain.SegmentStat{}, false, err
	}
	s.LastUpdate, err = time.Parse(time.RFC3339, lastUpdate)
	if err != nil {
		// Cells seeded by SeedSegment or EnsureStatRowTx keep SQLite's
		// datetime('now') text until their first update.
		s.LastUpdate, err = time.Parse("2006-01-02 15:04:05", lastUpdate)
	}
	if err != nil {
		return domain.SegmentStat{}, false, err
	}
	return s, true, nil
}

// PutStatTx writes the new cell state inside the caller's write
// transaction. The row must already exist (seeded with a schedule
// baseline by the importer) — this holds for any queryable cell, and
// the Learning Updater never fabricates a baseline.
func (db *DB) PutStatTx(tx *Tx, s domain.SegmentStat) error {
	_, err := tx.tx.Exec(`
		UPDATE segment_stats
		SET n = ?, m1 = ?, m2 = ?, ema_mean = ?, ema_var = ?, last_update = ?
		WHERE segment_id = ? AND bin_id = ?
	`, s.N, s.M1, s.M2, s.EMAMean, s.EMAVar, s.LastUpdate.UTC().Format(time.RFC3339), s.SegmentID, s.BinID)
	return err
}

// EnsureStatRowTx lazily creates a zeroed cell with the given schedule
// baseline if one doesn't exist yet — used when the importer seeds a
// schedule after segments already exist, or for tests constructing
// fixtures directly against the store.
func (db *DB) EnsureStatRowTx(tx *Tx, segmentID int64, binID int, scheduleMeanSec float64) error {
	_, err := tx.tx.Exec(`
		INSERT INTO segment_stats (segment_id, bin_id, schedule_mean_sec, last_update)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(segment_id, bin_id) DO NOTHING
	`, segmentID, binID, scheduleMeanSec)
	return err
}
