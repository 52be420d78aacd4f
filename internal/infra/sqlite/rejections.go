package sqlite

import (
	"time"

	"github.com/citytransit/etalearn/internal/domain"
)

// ─── Rejection Log + Ride Audit Operations ──────────────────────────────────

// RecordRejectionTx appends one rejection entry inside the caller's write
// transaction.
func (db *DB) RecordRejectionTx(tx *Tx, e domain.RejectionEntry) error {
	_, err := tx.tx.Exec(`
		INSERT INTO rejection_log (segment_id, bin_id, reason, observed, bucket_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.SegmentID, e.BinID, string(e.Reason), e.Observed, e.BucketID, e.Timestamp.UTC().Format(time.RFC3339))
	return err
}

// SweepRejections deletes rows older than the retention window (default
// 30 days).
func (db *DB) SweepRejections(olderThan time.Time) (int64, error) {
	res, err := db.db.Exec(`DELETE FROM rejection_log WHERE timestamp < ?`, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordRideAuditTx appends one accepted-segment audit row inside the
// caller's write transaction.
func (db *DB) RecordRideAuditTx(tx *Tx, segmentID int64, binID int, durationSec float64, observedAt, acceptedAt time.Time) error {
	_, err := tx.tx.Exec(`
		INSERT INTO ride_audit (segment_id, bin_id, duration_sec, observed_at, accepted_at)
		VALUES (?, ?, ?, ?, ?)
	`, segmentID, binID, durationSec, observedAt.UTC().Format(time.RFC3339), acceptedAt.UTC().Format(time.RFC3339))
	return err
}

// SweepRideAudit deletes rows older than the retention window (default
// 90 days).
func (db *DB) SweepRideAudit(olderThan time.Time) (int64, error) {
	res, err := db.db.Exec(`DELETE FROM ride_audit WHERE accepted_at < ?`, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
