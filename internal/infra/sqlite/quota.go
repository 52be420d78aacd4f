package sqlite

import (
	"database/sql"
	"errors"
	"time"
)

// ─── Quota Gate Operations ───────────────────────────────────────────────────

// SpendTx performs the check-and-decrement for bucketID inside the
// caller's write transaction (binary refill: reset to capacity then debit
// if the window elapsed; otherwise debit only if tokens > 0). It reads
// the bucket row and then writes it; it is not a single conditional
// UPDATE. Two requests against the same bucket cannot interleave because
// each runs inside its own write transaction and the store admits one
// write transaction at a time.
func (db *DB) SpendTx(tx *Tx, bucketID string, capacity int, window time.Duration, now time.Time) (ok bool, remaining int, reset time.Time, err error) {
	nowStr := now.UTC().Format(time.RFC3339)

	var tokens int
	var lastRefillStr string
	err = tx.tx.QueryRow(`SELECT tokens, last_refill FROM rate_limit_buckets WHERE bucket_id = ?`, bucketID).Scan(&tokens, &lastRefillStr)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Lazy creation: first POST from this bucket starts full,
		// then immediately spends one token.
		tokens = capacity - 1
		if _, insErr := tx.tx.Exec(`
			INSERT INTO rate_limit_buckets (bucket_id, tokens, last_refill) VALUES (?, ?, ?)
		`, bucketID, tokens, nowStr); insErr != nil {
			return false, 0, time.Time{}, insErr
		}
		return true, tokens, now.Add(window), nil

	case err != nil:
		return false, 0, time.Time{}, err
	}

	lastRefill, parseErr := time.Parse(time.RFC3339, lastRefillStr)
	if parseErr != nil {
		return false, 0, time.Time{}, parseErr
	}

	if now.Sub(lastRefill) >= window {
		// Binary refill: reset to capacity, then debit.
		tokens = capacity - 1
		lastRefill = now
		if _, updErr := tx.tx.Exec(`
			UPDATE rate_limit_buckets SET tokens = ?, last_refill = ? WHERE bucket_id = ?
		`, tokens, nowStr, bucketID); updErr != nil {
			return false, 0, time.Time{}, updErr
		}
		return true, tokens, lastRefill.Add(window), nil
	}

	if tokens <= 0 {
		return false, 0, lastRefill.Add(window), nil
	}

	tokens--
	if _, updErr := tx.tx.Exec(`UPDATE rate_limit_buckets SET tokens = ? WHERE bucket_id = ?`, tokens, bucketID); updErr != nil {
		return false, 0, time.Time{}, updErr
	}
	return true, tokens, lastRefill.Add(window), nil
}

// SweepQuota deletes buckets idle longer than the configured window
// (default 24h).
func (db *DB) SweepQuota(idleSince time.Time) (int64, error) {
	res, err := db.db.Exec(`DELETE FROM rate_limit_buckets WHERE last_refill < ?`, idleSince.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
