package sqlite

import (
	"database/sql"
	"errors"
	"time"
)

// ─── Idempotency Registry Operations ────────────────────────────────────────

// BeginIdempotencyTx implements the idempotency protocol within the
// caller's write transaction:
//
// 1. no row for idemKey -> reserve it (insert with has_response=0) and
//    report fresh.
// 2. row exists, body_hash matches -> report replay with the cached
//    response. If the row has no response yet (a prior attempt began
//    but never committed), report fresh instead, since no response was
//    ever returned to a client.
// 3. row exists, body_hash differs -> report conflict.
func (db *DB) BeginIdempotencyTx(tx *Tx, idemKey string, bodyHash [32]byte, now time.Time) (fresh, replay, conflict bool, cachedStatus int, cachedResponse []byte, err error) {
	var existingHash []byte
	var hasResponse int
	var statusCode int
	var response []byte

	err = tx.tx.QueryRow(`
		SELECT body_hash, has_response, status_code, response FROM idempotency_keys WHERE idem_key = ?
	`, idemKey).Scan(&existingHash, &hasResponse, &statusCode, &response)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, insErr := tx.tx.Exec(`
			INSERT INTO idempotency_keys (idem_key, body_hash, status_code, response, has_response, accepted_at)
			VALUES (?, ?, 0, NULL, 0, ?)
		`, idemKey, bodyHash[:], now.UTC().Format(time.RFC3339))
		if insErr != nil {
			return false, false, false, 0, nil, insErr
		}
		return true, false, false, 0, nil, nil

	case err != nil:
		return false, false, false, 0, nil, err

	default:
		if !bytesEqual(existingHash, bodyHash[:]) {
			return false, false, true, 0, nil, nil
		}
		if hasResponse == 0 {
			// A prior attempt began but never committed (crashed between
			// begin and commit). No client ever saw a response, so this
			// attempt proceeds as fresh rather than replaying nothing.
			return true, false, false, 0, nil, nil
		}
		return false, true, false, statusCode, response, nil
	}
}

// CommitIdempotencyTx attaches the computed response to a previously
// reserved row. It is only ever called for a fresh admission, never for
// a replay.
func (db *DB) CommitIdempotencyTx(tx *Tx, idemKey string, statusCode int, response []byte) error {
	_, err := tx.tx.Exec(`
		UPDATE idempotency_keys SET status_code = ?, response = ?, has_response = 1 WHERE idem_key = ?
	`, statusCode, response, idemKey)
	return err
}

// SweepIdempotency deletes records older than the configured TTL
// (default 24h).
func (db *DB) SweepIdempotency(olderThan time.Time) (int64, error) {
	res, err := db.db.Exec(`DELETE FROM idempotency_keys WHERE accepted_at < ?`, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OldestIdempotencyExpiry returns when the oldest surviving row becomes
// sweepable: its accepted_at plus ttl. ok is false when the table is
// empty. The retention sweeper does not call it; it reschedules each
// table one window after its last sweep.
func (db *DB) OldestIdempotencyExpiry(ttl time.Duration) (time.Time, bool, error) {
	var acceptedAt string
	err := db.db.QueryRow(`SELECT accepted_at FROM idempotency_keys ORDER BY accepted_at ASC LIMIT 1`).Scan(&acceptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, acceptedAt)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.Add(ttl), true, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
