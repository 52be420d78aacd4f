package sqlite

// allMigrations returns every schema migration statement for the core
// tables this service owns, in dependency order. Each string is a single
// SQL statement (SQLite executes one at a time).
func allMigrations() []string {
	return []string{
		// ─── Segment Registry — populated once by the external
		// schedule importer; this service only ever reads it.
		`CREATE TABLE IF NOT EXISTS segments (
			segment_id INTEGER PRIMARY KEY AUTOINCREMENT,
			route_id TEXT NOT NULL,
			direction_id INTEGER NOT NULL,
			from_stop_id TEXT NOT NULL,
			to_stop_id TEXT NOT NULL,
			UNIQUE(route_id, direction_id, from_stop_id, to_stop_id)
		)`,

		// ─── Statistics Store — the online + EMA learning cell and
		// the schedule baseline, keyed by (segment_id, bin_id).
		`CREATE TABLE IF NOT EXISTS segment_stats (
			segment_id INTEGER NOT NULL,
			bin_id INTEGER NOT NULL,
			n INTEGER NOT NULL DEFAULT 0,
			m1 REAL NOT NULL DEFAULT 0,
			m2 REAL NOT NULL DEFAULT 0,
			ema_mean REAL NOT NULL DEFAULT 0,
			ema_var REAL NOT NULL DEFAULT 0,
			schedule_mean_sec REAL NOT NULL,
			last_update TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (segment_id, bin_id)
		)`,

		// ─── Idempotency Registry.
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			idem_key TEXT PRIMARY KEY,
			body_hash BLOB NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			response BLOB,
			has_response INTEGER NOT NULL DEFAULT 0,
			accepted_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_idempotency_accepted ON idempotency_keys(accepted_at)`,

		// ─── Quota Gate.
		`CREATE TABLE IF NOT EXISTS rate_limit_buckets (
			bucket_id TEXT PRIMARY KEY,
			tokens INTEGER NOT NULL,
			last_refill TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quota_last_refill ON rate_limit_buckets(last_refill)`,

		// ─── Rejection log — append-only.
		`CREATE TABLE IF NOT EXISTS rejection_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			segment_id INTEGER,
			bin_id INTEGER,
			reason TEXT NOT NULL,
			observed REAL NOT NULL DEFAULT 0,
			bucket_id TEXT NOT NULL DEFAULT '',
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rejection_timestamp ON rejection_log(timestamp)`,

		// ─── Ride audit — append-only, optional/retention-bound.
		`CREATE TABLE IF NOT EXISTS ride_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			segment_id INTEGER NOT NULL,
			bin_id INTEGER NOT NULL,
			duration_sec REAL NOT NULL,
			observed_at TEXT NOT NULL,
			accepted_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ride_audit_accepted ON ride_audit(accepted_at)`,
	}
}
