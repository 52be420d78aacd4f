// Package sqlite is the embedded single-file store backing the entire
// learning/ingestion core: segments, segment_stats, idempotency_keys,
// rate_limit_buckets, rejection_log, ride_audit, and the schedule tables
// owned by the (out-of-scope) importer. It is WAL-capable and enforces
// a single-writer discipline with a process-wide mutex layered
// on top of SQLite's own locking.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/citytransit/etalearn/internal/domain"
)

// DB wraps the single *sql.DB handle for the embedded store. The handle's
// pool holds one connection, so a read issued while a write transaction
// is open waits until that transaction commits or rolls back. Writers
// serialize through writeSem so that the
// learning state, idempotency registry, quota gate, and rejection log
// update atomically within one logical transaction.
type DB struct {
	db *sql.DB

	// writeSem is a 1-buffered channel acting as a cancellable mutex:
	// acquiring it is a select among "got it", "timed out", and "context
	// cancelled", which a bare sync.Mutex cannot express without leaking
	// a goroutine parked on Lock() forever after the caller gives up.
	writeSem chan struct{}

	// busyTimeout bounds how long a writer waits for writeSem before
	// surfacing a retryable server_error ("a few seconds").
	busyTimeout time.Duration
}

// Config controls how the store opens its file and how long writers wait
// on contention before giving up.
type Config struct {
	Path        string        // filesystem path, or ":memory:" for tests
	BusyTimeout time.Duration // default 5s
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Path:        "etalearn.db",
		BusyTimeout: 5 * time.Second,
	}
}

// Open opens (creating if absent) the embedded store, enables WAL mode,
// and applies all schema migrations.
func Open(cfg Config) (*DB, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)", cfg.Path, cfg.BusyTimeout.Milliseconds())
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Path, err)
	}

	// A single physical connection keeps SQLite's own writer-serialization
	// aligned with our logical single-writer discipline. It also queues
	// every read behind an open write transaction: with no second
	// connection, WAL mode does not let readers run alongside the writer.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{db: sqlDB, writeSem: make(chan struct{}, 1), busyTimeout: cfg.BusyTimeout}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying handle.
func (db *DB) Close() error { return db.db.Close() }

func (db *DB) migrate() error {
	for _, stmt := range allMigrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %s: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// Tx wraps *sql.Tx so domain.StoreTx callers never need the database/sql
// import directly.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Begin opens the single logical write transaction for one ingestion
// request. It blocks on writeSem up to busyTimeout; on timeout it returns
// ErrStoreBusy so the caller can surface server_error and the caller's
// bounded retry policy can kick in.
//
// ctx additionally bounds the wait by the request's own deadline, so a
// cancelled request never holds a writer slot past its context.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	timer := time.NewTimer(db.busyTimeout)
	defer timer.Stop()

	select {
	case db.writeSem <- struct{}{}:
	case <-timer.C:
		return nil, domain.ErrStoreBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sqlTx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		<-db.writeSem
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: sqlTx}, nil
}

// CommitAndRelease commits the transaction and releases the writer slot.
// Call exactly once per Begin, whether committing or rolling back.
func (db *DB) CommitAndRelease(tx *Tx) error {
	defer func() { <-db.writeSem }()
	return tx.Commit()
}

// RollbackAndRelease rolls back the transaction and releases the writer
// slot. Safe to call after a failed Commit (rollback on an already
// committed/rolled-back tx is a no-op error we intentionally swallow).
func (db *DB) RollbackAndRelease(tx *Tx) {
	defer func() { <-db.writeSem }()
	_ = tx.Rollback()
}

// WithRetry runs fn, retrying a small bounded number of times on a
// store-busy condition before surfacing server_error. fn is expected to
// call db.Begin/db.CommitAndRelease itself.
func WithRetry(attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		lastErr = fn()
		if lastErr == nil || !errors.Is(lastErr, domain.ErrStoreBusy) {
			return lastErr
		}
	}
	return lastErr
}

// ReadDB exposes the read-only *sql.DB handle for query-path components
// (ETA Estimator, discovery endpoints) that never need the writer lock.
func (db *DB) ReadDB() *sql.DB { return db.db }

// Ping reports whether the underlying connection is reachable, for the
// health probe.
func (db *DB) Ping() error { return db.db.Ping() }
