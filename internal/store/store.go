// Package store implements the Object Store (C1): a transactional embedded
// store for page metadata, raw file blobs, rendered images, and generated
// artifacts (spec §4.1). Grounded on Dirstral-dir2mcp's
// internal/store/sqlite_store.go: a *sql.DB opened lazily under a
// sync.Cond-guarded activeOps/closing pair, so Close() can drain
// in-flight operations before the handle is torn down, and schema
// evolution via idempotent `ALTER TABLE ... ADD COLUMN` statements.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/jackzampolin/scan2doc/internal/apperr"
)

// Store is the embedded object store. All durable bytes for the engine
// flow through it; the Page Store (C5) holds only a transient projection.
type Store struct {
	path string

	mu        sync.Mutex
	db        *sql.DB
	activeOps int
	closing   bool
	cond      *sync.Cond
}

// Open creates a Store backed by the sqlite file at path and runs schema
// initialization / forward-only migrations immediately.
func Open(ctx context.Context, path string) (*Store, error) {
	s := &Store{path: path}
	s.cond = sync.NewCond(&s.mu)

	db, err := s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	s.ReleaseDB()
	_ = db
	return s, nil
}

// initLocked opens the sqlite handle, sets WAL mode, and applies schema +
// migrations. Assumes the caller holds s.mu.
func (s *Store) initLocked(ctx context.Context) error {
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", apperr.Wrap(apperr.PermanentIO, err.Error()))
	}
	db.SetMaxOpenConns(1) // sqlite + WAL: single writer, matches the store's own mutex discipline

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply migrations: %w", err)
	}

	s.db = db
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_meta (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  version INTEGER NOT NULL
);
INSERT OR IGNORE INTO schema_meta(id, version) VALUES (1, 1);

CREATE TABLE IF NOT EXISTS counters (
  name TEXT PRIMARY KEY,
  value INTEGER NOT NULL
);
INSERT OR IGNORE INTO counters(name, value) VALUES ('page_order', 0);

CREATE TABLE IF NOT EXISTS files (
  id TEXT PRIMARY KEY,
  filename TEXT NOT NULL,
  size INTEGER NOT NULL,
  content BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
  id TEXT PRIMARY KEY,
  filename TEXT NOT NULL,
  size INTEGER NOT NULL,
  mime_type TEXT NOT NULL,
  origin TEXT NOT NULL,
  status TEXT NOT NULL,
  progress INTEGER NOT NULL DEFAULT 0,
  "order" INTEGER NOT NULL,
  source_file_id TEXT,
  page_number INTEGER NOT NULL DEFAULT 0,
  width INTEGER NOT NULL DEFAULT 0,
  height INTEGER NOT NULL DEFAULT 0,
  thumbnail BLOB,
  ocr_text TEXT,
  ocr_confidence REAL,
  ocr_raw BLOB,
  pre_error_status TEXT,
  log_json BLOB,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  FOREIGN KEY (source_file_id) REFERENCES files(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_order ON pages("order");
CREATE INDEX IF NOT EXISTS idx_pages_status ON pages(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_source_pagenum
  ON pages(source_file_id, page_number)
  WHERE source_file_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS page_images (
  page_id TEXT PRIMARY KEY,
  blob BLOB NOT NULL,
  width INTEGER NOT NULL,
  height INTEGER NOT NULL,
  FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS page_artifacts (
  page_id TEXT NOT NULL,
  format TEXT NOT NULL,
  bytes BLOB NOT NULL,
  mime_type TEXT NOT NULL,
  PRIMARY KEY (page_id, format),
  FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS page_extracted_images (
  page_id TEXT NOT NULL,
  idx INTEGER NOT NULL,
  bytes BLOB NOT NULL,
  mime_type TEXT NOT NULL,
  PRIMARY KEY (page_id, idx),
  FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);
`

// runMigrations applies forward-only schema changes idempotently, per the
// dir2mcp `ALTER TABLE ... ADD COLUMN` + duplicate-column-tolerant idiom.
// New columns land here rather than in schemaDDL so upgrading an existing
// on-disk database never loses data.
func runMigrations(ctx context.Context, db *sql.DB) error {
	// No migrations beyond the initial schema yet; this is the hook future
	// schema changes append to, one ALTER TABLE per released version.
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// ensureDB returns the live *sql.DB, lazily initializing it, and marks one
// active operation. Callers MUST call ReleaseDB exactly once when done.
func (s *Store) ensureDB(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, fmt.Errorf("%w: store is closing", apperr.StoreBusy)
	}
	if s.db == nil {
		if err := s.initLocked(ctx); err != nil {
			return nil, err
		}
	}
	s.activeOps++
	return s.db, nil
}

// ReleaseDB marks completion of an operation that previously acquired a
// handle via ensureDB.
func (s *Store) ReleaseDB() {
	s.mu.Lock()
	if s.activeOps > 0 {
		s.activeOps--
	}
	if s.activeOps == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
}

// Close drains in-flight operations, then closes the sqlite handle.
func (s *Store) Close() error {
	s.mu.Lock()
	for s.closing {
		s.cond.Wait()
	}
	if s.db == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	db := s.db
	s.db = nil
	for s.activeOps > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()

	err := db.Close()

	s.mu.Lock()
	s.closing = false
	s.cond.Broadcast()
	s.mu.Unlock()
	return err
}

// dbExecutor abstracts *sql.DB and *sql.Tx so row-writing helpers can run
// either standalone or inside a caller-managed transaction.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db, err := s.ensureDB(ctx)
	if err != nil {
		return err
	}
	defer s.ReleaseDB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLiteErr(err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifySQLiteErr(err)
	}
	return nil
}

// classifySQLiteErr maps raw sqlite driver errors onto the apperr taxonomy
// (spec §4.1 "Fails with StoreBusy (retry-safe) or StoreCorrupt (fatal)").
func classifySQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "locked") || strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %s", apperr.StoreBusy, err.Error())
	case strings.Contains(msg, "malformed") || strings.Contains(msg, "corrupt"):
		return fmt.Errorf("%w: %s", apperr.StoreCorrupt, err.Error())
	case errors.Is(err, sql.ErrNoRows):
		return err
	default:
		return err
	}
}
