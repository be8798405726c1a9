// Package sqlite implements the storage interface on an embedded,
// CGO-free SQLite database.
//
// Layout:
//   - store.go: Store struct, New() constructor, WASM cache setup
//   - schema.go: database schema
//   - transaction.go: RunInTransaction with BEGIN IMMEDIATE + busy retry
//   - plans.go / steps.go / checklist.go / ready.go / events.go: row
//     accessors shared between the store and its transactions
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/loomworks/loom/internal/storage"
)

// Store implements storage.Storage on a single SQLite database file.
// One store exists per plan-hosting location; orchestrator workspaces
// never carry a copy of it.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

var _ storage.Storage = (*Store)(nil)

// setupWASMCache configures WASM compilation caching so the embedded
// SQLite build is compiled once per machine instead of on every process
// start. Falls back to an in-memory cache when the user cache dir is
// unavailable.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "loom", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// connString builds the driver connection string. In-memory databases
// use private cache so each open is isolated; file databases enable WAL
// and a busy timeout so concurrent processes queue instead of failing.
func connString(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return "file::memory:?mode=memory&cache=private&_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		url.PathEscape(path))
}

// New opens (creating if needed) the coordination store at path and
// ensures the schema is current.
func New(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, wrapDBError("open database", err)
	}

	// The write path serializes on BEGIN IMMEDIATE; a second writer
	// connection would only sit in busy_timeout. Readers share the pool.
	db.SetMaxOpenConns(4)

	s := &Store{db: db, dbPath: path}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema applies the schema and stamps the schema version.
func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return wrapDBError("apply schema", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`,
		schemaVersion); err != nil {
		return wrapDBError("stamp schema version", err)
	}
	return nil
}

// Path returns the database file path this store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// Close releases the underlying database. Safe to call twice.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
