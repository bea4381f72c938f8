// Package sqlite implements the storage interface on an embedded SQLite
// database (ncruces/go-sqlite3, WASM build).
//
// File layout:
//   - store.go: Store struct, New() constructor, WASM cache setup, pragmas
//   - schema.go: database schema
//   - records.go: tier-record operations
//   - services.go: service registry table
//   - entities.go: entity resolver state
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/ubc-systopia/indaleko/internal/storage"
)

// Store implements storage.Storage on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool

	shortTimeout      time.Duration
	analyticalTimeout time.Duration
}

// setupWASMCache configures WASM compilation caching so the embedded
// SQLite engine does not JIT-compile on every process start. Falls back to
// an in-memory cache when the filesystem cache cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "indaleko", "wasm")
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

// Option adjusts store construction.
type Option func(*Store)

// WithTimeouts overrides the short-op and analytical-query timeouts.
func WithTimeouts(short, analytical time.Duration) Option {
	return func(s *Store) {
		if short > 0 {
			s.shortTimeout = short
		}
		if analytical > 0 {
			s.analyticalTimeout = analytical
		}
	}
}

// New opens (or creates) the database at path and applies the schema.
// ":memory:" opens a private in-memory database, used throughout the
// tests. Transient open failures are retried with exponential backoff.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	var connStr string
	if path == ":memory:" {
		// Shared cache so multiple connections in the pool see the same data.
		connStr = "file::memory:?cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create db dir: %w", err)
		}
		connStr = "file:" + filepath.ToSlash(path) +
			"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	}

	s := &Store{
		dbPath:            path,
		shortTimeout:      storage.DefaultShortTimeout,
		analyticalTimeout: storage.DefaultAnalyticalTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	open := func() error {
		db, err := sql.Open("sqlite3", connStr)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return err
		}
		s.db = db
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(open, policy); err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// The in-memory shared cache database disappears when its last
	// connection closes; pin one.
	if path == ":memory:" {
		s.db.SetMaxIdleConns(4)
		s.db.SetConnMaxLifetime(0)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		_ = s.db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return s, nil
}

// Path returns the database file path ("":memory:"" for in-memory).
func (s *Store) Path() string { return s.dbPath }

// Close releases the database. Safe to call twice.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// shortCtx bounds a single-record operation.
func (s *Store) shortCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.shortTimeout)
}

// queryCtx bounds an analytical scan.
func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.analyticalTimeout)
}
