// Package db opens the embedded SQLite datastore that backs long-term memory
// and keeps its schema current.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const DefaultBusyTimeout = 5 * time.Second

// DB is the long-term store's connection. SQLite allows one writer, so the
// pool is capped at a single connection and statements queue behind it.
type DB struct {
	conn *sql.DB
	path string
}

type options struct {
	busyTimeout time.Duration
	journalMode string
}

// Option tunes how Open connects.
type Option func(*options)

// WithBusyTimeout sets how long a statement waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithJournalMode overrides the WAL journal (e.g. "DELETE" on filesystems
// without shared-memory support).
func WithJournalMode(mode string) Option {
	return func(o *options) { o.journalMode = mode }
}

// Open opens (or creates) the database at path, creating parent directories,
// and applies pending migrations.
func Open(path string, opts ...Option) (*DB, error) {
	o := options{busyTimeout: DefaultBusyTimeout, journalMode: "WAL"}
	for _, fn := range opts {
		fn(&o)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("db: resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("db: create directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dsn(absPath, o))
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", absPath, err)
	}
	conn.SetMaxOpenConns(1)

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: migrate %s: %w", absPath, err)
	}
	return &DB{conn: conn, path: absPath}, nil
}

func dsn(path string, o options) string {
	q := url.Values{}
	q.Set("_journal_mode", o.journalMode)
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.FormatInt(o.busyTimeout.Milliseconds(), 10))
	return "file:" + path + "?" + q.Encode()
}

// Conn returns the underlying pool for the store layer.
func (d *DB) Conn() *sql.DB { return d.conn }

// Path is the absolute database file path.
func (d *DB) Path() string { return d.path }

func (d *DB) Close() error { return d.conn.Close() }

// InTx runs fn inside a transaction, committing when it returns nil and
// rolling back otherwise.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SchemaVersion is the number of migrations applied to the database.
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db: schema version: %w", err)
	}
	return n, nil
}
