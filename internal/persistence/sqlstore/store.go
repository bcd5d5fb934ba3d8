// Package sqlstore persists the biodb entity graph in SQLite or Postgres
// through database/sql. All entity access goes through *Queries so the same
// code runs inside and outside a transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("sqlstore: record not found")

// DBTX is the subset of *sql.DB and *sql.Tx used by Queries.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns a database handle and its dialect.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects to the database named by driver (sqlite|postgres) and dsn
// and applies the schema. For SQLite a plain file path is accepted as dsn;
// foreign keys and a busy timeout are enabled on every connection.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if d.name == SQLite.name {
		dsn, err = sqliteDSN(dsn)
		if err != nil {
			return nil, err
		}
	}
	openMu.Lock()
	db, err := sqlOpen(d.DriverName(), dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == SQLite.name {
		// one writer; in-transaction statements must use the tx handle
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}
	s := New(db, d)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database without applying the schema.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now() }}
}

func sqliteDSN(dsn string) (string, error) {
	if dsn == "" {
		dsn = "biodb.db"
	}
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, "?") || dsn == ":memory:" {
		return dsn, nil
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	return "file:" + dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", nil
}

// Migrate applies the dialect DDL. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range SplitStatements(s.dialect.DDL()) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SetClock replaces the timestamp source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Dialect returns the store dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Queries returns non-transactional entity access.
func (s *Store) Queries() *Queries { return s.queries(s.db) }

func (s *Store) queries(db DBTX) *Queries {
	return &Queries{db: db, dialect: s.dialect, now: s.now}
}

// RunInTransaction runs fn inside one transaction, committing when fn
// returns nil and rolling back otherwise. fn's error is returned unchanged.
func (s *Store) RunInTransaction(ctx context.Context, fn func(q *Queries) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(s.queries(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
