/*
Package sqlite provides the SQLite-backed implementation of circulation.Store.

PURPOSE:
  Persists the catalog, users, loans, reservations, sanctions, the
  configuration table and the notification outbox. Implements:

  circulation.Store:          Reader queries + WithTx
  circulation.Tx:             row-level reads and writes inside a transaction
  circulation.ConfigProvider: parsed parameter snapshot (config.go)
  circulation.Reporter:       report queries (reports.go)
  circulation.Notifier:       outbox inserts (outbox.go)

KEY TABLES:
  books:         catalog entries with total/available copy counters
  users:         accounts with the aggregate sanction flag and end
  loans:         one row per loan, deleted only by CancelActive
  reservations:  claims on future availability
  sanctions:     fines and borrowing bans
  config:        name -> value parameters, seeded once
  notifications: outbox of messages emitted after commit

INDEXES:
  - idx_loans_one_active: at most one active loan per (user, book)
  - idx_loans_state_due:  active/overdue scans (hot path for reports)
  - idx_reservations_book_state: pending quota checks

CONCURRENCY:
  SQLite has no SELECT ... FOR UPDATE. Connections are opened with
  _txlock=immediate so every transaction takes the database write lock at
  BEGIN, and WithTx additionally holds a process-wide sync.RWMutex. The
  Lock* methods of the Tx are therefore plain reads: the lock they stand for
  is already held for the whole transaction.

  Never call Store (Reader) methods from inside a WithTx callback: they take
  the read lock and would deadlock.

WAL MODE:
  File databases use WAL (Write-Ahead Logging): readers do not block on the
  single writer and crash recovery is better.

USAGE:
  store, err := sqlite.New("./data/library.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  lib := circulation.New(store, store, circulation.WithNotifier(store))

MIGRATION:
  Schema is auto-migrated on New() and configuration defaults are seeded
  with INSERT OR IGNORE, so edited values survive restarts.

SEE ALSO:
  - circulation/store.go: interface definitions
  - reports.go: goqu-built report queries
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/circulation-engine/circulation"
)

const schemaVersion = "1"

// dialect builds the dynamic list and report queries.
var dialect = goqu.Dialect("sqlite3")

// Store implements the circulation storage interfaces using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
}

var (
	_ circulation.Store          = (*Store)(nil)
	_ circulation.ConfigProvider = (*Store)(nil)
	_ circulation.Reporter       = (*Store)(nil)
	_ circulation.Notifier       = (*Store)(nil)
	_ circulation.Tx             = (*txStore)(nil)
)

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	memory := dbPath == ":memory:"
	if !memory {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema and seeds the configuration defaults.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS authors (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		nationality TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		author_id INTEGER REFERENCES authors(id),
		category_id INTEGER REFERENCES categories(id),
		publisher TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		isbn TEXT UNIQUE,
		total_copies INTEGER NOT NULL,
		available_copies INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		CHECK (available_copies >= 0 AND available_copies <= total_copies)
	);

	CREATE INDEX IF NOT EXISTS idx_books_title ON books(title);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('student', 'teacher', 'librarian', 'admin')),
		full_name TEXT NOT NULL DEFAULT '',
		email TEXT UNIQUE,
		active BOOLEAN NOT NULL DEFAULT 1,
		validated BOOLEAN NOT NULL DEFAULT 0,
		validated_by INTEGER REFERENCES users(id),
		validated_at INTEGER,
		sanctioned BOOLEAN NOT NULL DEFAULT 0,
		sanction_end INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		operator_id INTEGER NOT NULL REFERENCES users(id),
		loaned_at INTEGER NOT NULL,
		due_at INTEGER NOT NULL,
		returned_at INTEGER,
		state TEXT NOT NULL CHECK (state IN ('active', 'returned', 'damaged', 'lost')),
		renewals INTEGER NOT NULL DEFAULT 0,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_loans_one_active
		ON loans(user_id, book_id) WHERE state = 'active';
	CREATE INDEX IF NOT EXISTS idx_loans_state_due
		ON loans(state, due_at);
	CREATE INDEX IF NOT EXISTS idx_loans_book
		ON loans(book_id);

	CREATE TABLE IF NOT EXISTS reservations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		book_id INTEGER NOT NULL REFERENCES books(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		reserved_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('pending', 'completed', 'cancelled', 'expired'))
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_book_state
		ON reservations(book_id, state, expires_at);
	CREATE INDEX IF NOT EXISTS idx_reservations_user
		ON reservations(user_id);

	CREATE TABLE IF NOT EXISTS sanctions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id),
		loan_id INTEGER REFERENCES loans(id) ON DELETE SET NULL,
		starts_at INTEGER NOT NULL,
		ends_at INTEGER NOT NULL,
		reason TEXT NOT NULL,
		amount TEXT NOT NULL,
		state TEXT NOT NULL CHECK (state IN ('active', 'paid', 'condoned'))
	);

	CREATE INDEX IF NOT EXISTS idx_sanctions_user_state
		ON sanctions(user_id, state);

	CREATE TABLE IF NOT EXISTS config (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		editable BOOLEAN NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		user_id INTEGER,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_status
		ON notifications(status, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, schemaVersion); err != nil {
		return err
	}
	return seedConfig(context.Background(), s.db, false)
}

// seedConfig inserts every parameter. With overwrite, existing values are
// replaced by the defaults; otherwise they are kept.
func seedConfig(ctx context.Context, db sqlx.ExecerContext, overwrite bool) error {
	query := `INSERT OR IGNORE INTO config (name, value, description, editable) VALUES (?, ?, ?, ?)`
	if overwrite {
		query = `INSERT OR REPLACE INTO config (name, value, description, editable) VALUES (?, ?, ?, ?)`
	}
	for _, p := range circulation.ParamSpecs {
		if _, err := db.ExecContext(ctx, query, p.Name, p.Default, p.Description, p.Editable); err != nil {
			return fmt.Errorf("seed config %s: %w", p.Name, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (circulation.Store interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(circulation.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore implements circulation.Tx on an open transaction.
type txStore struct {
	tx *sqlx.Tx
}

// read runs fn against the database under the read lock.
func read[T any](s *Store, fn func(q sqlx.ExtContext) (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.db)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data and restores the configuration defaults (for
// testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tables := []string{"notifications", "sanctions", "reservations", "loans", "books", "authors", "categories", "users"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil {
		return err
	}
	if err := seedConfig(ctx, tx, true); err != nil {
		return err
	}
	return tx.Commit()
}

// classify maps constraint violations to domain errors and annotates the
// rest with what was being done.
func classify(what string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s: %s", circulation.ErrDuplicate, what, uniqueColumn(se.Error()))
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %s: referenced row does not exist", circulation.ErrInvalidArgument, what)
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %s: %s", circulation.ErrInvalidArgument, what, se.Error())
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// uniqueColumn extracts "table.column" from a UNIQUE constraint message.
func uniqueColumn(msg string) string {
	if _, col, ok := strings.Cut(msg, "failed: "); ok {
		return col
	}
	return msg
}

// one returns (nil, nil) when the query matched no row.
func one[T any](ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*T, error) {
	var v T
	if err := sqlx.GetContext(ctx, q, &v, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// selectDataset renders a goqu dataset with "?" placeholders and scans every
// row into dest.
func selectDataset(ctx context.Context, q sqlx.QueryerContext, dest any, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

func page(ds *goqu.SelectDataset, limit, offset int) *goqu.SelectDataset {
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	if offset > 0 {
		ds = ds.Offset(uint(offset))
	}
	return ds
}

func lastID(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// exactlyOne fails when an UPDATE/DELETE by primary key touched no row.
func exactlyOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row affected, got %d", n)
	}
	return nil
}
