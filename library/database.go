package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultStorageTimeout bounds every storage call unless overridden.
const DefaultStorageTimeout = 5 * time.Second

var dialect = goqu.Dialect("sqlite3")

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db      *sqlx.DB
	timeout time.Duration

	addBookStmt   *sqlx.Stmt
	addMemberStmt *sqlx.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string, timeout time.Duration) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}

	// Writers take the lock at BEGIN so two borrowers never both hold a
	// read snapshot of the same row.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate",
		dbPath, timeout.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db, timeout: timeout}
	if err := database.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	if d.addMemberStmt != nil {
		d.addMemberStmt.Close()
	}
	return d.db.Close()
}

// bound derives the per-call storage deadline.
func (d *Database) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

// withTx runs fn inside a single write transaction. fn's error aborts the
// transaction and is returned unchanged; begin and commit failures are
// classified as storage errors.
func (d *Database) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sqlx.Tx) error) error {
	ctx, cancel := d.bound(ctx)
	defer cancel()

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyStorageError(op+": begin", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifyStorageError(op+": commit", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(ctx context.Context, db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRowxContext(ctx, `SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin','member')),
            password_hash TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            genre TEXT NOT NULL DEFAULT '',
            year INTEGER NOT NULL DEFAULT 0,
            available BOOLEAN NOT NULL DEFAULT 1
        );`,
		// book_id carries no foreign key: ledger rows outlive catalog deletes.
		`CREATE TABLE IF NOT EXISTS transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            ref TEXT NOT NULL UNIQUE,
            book_id INTEGER NOT NULL,
            borrower_id INTEGER NOT NULL REFERENCES members(id),
            borrow_date DATETIME NOT NULL,
            return_date DATETIME,
            status TEXT NOT NULL DEFAULT 'borrowed' CHECK (status IN ('borrowed','returned'))
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_open_book
            ON transactions(book_id) WHERE status = 'borrowed';`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_borrower
            ON transactions(borrower_id, borrow_date);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements(ctx context.Context) error {
	var err error
	if d.addBookStmt, err = d.db.PreparexContext(ctx,
		`INSERT INTO books(title,author,genre,year,available) VALUES(?,?,?,?,1)`); err != nil {
		return err
	}
	if d.addMemberStmt, err = d.db.PreparexContext(ctx,
		`INSERT INTO members(name,role,password_hash) VALUES(?,?,?)`); err != nil {
		return err
	}
	return nil
}
