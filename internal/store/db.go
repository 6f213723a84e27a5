package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner opens transactions. *sql.DB implements it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Open opens (creating if needed) the SQLite database at path and applies
// the embedded migrations.
//
// Transactions are started with BEGIN IMMEDIATE so concurrent writers queue
// on the busy timeout instead of failing when they upgrade a read lock.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// initSchema applies all SQL files in the embedded migrations directory in
// lexicographical order, inside a single transaction.
func initSchema(ctx context.Context, db *sql.DB) error {
	return WithTransaction(ctx, db, func(tx *sql.Tx) error {
		return fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			content, readError := migrationsFS.ReadFile(path)
			if readError != nil {
				return fmt.Errorf("error reading SQL file: %w", readError)
			}

			slog.Debug("Running migration", "path", path)
			if _, execError := tx.ExecContext(ctx, string(content)); execError != nil {
				return fmt.Errorf("migration %s: %w", path, execError)
			}
			return nil
		})
	})
}

// WithTransaction runs a function within a database transaction.
func WithTransaction(ctx context.Context, db TxBeginner, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return fmt.Errorf("error executing transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}

	return nil
}
