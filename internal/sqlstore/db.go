// Package sqlstore is the Persistence adapter: a database/sql handle
// over an embedded SQLite file, the table schema, and a small
// transaction-running helper used by every multi-row operation in
// package secret and package vcs.
package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers "sqlite"

	"github.com/cruxvault/cruxvault/vaulterrors"
)

// DB wraps a SQLite connection pool opened against a single on-disk
// file, the only storage artifact this package produces.
type DB struct {
	conn *sql.DB
}

// Open creates the parent directory if needed, opens (or creates) the
// SQLite file at path, applies pragmas, and runs the schema DDL.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to create storage directory")
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to open storage file")
	}

	// SQLite allows only one writer at a time regardless of journal
	// mode; a single connection avoids "database is locked" errors
	// under the single-process model this store assumes.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to apply "+pragma)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, vaulterrors.Wrap(err, vaulterrors.IO, "failed to initialize schema")
	}

	return &DB{conn: conn}, nil
}

// Raw exposes the underlying *sql.DB for callers that need to run a
// query sqlstore does not otherwise wrap, such as diagnostics or
// tests asserting on raw column contents.
func (d *DB) Raw() *sql.DB {
	return d.conn
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	if err := d.conn.Close(); err != nil {
		return vaulterrors.Wrap(err, vaulterrors.IO, "failed to close storage file")
	}
	return nil
}

// WithTx runs fn inside a single serializable transaction. On any
// error returned by fn, or any commit failure, the transaction is
// rolled back and the store is left unchanged.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return vaulterrors.Wrap(err, vaulterrors.IO, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return vaulterrors.Wrap(err, vaulterrors.IO, "failed to commit transaction")
	}

	return nil
}

// WithReadTx runs fn inside a read-only transaction snapshot, used by
// the get/list/history/status/diff operations.
func (d *DB) WithReadTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return vaulterrors.Wrap(err, vaulterrors.IO, "failed to begin read transaction")
	}
	defer tx.Rollback() //nolint:errcheck // read-only, nothing to commit

	return fn(tx)
}
