// Package database wraps the pure-Go SQLite connection backing the PDT
// ledger and persisted shutdown reports.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// DB wraps the database connection.
type DB struct {
	conn *sql.DB
	path string
}

// New opens (creating if necessary) the sqlite database at dbPath in
// WAL mode with foreign keys enabled.
func New(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	db := &DB{conn: conn, path: dbPath}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Migrate creates the schema backing the PDT ledger, the gap guard's
// close-of-session position snapshots, and shutdown-report persistence
// if it does not exist.
func (db *DB) Migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS pdt_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	open_timestamp TIMESTAMP NOT NULL,
	session_date TEXT NOT NULL,
	closing_would_be_day_trade INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pdt_entries_symbol ON pdt_entries(symbol);
CREATE INDEX IF NOT EXISTS idx_pdt_entries_session_date ON pdt_entries(session_date);

CREATE TABLE IF NOT EXISTS pdt_blocks (
	symbol TEXT PRIMARY KEY,
	blocked_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS shutdown_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	generated_at TIMESTAMP NOT NULL,
	report_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS position_snapshots (
	symbol TEXT PRIMARY KEY,
	close_price REAL NOT NULL,
	quantity REAL NOT NULL,
	snapshot_date TEXT NOT NULL,
	opened_at TIMESTAMP NOT NULL
);
`
	_, err := db.conn.Exec(schema)
	return err
}

// Begin starts a new transaction.
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Exec executes a query without returning rows.
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}
