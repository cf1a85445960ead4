package duckdb

import (
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DB is an open DuckDB database with migrations applied.
// Use Open to create; call Close when done.
type DB struct {
	sql  *sql.DB
	path string
}

// Open opens or creates a DuckDB database at path and runs migrations.
// Path can be a file path (e.g. "logsentinel.duckdb") or "" for in-memory.
func Open(path string) (*DB, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	sqlDB, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %q: %w", path, err)
	}
	db := &DB{sql: sqlDB, path: path}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate duckdb %q: %w", path, err)
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.sql.Close()
}

// SQL returns the underlying *sql.DB.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// Path returns the database file, or "" when in memory.
func (db *DB) Path() string {
	return db.path
}

var migrations = []string{
	`CREATE SEQUENCE IF NOT EXISTS events_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS events (
		id BIGINT PRIMARY KEY DEFAULT nextval('events_id_seq'),
		timestamp TIMESTAMP NOT NULL,
		host VARCHAR NOT NULL,
		user_name VARCHAR NOT NULL,
		code INTEGER,
		provider VARCHAR NOT NULL,
		level VARCHAR NOT NULL,
		process VARCHAR NOT NULL,
		parent_process VARCHAR NOT NULL,
		action VARCHAR NOT NULL,
		object VARCHAR NOT NULL,
		message VARCHAR NOT NULL,
		details VARCHAR NOT NULL,
		raw VARCHAR NOT NULL,
		ingested_at TIMESTAMP NOT NULL,
		source VARCHAR NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_timestamp_idx ON events (timestamp)`,
	`CREATE SEQUENCE IF NOT EXISTS rules_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS rules (
		id BIGINT PRIMARY KEY DEFAULT nextval('rules_id_seq'),
		name VARCHAR NOT NULL UNIQUE,
		description VARCHAR NOT NULL,
		severity VARCHAR NOT NULL,
		body VARCHAR NOT NULL,
		enabled BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP,
		last_triggered_at TIMESTAMP,
		trigger_count BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id VARCHAR PRIMARY KEY,
		rule_id BIGINT NOT NULL,
		rule_name VARCHAR NOT NULL,
		severity VARCHAR NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		title VARCHAR NOT NULL,
		description VARCHAR NOT NULL,
		event_ids VARCHAR NOT NULL,
		metadata VARCHAR NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT false,
		acknowledged_at TIMESTAMP,
		acknowledged_by VARCHAR NOT NULL DEFAULT ''
	)`,
}

func (db *DB) migrate() error {
	for _, stmt := range migrations {
		if _, err := db.sql.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
