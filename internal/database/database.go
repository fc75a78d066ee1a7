// Triage - Notification Prioritization Engine
// Copyright 2026 Triage Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/triagehq/triage

// Package database provides the DuckDB-backed durable store: evaluated
// events, the append-only audit trail, rules, user profiles, AI
// interaction logs, and digest batches.
//
// JSON-shaped columns (metadata, reason chains, heatmaps) are stored as
// JSON and CAST to VARCHAR on read, then unmarshaled with goccy/go-json.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strings"

	// DuckDB driver registration
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/triagehq/triage/internal/config"
)

// Sentinel errors for callers to branch on.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("database: not found")
	// ErrNameTaken is returned when a unique rule name collides.
	ErrNameTaken = errors.New("database: rule name already exists")
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Entity methods are defined against it so they run identically inside
// and outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// store carries the entity methods. Embedded by both DB and Tx.
type store struct {
	q Querier
}

// DB is the durable store handle.
type DB struct {
	store
	conn *sql.DB
}

// Tx is a transaction-scoped view of the store with the same entity
// methods as DB.
type Tx struct {
	store
}

// New opens (or creates) the DuckDB database at the configured path.
// Use Path ":memory:" for an in-memory database (tests).
func New(cfg config.DatabaseConfig) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	connStr := cfg.Path
	if connStr == "" {
		connStr = ":memory:"
	}
	if connStr != ":memory:" {
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d", connStr, threads)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb at %s: %w", cfg.Path, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}

	db := &DB{conn: conn}
	db.store.q = conn
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{store{q: sqlTx}}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// schema holds the full DDL. Statements are separated by ";" and executed
// one at a time because the driver does not support multi-statement exec.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    event_id             VARCHAR PRIMARY KEY,
    user_id              VARCHAR NOT NULL,
    event_type           VARCHAR NOT NULL,
    title                VARCHAR NOT NULL,
    message              VARCHAR NOT NULL,
    source               VARCHAR NOT NULL,
    channel              VARCHAR NOT NULL,
    priority_hint        VARCHAR NOT NULL,
    dedupe_key           VARCHAR,
    computed_fingerprint VARCHAR,
    metadata             JSON,
    expires_at           TIMESTAMP,
    decision             VARCHAR NOT NULL,
    score                DOUBLE NOT NULL,
    reason_chain         JSON,
    rule_matched         VARCHAR,
    fallback_used        BOOLEAN NOT NULL DEFAULT FALSE,
    scheduled_at         TIMESTAMP,
    decided_at           TIMESTAMP NOT NULL,
    created_at           TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_user ON events (user_id, created_at);

CREATE TABLE IF NOT EXISTS audit_log (
    id            VARCHAR PRIMARY KEY,
    event_id      VARCHAR NOT NULL,
    user_id       VARCHAR NOT NULL,
    raw_event     JSON,
    decision      VARCHAR NOT NULL,
    score         DOUBLE NOT NULL,
    reason_chain  JSON NOT NULL,
    rule_applied  VARCHAR,
    ai_used       BOOLEAN NOT NULL,
    fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log (event_id);

CREATE TABLE IF NOT EXISTS rules (
    id             VARCHAR PRIMARY KEY,
    rule_name      VARCHAR NOT NULL UNIQUE,
    rule_type      VARCHAR NOT NULL,
    conditions     JSON NOT NULL,
    action_params  JSON,
    priority_order INTEGER NOT NULL,
    is_active      BOOLEAN NOT NULL,
    created_at     TIMESTAMP NOT NULL,
    updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_profiles (
    user_id             VARCHAR PRIMARY KEY,
    timezone            VARCHAR NOT NULL,
    dnd_start_hour      INTEGER NOT NULL,
    dnd_end_hour        INTEGER NOT NULL,
    channel_preferences JSON,
    opted_out_topics    JSON NOT NULL,
    hourly_cap_override INTEGER,
    daily_cap_override  INTEGER,
    segment             VARCHAR,
    engagement_heatmap  JSON NOT NULL,
    created_at          TIMESTAMP NOT NULL,
    updated_at          TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ai_logs (
    id              VARCHAR PRIMARY KEY,
    event_id        VARCHAR NOT NULL,
    user_id         VARCHAR NOT NULL,
    model           VARCHAR NOT NULL,
    prompt          VARCHAR,
    raw_response    VARCHAR,
    latency_ms      BIGINT NOT NULL,
    score           DOUBLE,
    decision_hint   VARCHAR,
    fallback_used   BOOLEAN NOT NULL,
    fallback_reason VARCHAR,
    created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ailogs_user ON ai_logs (user_id, created_at);

CREATE TABLE IF NOT EXISTS digest_batches (
    id           VARCHAR PRIMARY KEY,
    user_id      VARCHAR NOT NULL,
    channel      VARCHAR NOT NULL,
    event_ids    JSON NOT NULL,
    scheduled_at TIMESTAMP NOT NULL,
    status       VARCHAR NOT NULL,
    sent_at      TIMESTAMP,
    created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_digest_due ON digest_batches (status, scheduled_at);
`

// CreateSchema creates all tables and indexes if they do not exist.
func (db *DB) CreateSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// marshalJSON serializes v for a JSON column. Nil maps/slices become "null".
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json column: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON deserializes a JSON column scanned as a nullable string.
func unmarshalJSON(s sql.NullString, target any) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), target); err != nil {
		return fmt.Errorf("failed to unmarshal json column: %w", err)
	}
	return nil
}

// placeholders returns a "?, ?, ?" list of length n.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
