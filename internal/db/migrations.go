package db

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of SQL migration statements.
// Each entry is applied once in order. New migrations are appended at the end.
// Timestamps are INTEGER epoch milliseconds.
var migrations = []string{
	// Migration 0: initial schema
	`CREATE TABLE IF NOT EXISTS user_memories (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		guild_id           TEXT,
		memory_type        TEXT NOT NULL,
		content            TEXT NOT NULL,
		relevance_score    REAL NOT NULL DEFAULT 1.0,
		first_mentioned_at INTEGER NOT NULL,
		last_mentioned_at  INTEGER NOT NULL,
		mention_count      INTEGER NOT NULL DEFAULT 1,
		metadata           TEXT NOT NULL DEFAULT '{}',
		created_at         INTEGER NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_user_relevance ON user_memories(user_id, relevance_score DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_user_type      ON user_memories(user_id, memory_type)`,

	`CREATE TABLE IF NOT EXISTS conversation_topics (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		guild_id      TEXT,
		topic         TEXT NOT NULL,
		sentiment     TEXT NOT NULL DEFAULT 'neutral',
		message_count INTEGER NOT NULL DEFAULT 1,
		started_at    INTEGER NOT NULL,
		ended_at      INTEGER NOT NULL,
		summary       TEXT
	)`,

	// Migration 4: recent-topic lookups
	`CREATE INDEX IF NOT EXISTS idx_topics_user_ended ON conversation_topics(user_id, ended_at DESC)`,
}

// applyMigrations runs every pending migration, each inside its own
// transaction together with its schema_migrations record.
func applyMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER) * 1000)
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(conn)
	if err != nil {
		return err
	}

	for version, stmt := range migrations {
		if applied[version] {
			continue
		}
		if err := applyOne(conn, version, stmt); err != nil {
			return err
		}
	}
	return nil
}

func appliedVersions(conn *sql.DB) (map[int]bool, error) {
	rows, err := conn.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		out[v] = true
	}
	return out, rows.Err()
}

func applyOne(conn *sql.DB, version int, stmt string) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(stmt); err != nil {
		return fmt.Errorf("apply migration %d: %w", version, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("record migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", version, err)
	}
	return nil
}
