package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/tutorhub/internal/shared"
	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Tx over any querier.
type queries struct {
	q querier
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	queries
	db *sql.DB
}

const (
	beginMaxRetries = 3
	beginBaseDelay  = 100 * time.Millisecond
)

// NewSQLite creates a new SQLite-backed repository. Write transactions take
// the database write lock when they begin; busyTimeout bounds how long a
// writer waits for it.
func NewSQLite(dbPath string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_txlock=immediate",
		dbPath, busyTimeout.Milliseconds(),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{queries: queries{q: db}, db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL DEFAULT '',
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'student',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL DEFAULT '',
		params_json TEXT NOT NULL DEFAULT '{}',
		system_prompt TEXT NOT NULL DEFAULT '',
		welcome_message TEXT NOT NULL DEFAULT '',
		reminder_message TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content_json TEXT NOT NULL DEFAULT '{}',
		difficulty_level INTEGER NOT NULL DEFAULT 1,
		parent_id TEXT REFERENCES topics(id) ON DELETE CASCADE,
		agent_id TEXT REFERENCES agents(id) ON DELETE SET NULL,
		engagement_score REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_topics_parent ON topics(parent_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		topic_id TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
		agent_id TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		duration INTEGER NOT NULL DEFAULT 0,
		completion_rate REAL NOT NULL DEFAULT 0,
		interaction_data TEXT NOT NULL DEFAULT '{}',
		feedback_score INTEGER,
		agent_state TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_topic ON sessions(user_id, topic_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_sessions_topic ON sessions(topic_id);

	CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		feedback_json TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// WithTx runs fn inside a write transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// beginTx starts a transaction, retrying with exponential backoff when
// SQLite reports the database as busy.
func (s *SQLiteStore) beginTx(ctx context.Context) (*sql.Tx, error) {
	var lastErr error
	for i := 0; i < beginMaxRetries; i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err == nil {
			return tx, nil
		}
		lastErr = err
		if !shared.IsSQLiteConflictError(err) || i == beginMaxRetries-1 {
			break
		}

		delay := beginBaseDelay * time.Duration(1<<i)
		slog.Debug("begin transaction failed with SQLITE_BUSY, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("begin transaction: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("begin transaction: %w", lastErr)
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
