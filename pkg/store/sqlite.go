// Package store persists conversation history and user profiles in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rosehq/roselive/pkg/transcript"
)

// SQLiteStore is the durable history and profile store. It implements
// session.HistoryStore.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the store at dbPath.
func New(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency between the session pump and the
	// fire-and-forget profile writer.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		speaker TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_user_seq ON turns(user_id, seq);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT NOT NULL,
		fact_key TEXT NOT NULL,
		fact_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, fact_key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Load returns the user's conversation, oldest first.
func (s *SQLiteStore) Load(ctx context.Context, userID string) ([]transcript.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, speaker, text FROM turns WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []transcript.Turn
	for rows.Next() {
		var t transcript.Turn
		var speaker string
		if err := rows.Scan(&t.ID, &speaker, &t.Text); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Speaker = transcript.Speaker(speaker)
		t.Final = true
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

// Append stores completed turns at the end of the user's conversation, in
// one transaction so a crash never leaves a half-written flush.
func (s *SQLiteStore) Append(ctx context.Context, userID string, turns []transcript.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE user_id = ?`, userID).Scan(&next); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	now := time.Now().Unix()
	for i, t := range turns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (id, user_id, seq, speaker, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, userID, next+int64(i), string(t.Speaker), t.Text, now); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}
	return tx.Commit()
}

// Profile returns the user's stored facts.
func (s *SQLiteStore) Profile(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_key, fact_value FROM profiles WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	defer rows.Close()

	facts := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		facts[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile: %w", err)
	}
	return facts, nil
}

// MergeProfile upserts facts into the user's profile. Existing keys not in
// facts are left untouched.
func (s *SQLiteStore) MergeProfile(ctx context.Context, userID string, facts map[string]string) error {
	if len(facts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile merge: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for k, v := range facts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (user_id, fact_key, fact_value, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id, fact_key) DO UPDATE SET fact_value = excluded.fact_value, updated_at = excluded.updated_at`,
			userID, k, v, now); err != nil {
			return fmt.Errorf("upsert fact %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
