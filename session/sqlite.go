package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink stores snapshots in a SQLite database. Agent snapshots are
// append-only rows; session snapshots are upserted by id.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (and creates) the database at dbPath.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY between concurrent agent saves.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteSink{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS agent_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		messages_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agent_snapshots_agent ON agent_snapshots(agent_id, id);

	CREATE TABLE IF NOT EXISTS session_snapshots (
		session_id TEXT PRIMARY KEY,
		snapshot_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func (s *SQLiteSink) SaveAgent(ctx context.Context, snap AgentSnapshot) error {
	msgs, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	query := `
	INSERT INTO agent_snapshots (agent_id, agent_type, provider, model, messages_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		snap.AgentID, snap.AgentType, snap.Provider, snap.Model, string(msgs), snap.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert agent snapshot: %w", err)
	}
	return nil
}

// LatestAgent returns the most recent snapshot saved for agentID.
func (s *SQLiteSink) LatestAgent(ctx context.Context, agentID string) (AgentSnapshot, error) {
	query := `
	SELECT agent_id, agent_type, provider, model, messages_json, created_at
	FROM agent_snapshots WHERE agent_id = ? ORDER BY id DESC LIMIT 1
	`
	var (
		snap    AgentSnapshot
		msgs    string
		created int64
	)
	err := s.db.QueryRowContext(ctx, query, agentID).
		Scan(&snap.AgentID, &snap.AgentType, &snap.Provider, &snap.Model, &msgs, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("%w: agent %s", ErrSnapshotNotFound, agentID)
	}
	if err != nil {
		return snap, fmt.Errorf("query agent snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(msgs), &snap.Messages); err != nil {
		return snap, fmt.Errorf("decode messages: %w", err)
	}
	snap.Timestamp = time.Unix(0, created).UTC()
	return snap, nil
}

func (s *SQLiteSink) SaveSession(ctx context.Context, snap Snapshot) error {
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}

	query := `
	INSERT INTO session_snapshots (session_id, snapshot_json, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		snapshot_json = excluded.snapshot_json,
		updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, snap.SessionID, string(doc), snap.CreatedAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert session snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteSink) LoadSession(ctx context.Context, sessionID string) (Snapshot, error) {
	var (
		snap Snapshot
		doc  string
	)
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM session_snapshots WHERE session_id = ?`, sessionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("%w: %s", ErrSnapshotNotFound, sessionID)
	}
	if err != nil {
		return snap, fmt.Errorf("query session snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return snap, fmt.Errorf("decode session snapshot: %w", err)
	}
	return snap, nil
}
