package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// snapshotStamp matches the file names written by earlier releases,
// e.g. 20250102_150405_123456.
const snapshotStamp = "20060102_150405_000000"

// FileSink writes snapshots as indented JSON documents below Root:
// agent transcripts to logs/<agent_type>/<agent_id>_<stamp>.json and
// sessions to sessions/<session_id>.json.
type FileSink struct {
	Root string
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Root: dir}
}

// AgentPath returns the file an agent snapshot is written to.
func (f *FileSink) AgentPath(snap AgentSnapshot) string {
	typ := snap.AgentType
	if typ == "" {
		typ = "agent"
	}
	name := fmt.Sprintf("%s_%s.json", snap.AgentID, snap.Timestamp.Format(snapshotStamp))
	return filepath.Join(f.Root, "logs", typ, name)
}

// SessionPath returns the file a session snapshot is written to.
func (f *FileSink) SessionPath(sessionID string) string {
	return filepath.Join(f.Root, "sessions", sessionID+".json")
}

func (f *FileSink) SaveAgent(ctx context.Context, snap AgentSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeJSON(f.AgentPath(snap), snap)
}

func (f *FileSink) SaveSession(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeJSON(f.SessionPath(snap.SessionID), snap)
}

func (f *FileSink) LoadSession(ctx context.Context, sessionID string) (Snapshot, error) {
	var snap Snapshot
	if err := ctx.Err(); err != nil {
		return snap, err
	}
	data, err := os.ReadFile(f.SessionPath(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return snap, fmt.Errorf("%w: %s", ErrSnapshotNotFound, sessionID)
	}
	if err != nil {
		return snap, fmt.Errorf("read session snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode session snapshot: %w", err)
	}
	return snap, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
