package session

import (
	"context"
	"errors"

	"github.com/Aidanwa/smart-home/core"
)

// ErrSnapshotNotFound is returned by a Loader for unknown session ids.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Sink persists agent and session snapshots.
type Sink interface {
	SaveAgent(ctx context.Context, snap AgentSnapshot) error
	SaveSession(ctx context.Context, snap Snapshot) error
}

// Loader reads back a saved session snapshot.
type Loader interface {
	LoadSession(ctx context.Context, sessionID string) (Snapshot, error)
}

func cloneAgent(a AgentSnapshot) AgentSnapshot {
	a.Messages = append([]core.Message(nil), a.Messages...)
	return a
}
