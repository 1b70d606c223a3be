package session

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// InMemorySink keeps snapshots in process memory. It is safe for concurrent
// use and suited for tests and ephemeral servers. Stored and returned
// snapshots are clones.
type InMemorySink struct {
	mu       sync.RWMutex
	agents   []AgentSnapshot
	sessions map[string]Snapshot
}

// NewInMemorySink constructs an empty sink.
func NewInMemorySink() *InMemorySink {
	return &InMemorySink{sessions: make(map[string]Snapshot)}
}

func (s *InMemorySink) SaveAgent(_ context.Context, snap AgentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, cloneAgent(snap))
	return nil
}

func (s *InMemorySink) SaveSession(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[snap.SessionID] = cloneSnapshot(snap)
	return nil
}

func (s *InMemorySink) LoadSession(_ context.Context, sessionID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sessions[sessionID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, sessionID)
	}
	return cloneSnapshot(snap), nil
}

// Agents returns every saved agent snapshot in save order.
func (s *InMemorySink) Agents() []AgentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentSnapshot, len(s.agents))
	for i, a := range s.agents {
		out[i] = cloneAgent(a)
	}
	return out
}

func cloneSnapshot(snap Snapshot) Snapshot {
	if snap.Primary != nil {
		p := cloneAgent(*snap.Primary)
		snap.Primary = &p
	}
	subs := make(map[string]AgentSnapshot, len(snap.Subagents))
	for id, a := range snap.Subagents {
		subs[id] = cloneAgent(a)
	}
	snap.Subagents = subs
	snap.Metadata = maps.Clone(snap.Metadata)
	return snap
}
