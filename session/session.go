package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/google/uuid"
)

// ErrNoPrimaryAgent is returned when a message is injected into a session
// that has no primary agent.
var ErrNoPrimaryAgent = errors.New("no primary agent registered in session")

// Member is an agent taking part in a session.
type Member interface {
	ID() string
	Type() string
	Snapshot() AgentSnapshot
	// Deliver hands msg to the agent. It is appended immediately when the
	// agent is idle and at the next safe point of a running turn otherwise.
	Deliver(msg core.Message) error
}

// AgentSnapshot is the persisted form of one agent transcript.
type AgentSnapshot struct {
	AgentID   string         `json:"agent_id"`
	AgentType string         `json:"agent_type"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Timestamp time.Time      `json:"timestamp"`
	Messages  []core.Message `json:"messages"`
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	SessionID string                   `json:"session_id"`
	CreatedAt time.Time                `json:"created_at"`
	Primary   *AgentSnapshot           `json:"primary_agent"`
	Subagents map[string]AgentSnapshot `json:"subagents"`
	Metadata  map[string]any           `json:"metadata"`
}

// Options configure a Session.
type Options struct {
	ID       string // generated when empty
	Metadata map[string]any
	Sink     Sink
	Logger   logging.Logger
	Now      func() time.Time
}

// Session is the coordinator shared by the agents of one conversation.
type Session struct {
	id        string
	createdAt time.Time
	sink      Sink
	logger    logging.Logger

	mu        sync.RWMutex
	primary   Member
	subagents map[string]Member
	order     []string
	metadata  map[string]any
}

// New creates an empty session.
func New(optFns ...func(o *Options)) *Session {
	opts := Options{Logger: logging.NoOpLogger{}, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	s := &Session{
		id:        opts.ID,
		createdAt: opts.Now(),
		sink:      opts.Sink,
		subagents: map[string]Member{},
		metadata:  map[string]any{},
	}
	maps.Copy(s.metadata, opts.Metadata)
	s.logger = logging.With(opts.Logger, "session_id", s.id)
	return s
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// SetMetadata stores a metadata value.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.metadata)
}

// SetPrimary makes m the agent that owns the user-facing transcript.
func (s *Session) SetPrimary(m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primary = m
	s.logger.Debug("session.primary.set", "agent_id", m.ID(), "agent_type", m.Type())
}

// Primary returns the primary agent, if any.
func (s *Session) Primary() (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary, s.primary != nil
}

// RegisterSubagent records m under its id. Registering the same id again
// replaces the previous member.
func (s *Session) RegisterSubagent(m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subagents[m.ID()]; !ok {
		s.order = append(s.order, m.ID())
	}
	s.subagents[m.ID()] = m
	s.logger.Debug("session.subagent.registered", "agent_id", m.ID(), "agent_type", m.Type())
}

// Subagent looks up a registered subagent.
func (s *Session) Subagent(id string) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.subagents[id]
	return m, ok
}

// Subagents returns the registered subagents in registration order.
func (s *Session) Subagents() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.subagents[id])
	}
	return out
}

// InjectIntoPrimary delivers a message with the given role to the primary
// agent. Nothing is delivered when the session has no primary or the role
// is not a conversational one.
func (s *Session) InjectIntoPrimary(role core.Role, content string) error {
	msg, err := core.NewMessage(role, content)
	if err != nil {
		return fmt.Errorf("inject into primary: %w", err)
	}

	primary, ok := s.Primary()
	if !ok {
		s.logger.Warn("session.inject.no_primary", "role", string(role))
		return ErrNoPrimaryAgent
	}

	if err := primary.Deliver(msg); err != nil {
		return fmt.Errorf("inject into primary %s: %w", primary.ID(), err)
	}
	s.logger.Info("session.inject", "agent_id", primary.ID(), "role", string(role), "chars", len(content))
	return nil
}

// Snapshot captures the session and all member transcripts.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	primary := s.primary
	members := make([]Member, 0, len(s.order))
	for _, id := range s.order {
		members = append(members, s.subagents[id])
	}
	meta := maps.Clone(s.metadata)
	s.mu.RUnlock()

	snap := Snapshot{
		SessionID: s.id,
		CreatedAt: s.createdAt,
		Subagents: make(map[string]AgentSnapshot, len(members)),
		Metadata:  meta,
	}
	if primary != nil {
		p := primary.Snapshot()
		snap.Primary = &p
	}
	for _, m := range members {
		snap.Subagents[m.ID()] = m.Snapshot()
	}
	return snap
}

// Save persists the session snapshot through the configured sink. It is a
// no-op without a sink.
func (s *Session) Save(ctx context.Context) error {
	if s.sink == nil {
		return nil
	}
	if err := s.sink.SaveSession(ctx, s.Snapshot()); err != nil {
		s.logger.Error("session.save.failed", "error", err.Error())
		return fmt.Errorf("save session %s: %w", s.id, err)
	}
	s.logger.Debug("session.saved")
	return nil
}
