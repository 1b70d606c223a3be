package core

import (
	"encoding/json"
	"sync"
	"time"
)

// Transcript is the ordered message history of one agent. Messages are only
// ever appended; nothing is removed or reordered. It is safe for concurrent
// readers while the owning agent appends.
//
// Contract:
//   - Append validates every message and appends all or none
//   - Messages returns a defensive copy
//   - the JSON form is an array of messages in arrival order
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
	updated  time.Time
}

// NewTranscript creates a transcript seeded with the given history.
func NewTranscript(history ...Message) *Transcript {
	t := &Transcript{messages: make([]Message, 0, len(history)+8), updated: time.Now()}
	t.messages = append(t.messages, history...)
	return t
}

// Append adds messages at the end of the transcript.
func (t *Transcript) Append(msgs ...Message) error {
	for _, m := range msgs {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msgs...)
	t.updated = time.Now()
	return nil
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Messages returns a copy of the full history.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Since returns a copy of the messages appended at or after index i.
func (t *Transcript) Since(i int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 {
		i = 0
	}
	if i >= len(t.messages) {
		return nil
	}
	out := make([]Message, len(t.messages)-i)
	copy(out, t.messages[i:])
	return out
}

// Last returns the most recent message.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Updated returns the time of the last append.
func (t *Transcript) Updated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}

// UnansweredCalls returns requested tool calls that have no matching result
// yet, in request order.
func (t *Transcript) UnansweredCalls() []ToolCallRef {
	t.mu.RLock()
	defer t.mu.RUnlock()
	answered := map[string]bool{}
	for _, m := range t.messages {
		if m.Kind == KindToolResult && m.Result != nil {
			answered[m.Result.CallID] = true
		}
	}
	var out []ToolCallRef
	for _, m := range t.messages {
		if m.Kind != KindToolRequest {
			continue
		}
		for _, c := range m.ToolCalls {
			if !answered[c.ID] {
				out = append(out, c)
			}
		}
	}
	return out
}

// MarshalJSON encodes the transcript as an array of messages.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Messages())
}

// UnmarshalJSON replaces the content with a decoded array of messages.
func (t *Transcript) UnmarshalJSON(b []byte) error {
	var msgs []Message
	if err := json.Unmarshal(b, &msgs); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = msgs
	t.updated = time.Now()
	return nil
}
