package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/wire"
)

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the provider-independent input of one model call.
type Request struct {
	Model      string         `json:"model"`
	Transcript []core.Message `json:"transcript"`
	Tools      []ToolSchema   `json:"tools,omitempty"` // Provider projections, see Provider.ProjectTool
}

// ToolSchema is a provider-specific projection of a ToolDefinition.
type ToolSchema = map[string]any

// Info contains metadata about a provider binding.
type Info struct {
	Name     string        `json:"name"` // "openai", "ollama", "anthropic", ...
	Protocol wire.Protocol `json:"protocol"`
}

// EventKind enumerates the uniform events every provider stream is reduced to.
type EventKind int

const (
	// EventTextDelta carries a piece of assistant text.
	EventTextDelta EventKind = iota
	// EventItemAdded announces a function call item (name and call id may be set).
	EventItemAdded
	// EventArgumentsDelta carries one argument fragment for ItemID.
	EventArgumentsDelta
	// EventArgumentsDone signals that the arguments of ItemID are complete.
	EventArgumentsDone
	// EventItemDone signals that the function call item ItemID is complete.
	EventItemDone
	// EventError carries an in-band provider error.
	EventError
	// EventMalformed carries a payload that could not be decoded.
	EventMalformed
)

// String returns a stable name for logs.
func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventItemAdded:
		return "item_added"
	case EventArgumentsDelta:
		return "arguments_delta"
	case EventArgumentsDone:
		return "arguments_done"
	case EventItemDone:
		return "item_done"
	case EventError:
		return "error"
	case EventMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Event is a provider-independent stream event.
type Event struct {
	Kind      EventKind
	Text      string // text delta, argument fragment, error message or raw payload
	ItemID    string
	CallID    string
	Name      string
	Arguments string // full arguments when the provider delivers them in one piece
	Complete  bool   // item arrived fully populated (line-JSON mode)
}

// ErrProtocol wraps in-band provider errors.
var ErrProtocol = errors.New("provider error")

// Stream is a lazy, finite sequence of uniform events for one model call.
type Stream interface {
	Next() bool
	Event() Event
	Err() error
	Close() error
}

// Provider is the model boundary consumed by the tool loop. Each binding owns
// an explicitly constructed vendor client; there is no process-wide client.
type Provider interface {
	Info() Info
	// ProjectTool derives the provider-specific schema for a tool definition.
	ProjectTool(def ToolDefinition) ToolSchema
	// Open starts a streaming call. Transport failures (connection errors,
	// non-2xx status) are returned here or through Stream.Err; they are never
	// retried.
	Open(ctx context.Context, req Request) (Stream, error)
}

// Dialect translates provider-native wire events into uniform events.
type Dialect interface {
	Translate(ev wire.Event) []Event
}

// DialectFunc adapts a function to Dialect.
type DialectFunc func(ev wire.Event) []Event

// Translate implements Dialect.
func (f DialectFunc) Translate(ev wire.Event) []Event { return f(ev) }

// decodedStream adapts a wire.Decoder plus Dialect into a Stream.
type decodedStream struct {
	dec     wire.Decoder
	dialect Dialect
	pending []Event
	cur     Event
}

// NewStream builds a Stream over a decoder. Malformed payloads are surfaced
// as EventMalformed without consulting the dialect.
func NewStream(dec wire.Decoder, dialect Dialect) Stream {
	return &decodedStream{dec: dec, dialect: dialect}
}

func (s *decodedStream) Next() bool {
	for len(s.pending) == 0 {
		if !s.dec.Next() {
			return false
		}
		ev := s.dec.Event()
		if ev.Malformed {
			s.pending = append(s.pending, Event{Kind: EventMalformed, Text: ev.Raw})
			continue
		}
		s.pending = append(s.pending, s.dialect.Translate(ev)...)
	}
	s.cur = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

func (s *decodedStream) Event() Event { return s.cur }

func (s *decodedStream) Err() error { return s.dec.Err() }

func (s *decodedStream) Close() error { return s.dec.Close() }

// ParseArguments decodes a JSON object of arguments. Empty or invalid input
// yields an empty object.
func ParseArguments(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// NormalizeArguments returns raw when it encodes a JSON object and "{}" otherwise.
func NormalizeArguments(raw string) string {
	var probe map[string]any
	if raw == "" || json.Unmarshal([]byte(raw), &probe) != nil || probe == nil {
		return "{}"
	}
	return raw
}

// ProtocolError builds the error reported for an in-band provider error event.
func ProtocolError(provider, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrProtocol, provider, msg)
}
