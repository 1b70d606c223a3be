package core

import (
	"errors"
	"fmt"
)

// Role is the conversational author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Kind tags the variant carried by a Message. The set is closed.
type Kind string

const (
	KindSystem        Kind = "system"
	KindUser          Kind = "user"
	KindAssistantText Kind = "assistant_text"
	KindToolRequest   Kind = "tool_request"
	KindToolResult    Kind = "tool_result"
)

// ErrInvalidMessage is returned by Validate for malformed messages.
var ErrInvalidMessage = errors.New("invalid message")

// ToolCallRef describes one model-requested tool invocation.
type ToolCallRef struct {
	ID        string `json:"id"`                // Provider call id, pairs the request with its result
	ItemID    string `json:"item_id,omitempty"` // Provider stream item id (Responses API), may be empty
	Name      string `json:"name"`              // Tool name
	Arguments string `json:"arguments"`         // JSON object encoded as text
}

// ToolResult is the text answer produced for a ToolCallRef.
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Output string `json:"output"`
}

// Message is one turn of a transcript. Exactly one of Content, ToolCalls or
// Result is meaningful, selected by Kind.
type Message struct {
	Kind      Kind          `json:"kind"`
	Content   string        `json:"content,omitempty"`
	ToolCalls []ToolCallRef `json:"tool_calls,omitempty"`
	Result    *ToolResult   `json:"tool_result,omitempty"`
}

// SystemMessage builds a system prompt message.
func SystemMessage(text string) Message { return Message{Kind: KindSystem, Content: text} }

// UserMessage builds a user message.
func UserMessage(text string) Message { return Message{Kind: KindUser, Content: text} }

// AssistantText builds an assistant text message.
func AssistantText(text string) Message { return Message{Kind: KindAssistantText, Content: text} }

// ToolRequest builds an assistant tool request listing calls in order.
func ToolRequest(calls ...ToolCallRef) Message {
	cp := make([]ToolCallRef, len(calls))
	copy(cp, calls)
	return Message{Kind: KindToolRequest, ToolCalls: cp}
}

// ToolResultMessage builds the result message for a single call.
func ToolResultMessage(callID, name, output string) Message {
	return Message{Kind: KindToolResult, Result: &ToolResult{CallID: callID, Name: name, Output: output}}
}

// NewMessage builds a text message for the given role. It is the entry point
// for messages that arrive from outside the tool loop (e.g. injected results).
// Tool results cannot be built this way because they need a call id.
func NewMessage(role Role, content string) (Message, error) {
	switch role {
	case RoleSystem:
		return SystemMessage(content), nil
	case RoleUser:
		return UserMessage(content), nil
	case RoleAssistant:
		return AssistantText(content), nil
	default:
		return Message{}, fmt.Errorf("%w: unsupported role %q", ErrInvalidMessage, role)
	}
}

// Role reports the conversational author implied by Kind.
func (m Message) Role() Role {
	switch m.Kind {
	case KindSystem:
		return RoleSystem
	case KindUser:
		return RoleUser
	case KindToolResult:
		return RoleTool
	default:
		return RoleAssistant
	}
}

// Text returns the text payload for text-bearing kinds and the output for
// tool results.
func (m Message) Text() string {
	if m.Kind == KindToolResult && m.Result != nil {
		return m.Result.Output
	}
	return m.Content
}

// Validate checks that the variant fields are consistent with Kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindSystem, KindUser, KindAssistantText:
		if len(m.ToolCalls) > 0 || m.Result != nil {
			return fmt.Errorf("%w: %s message carries tool data", ErrInvalidMessage, m.Kind)
		}
	case KindToolRequest:
		if len(m.ToolCalls) == 0 {
			return fmt.Errorf("%w: tool request without calls", ErrInvalidMessage)
		}
		for _, c := range m.ToolCalls {
			if c.ID == "" || c.Name == "" {
				return fmt.Errorf("%w: tool call missing id or name", ErrInvalidMessage)
			}
		}
	case KindToolResult:
		if m.Result == nil || m.Result.CallID == "" {
			return fmt.Errorf("%w: tool result without call id", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}
