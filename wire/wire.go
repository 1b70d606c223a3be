// Package wire turns raw provider byte streams into discrete provider-native
// events. Two framings are supported behind one Decoder interface:
//
//   - ProtocolNDJSON: one complete JSON object per non-empty line
//   - ProtocolSSE: Server-Sent Events grouped by blank lines, with comments,
//     multi-line data and a literal [DONE] termination sentinel
//
// A decoder is a pull iterator and is not restartable; open a new stream to
// decode again. Malformed JSON payloads never fail decoding; they surface as
// events with Malformed set so callers can decide policy.
package wire

import (
	"encoding/json"
	"fmt"
	"io"
)

// Protocol selects the framing used by a provider stream.
type Protocol string

const (
	ProtocolNDJSON Protocol = "ndjson"
	ProtocolSSE    Protocol = "sse"
)

// DoneSentinel terminates an SSE stream when sent as a data payload.
const DoneSentinel = "[DONE]"

const maxLineSize = 1024 * 1024 // 1MB max line size

// Event is one decoded frame.
type Event struct {
	Type      string          // SSE event field; empty for NDJSON lines
	Data      json.RawMessage // Valid JSON payload, nil when Malformed
	Raw       string          // Payload text as received
	Malformed bool            // Payload was not valid JSON
}

// Decoder yields events from a stream until it ends or fails.
//
//	for dec.Next() {
//	  ev := dec.Event()
//	}
//	if err := dec.Err(); err != nil { ... }
type Decoder interface {
	Next() bool
	Event() Event
	Err() error
	Close() error
}

// NewDecoder returns the decoder variant for protocol.
func NewDecoder(protocol Protocol, rc io.ReadCloser) (Decoder, error) {
	switch protocol {
	case ProtocolNDJSON:
		return NewLineDecoder(rc), nil
	case ProtocolSSE:
		return NewSSEDecoder(rc), nil
	default:
		return nil, fmt.Errorf("unknown wire protocol %q", protocol)
	}
}
