package wire

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// SSEDecoder decodes Server-Sent Events.
type SSEDecoder struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	cur     Event
	err     error
	done    bool
	closed  bool

	eventType string
	dataLines []string
}

// NewSSEDecoder creates a decoder for a text/event-stream body.
func NewSSEDecoder(rc io.ReadCloser) *SSEDecoder {
	s := bufio.NewScanner(rc)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &SSEDecoder{rc: rc, scanner: s}
}

// Next advances to the next event carrying data. It returns false at EOF,
// after the [DONE] sentinel, or on a read failure.
func (d *SSEDecoder) Next() bool {
	if d.done || d.err != nil || d.closed {
		return false
	}
	for d.scanner.Scan() {
		line := strings.TrimPrefix(d.scanner.Text(), "\ufeff")

		if line == "" {
			emitted := d.flush()
			d.eventType = ""
			if emitted {
				return true
			}
			if d.done {
				return false
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue // heartbeat
		}

		field, value := parseLine(line)
		switch field {
		case "event":
			d.eventType = strings.TrimSpace(value)
		case "data":
			d.dataLines = append(d.dataLines, value)
		case "id", "retry":
		default:
			// Lines without a known field continue the data payload.
			d.dataLines = append(d.dataLines, strings.TrimSpace(line))
		}
	}
	if err := d.scanner.Err(); err != nil {
		d.err = fmt.Errorf("read sse stream: %w", err)
		return false
	}
	// Flush an event left open by a stream that ends without a blank line.
	if d.flush() {
		return true
	}
	d.done = true
	return false
}

// flush emits the pending event, reporting whether one was produced.
func (d *SSEDecoder) flush() bool {
	if len(d.dataLines) == 0 {
		return false
	}
	payload := strings.Join(d.dataLines, "\n")
	d.dataLines = d.dataLines[:0]
	if strings.TrimSpace(payload) == DoneSentinel {
		d.done = true
		return false
	}
	d.cur = newEvent(d.eventType, payload)
	return true
}

// Event returns the current event.
func (d *SSEDecoder) Event() Event { return d.cur }

// Err returns the transport error that stopped decoding, if any.
func (d *SSEDecoder) Err() error { return d.err }

// Close releases the underlying stream. It is safe to call more than once.
func (d *SSEDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.rc.Close()
}

// parseLine splits an SSE line into field name and value.
func parseLine(line string) (string, string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return line, ""
	}

	field := line[:idx]
	value := line[idx+1:]

	// Strip optional leading space after colon.
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}

	return field, value
}
