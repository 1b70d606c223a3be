package wire

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// LineDecoder decodes newline-delimited JSON objects.
type LineDecoder struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	cur     Event
	err     error
	closed  bool
}

// NewLineDecoder creates a decoder that treats every non-empty line as one
// JSON object.
func NewLineDecoder(rc io.ReadCloser) *LineDecoder {
	s := bufio.NewScanner(rc)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &LineDecoder{rc: rc, scanner: s}
}

// Next advances to the next non-empty line.
func (d *LineDecoder) Next() bool {
	if d.err != nil || d.closed {
		return false
	}
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		d.cur = newEvent("", line)
		return true
	}
	if err := d.scanner.Err(); err != nil {
		d.err = fmt.Errorf("read ndjson stream: %w", err)
	}
	return false
}

// Event returns the current event.
func (d *LineDecoder) Event() Event { return d.cur }

// Err returns the transport error that stopped decoding, if any.
func (d *LineDecoder) Err() error { return d.err }

// Close releases the underlying stream. It is safe to call more than once.
func (d *LineDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.rc.Close()
}

func newEvent(typ, payload string) Event {
	if !gjson.Valid(payload) {
		return Event{Type: typ, Raw: payload, Malformed: true}
	}
	return Event{Type: typ, Data: []byte(payload), Raw: payload}
}
