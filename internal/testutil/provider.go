package testutil

import (
	"context"
	"sync"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/wire"
)

// Pass scripts the response to one Open call.
type Pass struct {
	Events  []model.Event
	Err     error // reported by Stream.Err after Events
	OpenErr error // returned by Open instead of a stream
}

// ScriptedProvider replays scripted passes, one per Open call, and records
// the requests it receives. Once the script is exhausted every further call
// answers with "done".
type ScriptedProvider struct {
	mu       sync.Mutex
	name     string
	passes   []Pass
	requests []model.Request
}

// NewScriptedProvider creates a provider named "scripted".
func NewScriptedProvider(passes ...Pass) *ScriptedProvider {
	return &ScriptedProvider{name: "scripted", passes: passes}
}

// Info implements model.Provider.
func (p *ScriptedProvider) Info() model.Info {
	return model.Info{Name: p.name, Protocol: wire.ProtocolSSE}
}

// ProjectTool implements model.Provider.
func (p *ScriptedProvider) ProjectTool(def model.ToolDefinition) model.ToolSchema {
	return model.ToolSchema{"name": def.Name, "description": def.Description, "parameters": def.Parameters}
}

// Open implements model.Provider.
func (p *ScriptedProvider) Open(ctx context.Context, req model.Request) (model.Stream, error) {
	p.mu.Lock()
	req.Transcript = append([]core.Message(nil), req.Transcript...)
	p.requests = append(p.requests, req)
	var pass Pass
	if len(p.passes) > 0 {
		pass, p.passes = p.passes[0], p.passes[1:]
	} else {
		pass = Pass{Events: []model.Event{Text("done")}}
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pass.OpenErr != nil {
		return nil, pass.OpenErr
	}
	return &SliceStream{events: pass.Events, err: pass.Err}, nil
}

// Requests returns the requests received so far.
func (p *ScriptedProvider) Requests() []model.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Request(nil), p.requests...)
}

// SliceStream is a model.Stream over a fixed event slice.
type SliceStream struct {
	events []model.Event
	cur    model.Event
	err    error
	pos    int
	closed bool
}

// NewSliceStream creates a stream that yields events and then reports err.
func NewSliceStream(err error, events ...model.Event) *SliceStream {
	return &SliceStream{events: events, err: err}
}

func (s *SliceStream) Next() bool {
	if s.closed || s.pos >= len(s.events) {
		return false
	}
	s.cur = s.events[s.pos]
	s.pos++
	return true
}

func (s *SliceStream) Event() model.Event { return s.cur }

func (s *SliceStream) Err() error {
	if s.pos < len(s.events) {
		return nil
	}
	return s.err
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SliceStream) Closed() bool { return s.closed }

// Text builds a text delta event.
func Text(s string) model.Event {
	return model.Event{Kind: model.EventTextDelta, Text: s}
}

// Call builds the fragmented event sequence of one function call: announce,
// one delta per fragment, done.
func Call(itemID, callID, name string, fragments ...string) []model.Event {
	evs := []model.Event{{Kind: model.EventItemAdded, ItemID: itemID, CallID: callID, Name: name}}
	for _, f := range fragments {
		evs = append(evs, model.Event{Kind: model.EventArgumentsDelta, ItemID: itemID, Text: f})
	}
	return append(evs, model.Event{Kind: model.EventItemDone, ItemID: itemID})
}

// Events concatenates event groups.
func Events(groups ...[]model.Event) []model.Event {
	var out []model.Event
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
