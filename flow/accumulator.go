package flow

import (
	"strings"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/Aidanwa/smart-home/model"
)

// Record is the in-progress state of one function call item during a single
// streaming pass.
type Record struct {
	ItemID    string
	Name      string
	CallID    string
	Fragments []string
	Full      string // arguments delivered in one piece, used when no fragments arrived
	Ready     bool
}

// Arguments returns the assembled, normalized argument JSON.
func (r *Record) Arguments() string {
	raw := strings.Join(r.Fragments, "")
	if raw == "" {
		raw = r.Full
	}
	return model.NormalizeArguments(raw)
}

// Accumulator reassembles function calls from uniform stream events. Records
// live in an arena keyed by item id and are reported in first-seen order.
type Accumulator struct {
	records []*Record
	index   map[string]int
	logger  logging.Logger
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator(logger logging.Logger) *Accumulator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Accumulator{index: map[string]int{}, logger: logger}
}

func (a *Accumulator) record(itemID string, create bool) *Record {
	if i, ok := a.index[itemID]; ok {
		return a.records[i]
	}
	if !create {
		return nil
	}
	r := &Record{ItemID: itemID}
	a.index[itemID] = len(a.records)
	a.records = append(a.records, r)
	return r
}

// Observe folds one event into the arena. Events that do not concern
// function call items are ignored.
func (a *Accumulator) Observe(ev model.Event) {
	if ev.ItemID == "" {
		return
	}

	switch ev.Kind {
	case model.EventItemAdded:
		r := a.record(ev.ItemID, true)
		fill(r, ev)
		if ev.Complete {
			if ev.Arguments != "" {
				r.Full = ev.Arguments
			}
			r.Ready = true
		}
	case model.EventArgumentsDelta:
		r := a.record(ev.ItemID, true)
		if ev.Text != "" {
			r.Fragments = append(r.Fragments, ev.Text)
		}
	case model.EventArgumentsDone, model.EventItemDone:
		r := a.record(ev.ItemID, false)
		if r == nil {
			return
		}
		fill(r, ev)
		if ev.Arguments != "" && r.Full == "" {
			r.Full = ev.Arguments
		}
		r.Ready = true
	}
}

// fill sets name and call id when the record does not have them yet.
func fill(r *Record, ev model.Event) {
	if r.Name == "" {
		r.Name = strings.TrimSpace(ev.Name)
	}
	if r.CallID == "" {
		r.CallID = ev.CallID
	}
}

// Ready returns the ready calls in first-seen order. Records missing a name
// or call id are dropped.
func (a *Accumulator) Ready() []core.ToolCallRef {
	var calls []core.ToolCallRef
	for _, r := range a.records {
		if !r.Ready {
			continue
		}
		if r.Name == "" || r.CallID == "" {
			a.logger.Warn("loop.call.incomplete", "item_id", r.ItemID, "name", r.Name, "call_id", r.CallID)
			continue
		}
		calls = append(calls, core.ToolCallRef{
			ID:        r.CallID,
			ItemID:    r.ItemID,
			Name:      r.Name,
			Arguments: r.Arguments(),
		})
	}
	return calls
}

// Records returns copies of all records in first-seen order.
func (a *Accumulator) Records() []Record {
	out := make([]Record, len(a.records))
	for i, r := range a.records {
		out[i] = *r
		out[i].Fragments = append([]string(nil), r.Fragments...)
	}
	return out
}
