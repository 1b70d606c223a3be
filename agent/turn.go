package agent

import (
	"context"
	"iter"
	"sync"

	"github.com/Aidanwa/smart-home/flow"
)

// TurnResult summarizes a finished turn.
type TurnResult struct {
	Text       string // all fragments, concatenated
	State      flow.State
	Iterations int
	Err        error
}

// Turn is one started conversation turn. Its fragments can be consumed once.
type Turn struct {
	ctx    context.Context
	agent  *Agent
	prompt string

	once   sync.Once
	done   chan struct{}
	result TurnResult
}

func newTurn(ctx context.Context, a *Agent, prompt string) *Turn {
	return &Turn{ctx: ctx, agent: a, prompt: prompt, done: make(chan struct{})}
}

// Fragments returns the text fragments of the turn as they stream. The
// sequence runs the turn; breaking out of the loop aborts it. Later
// iterations yield nothing.
func (t *Turn) Fragments() iter.Seq[string] {
	return func(yield func(string) bool) {
		t.once.Do(func() {
			defer close(t.done)
			t.result = t.agent.runTurn(t.ctx, t.prompt, yield)
		})
	}
}

// Result drives the turn to completion if nobody consumed it yet and
// returns the outcome. When another goroutine is consuming the fragments,
// Result waits for it to finish.
//
// Result must not be called from inside a range over Fragments on the
// consuming goroutine: the turn cannot finish while its own loop body
// waits for it, so that call never returns. Call it after the loop.
func (t *Turn) Result() TurnResult {
	t.once.Do(func() {
		defer close(t.done)
		t.result = t.agent.runTurn(t.ctx, t.prompt, func(string) bool { return true })
	})
	<-t.done
	return t.result
}
