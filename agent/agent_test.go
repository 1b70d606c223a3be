package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/flow"
	"github.com/Aidanwa/smart-home/internal/testutil"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/session"
	"github.com/Aidanwa/smart-home/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clock = time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)

func newTestAgent(t *testing.T, p *testutil.ScriptedProvider, optFns ...func(o *Options)) *Agent {
	t.Helper()
	base := func(o *Options) {
		o.ID = "agent-1"
		o.Type = "home"
		o.Model = "test-model"
		o.Now = func() time.Time { return clock }
	}
	a, err := New(p, append([]func(o *Options){base}, optFns...)...)
	require.NoError(t, err)
	return a
}

func kinds(msgs []core.Message) []core.Kind {
	out := make([]core.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Kind
	}
	return out
}

func textPass(parts ...string) testutil.Pass {
	evs := make([]model.Event, len(parts))
	for i, s := range parts {
		evs[i] = testutil.Text(s)
	}
	return testutil.Pass{Events: evs}
}

func TestNew_SystemPrompt(t *testing.T) {
	t.Run("static with time", func(t *testing.T) {
		a := newTestAgent(t, testutil.NewScriptedProvider(), func(o *Options) {
			o.Instruction = NewInstructionFromText("You run the house.")
			o.IncludeTime = true
		})
		msgs := a.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, core.SystemMessage("You run the house. It is 2025-01-02T15:04"), msgs[0])
	})

	t.Run("empty instruction adds nothing", func(t *testing.T) {
		a := newTestAgent(t, testutil.NewScriptedProvider(), func(o *Options) { o.IncludeTime = true })
		assert.Empty(t, a.Messages())
	})

	t.Run("dynamic instruction sees agent info", func(t *testing.T) {
		a := newTestAgent(t, testutil.NewScriptedProvider(), func(o *Options) {
			o.Instruction = NewInstructionFromFunc(func(ic InstructionContext) (string, error) {
				return ic.AgentType + "/" + ic.AgentID, nil
			})
		})
		assert.Equal(t, "home/agent-1", a.Messages()[0].Content)
	})

	t.Run("history restored after system prompt", func(t *testing.T) {
		a := newTestAgent(t, testutil.NewScriptedProvider(), func(o *Options) {
			o.Instruction = NewInstructionFromText("sys")
			o.History = []core.Message{core.UserMessage("hi"), core.AssistantText("hello")}
		})
		assert.Equal(t, []core.Kind{core.KindSystem, core.KindUser, core.KindAssistantText}, kinds(a.Messages()))
	})
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	dup := func(o *Options) {
		o.Tools = []tool.Tool{echoTool("lamp"), echoTool("lamp")}
	}
	_, err = New(testutil.NewScriptedProvider(), dup)
	assert.ErrorIs(t, err, tool.ErrDuplicateTool)
}

func TestAgent_Run(t *testing.T) {
	p := testutil.NewScriptedProvider(textPass("Hello", ", world"))
	a := newTestAgent(t, p)

	res := a.Run(context.Background(), "hi")
	require.NoError(t, res.Err)
	assert.Equal(t, flow.StateDone, res.State)
	assert.Equal(t, "Hello, world", res.Text)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, []core.Kind{core.KindUser, core.KindAssistantText}, kinds(a.Messages()))

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "test-model", reqs[0].Model)
}

func TestTurn_Fragments(t *testing.T) {
	a := newTestAgent(t, testutil.NewScriptedProvider(textPass("a", "b")))
	turn := a.Stream(context.Background(), "go")

	var got []string
	for f := range turn.Fragments() {
		got = append(got, f)
	}
	assert.Equal(t, []string{"a", "b"}, got)

	var again []string
	for f := range turn.Fragments() {
		again = append(again, f)
	}
	assert.Empty(t, again, "fragments are not restartable")

	res := turn.Result()
	assert.Equal(t, flow.StateDone, res.State)
	assert.Equal(t, "ab", res.Text)
}

func TestTurn_LazyUntilConsumed(t *testing.T) {
	p := testutil.NewScriptedProvider(textPass("x"))
	a := newTestAgent(t, p)

	turn := a.Stream(context.Background(), "go")
	assert.Empty(t, p.Requests())
	assert.Equal(t, "x", turn.Result().Text)
	assert.Len(t, p.Requests(), 1)
}

func TestTurn_ResultWaitsForConsumer(t *testing.T) {
	a := newTestAgent(t, testutil.NewScriptedProvider(textPass("a", "b")))
	turn := a.Stream(context.Background(), "hi")

	first := make(chan struct{})
	release := make(chan struct{})
	var got []string
	go func() {
		for f := range turn.Fragments() {
			got = append(got, f)
			if len(got) == 1 {
				close(first)
				<-release
			}
		}
	}()

	<-first
	results := make(chan TurnResult, 1)
	go func() { results <- turn.Result() }()

	select {
	case <-results:
		t.Fatal("Result returned while the consumer was still ranging")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	res := <-results
	assert.Equal(t, "ab", res.Text)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestTurn_Abort(t *testing.T) {
	a := newTestAgent(t, testutil.NewScriptedProvider(textPass("one ", "two ", "three")))
	turn := a.Stream(context.Background(), "count")

	for range turn.Fragments() {
		break
	}
	res := turn.Result()
	assert.Equal(t, flow.StateError, res.State)
	assert.ErrorIs(t, res.Err, flow.ErrAborted)
	assert.False(t, a.Busy())

	last := a.Messages()[len(a.Messages())-1]
	assert.Equal(t, core.AssistantText("one "), last)
}

func echoTool(name string) tool.Tool {
	return tool.NewFunctionTool(name, "echo", map[string]any{"type": "object"}, func(_ *tool.Context, args map[string]any) (any, error) {
		return args, nil
	})
}

func TestAgent_ToolRound(t *testing.T) {
	p := testutil.NewScriptedProvider(
		testutil.Pass{Events: testutil.Call("fc_1", "call_1", "lamp", `{"on":`, `true}`)},
		textPass("Lamp is on."),
	)
	a := newTestAgent(t, p, func(o *Options) { o.Tools = []tool.Tool{echoTool("lamp")} })

	res := a.Run(context.Background(), "lamp on")
	require.NoError(t, res.Err)
	assert.Equal(t, flow.StateDone, res.State)
	assert.Equal(t, 1, res.Iterations)

	msgs := a.Messages()
	assert.Equal(t, []core.Kind{core.KindUser, core.KindToolRequest, core.KindToolResult, core.KindAssistantText}, kinds(msgs))
	assert.Equal(t, `{"on":true}`, msgs[2].Result.Output)
	assert.Equal(t, "call_1", msgs[2].Result.CallID)
}

func TestAgent_DeliverIdle(t *testing.T) {
	a := newTestAgent(t, testutil.NewScriptedProvider())

	require.NoError(t, a.Deliver(core.AssistantText("from zigbee")))
	assert.Equal(t, []core.Message{core.AssistantText("from zigbee")}, a.Messages())

	err := a.Deliver(core.Message{Kind: core.KindToolRequest})
	assert.ErrorIs(t, err, core.ErrInvalidMessage)
	assert.Len(t, a.Messages(), 1)
}

func TestAgent_DeliverDuringTurnEndsTurn(t *testing.T) {
	p := testutil.NewScriptedProvider(
		testutil.Pass{Events: testutil.Call("fc_1", "call_1", "notify")},
		textPass("should not be requested"),
	)

	var a *Agent
	notify := tool.NewFunctionTool("notify", "inject", map[string]any{"type": "object"}, func(_ *tool.Context, _ map[string]any) (any, error) {
		require.True(t, a.Busy())
		require.NoError(t, a.Deliver(core.AssistantText("The lamp is on.")))
		assert.Len(t, a.Messages(), 2, "queued while the turn runs")
		return "sent", nil
	})
	a = newTestAgent(t, p, func(o *Options) { o.Tools = []tool.Tool{notify} })

	res := a.Run(context.Background(), "lamp on")
	require.NoError(t, res.Err)
	assert.Equal(t, flow.StateDone, res.State)
	assert.Equal(t, "The lamp is on.", res.Text)
	assert.Len(t, p.Requests(), 1)
	assert.Equal(t, []core.Kind{core.KindUser, core.KindToolRequest, core.KindToolResult, core.KindAssistantText}, kinds(a.Messages()))
}

func TestAgent_TurnInProgress(t *testing.T) {
	p := testutil.NewScriptedProvider(testutil.Pass{Events: testutil.Call("fc_1", "call_1", "reenter")})

	var (
		a      *Agent
		nested TurnResult
	)
	reenter := tool.NewFunctionTool("reenter", "nested turn", map[string]any{"type": "object"}, func(tc *tool.Context, _ map[string]any) (any, error) {
		nested = a.Run(tc.Context(), "again")
		return "ok", nil
	})
	a = newTestAgent(t, p, func(o *Options) { o.Tools = []tool.Tool{reenter} })

	res := a.Run(context.Background(), "start")
	require.NoError(t, res.Err)
	assert.ErrorIs(t, nested.Err, ErrTurnInProgress)
	assert.Equal(t, flow.StateError, nested.State)
}

func TestAgent_SnapshotSavedAfterTurn(t *testing.T) {
	sink := session.NewInMemorySink()
	a := newTestAgent(t, testutil.NewScriptedProvider(textPass("ok")), func(o *Options) { o.Sink = sink })

	ctx, cancel := context.WithCancel(context.Background())
	res := a.Run(ctx, "hi")
	cancel()
	require.NoError(t, res.Err)

	saved := sink.Agents()
	require.Len(t, saved, 1)
	assert.Equal(t, session.AgentSnapshot{
		AgentID:   "agent-1",
		AgentType: "home",
		Provider:  "scripted",
		Model:     "test-model",
		Timestamp: clock,
		Messages:  []core.Message{core.UserMessage("hi"), core.AssistantText("ok")},
	}, saved[0])
}

type recordingObserver struct {
	mu     sync.Mutex
	models int
	tools  []string
	turns  []flow.State
}

func (o *recordingObserver) ObserveModelCall(string, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.models++
}

func (o *recordingObserver) ObserveTurn(state flow.State, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = append(o.turns, state)
}

func (o *recordingObserver) ObserveToolCall(name string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, name)
}

func TestAgent_Observer(t *testing.T) {
	obs := &recordingObserver{}
	p := testutil.NewScriptedProvider(testutil.Pass{Events: testutil.Call("fc_1", "call_1", "lamp", `{}`)})
	a := newTestAgent(t, p, func(o *Options) {
		o.Tools = []tool.Tool{echoTool("lamp")}
		o.Observer = obs
	})

	a.Run(context.Background(), "go")
	assert.Equal(t, 2, obs.models)
	assert.Equal(t, []string{"lamp"}, obs.tools)
	assert.Equal(t, []flow.State{flow.StateDone}, obs.turns)
}
