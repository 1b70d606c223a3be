package delegate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Aidanwa/smart-home/agent"
	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/flow"
	"github.com/Aidanwa/smart-home/internal/testutil"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/session"
	"github.com/Aidanwa/smart-home/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zigbeeFactory(passes ...testutil.Pass) Factory {
	return func(_ context.Context, persona string) (*agent.Agent, error) {
		return agent.New(testutil.NewScriptedProvider(passes...), func(o *agent.Options) {
			o.Type = persona
		})
	}
}

func textEvents(parts ...string) []model.Event {
	evs := make([]model.Event, len(parts))
	for i, p := range parts {
		evs[i] = testutil.Text(p)
	}
	return evs
}

func TestDelegate_InjectsIntoPrimary(t *testing.T) {
	sess := session.New()

	var (
		mu        sync.Mutex
		fragments []string
	)
	call := NewTool(sess, "zigbee", zigbeeFactory(testutil.Pass{Events: textEvents("Lamp ", "is on.")}), func(o *Options) {
		o.OnFragment = func(persona, f string) {
			mu.Lock()
			defer mu.Unlock()
			fragments = append(fragments, persona+":"+f)
		}
	})

	p := testutil.NewScriptedProvider(
		testutil.Pass{Events: testutil.Call("fc_1", "call_1", ToolName("zigbee"), `{"query":"turn on the lamp"}`)},
	)
	home, err := agent.New(p, func(o *agent.Options) {
		o.Type = "home"
		o.Tools = []tool.Tool{call}
	})
	require.NoError(t, err)
	sess.SetPrimary(home)

	res := home.Run(context.Background(), "lamp on please")
	require.NoError(t, res.Err)
	assert.Equal(t, flow.StateDone, res.State)
	assert.Equal(t, "Lamp is on.", res.Text)
	assert.Len(t, p.Requests(), 1, "injected answer ends the turn")
	assert.Equal(t, []string{"zigbee:Lamp ", "zigbee:is on."}, fragments)

	msgs := home.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "Lamp is on.", msgs[2].Result.Output)
	assert.Equal(t, core.AssistantText("Lamp is on."), msgs[3])

	subs := sess.Subagents()
	require.Len(t, subs, 1)
	assert.Equal(t, "zigbee", subs[0].Type())
	snap := subs[0].Snapshot()
	assert.Equal(t, []core.Message{core.UserMessage("turn on the lamp"), core.AssistantText("Lamp is on.")}, snap.Messages)
}

func invoke(t *testing.T, tl tool.Tool, args map[string]any) string {
	t.Helper()
	out, err := tl.Call(tool.NewContext(context.Background(), "call_1", tool.AgentInfo{Type: "home"}, nil), args)
	require.NoError(t, err)
	return out.(string)
}

func TestDelegate_NoPrimary(t *testing.T) {
	sess := session.New()
	call := NewTool(sess, "zigbee", zigbeeFactory(testutil.Pass{Events: textEvents("ok")}))

	out := invoke(t, call, map[string]any{"query": "status"})
	assert.Equal(t, "Error: "+session.ErrNoPrimaryAgent.Error(), out)
	assert.Len(t, sess.Subagents(), 1)
}

func TestDelegate_Failures(t *testing.T) {
	sess := session.New()

	t.Run("factory", func(t *testing.T) {
		call := NewTool(sess, "zigbee", func(context.Context, string) (*agent.Agent, error) {
			return nil, errors.New("bridge unreachable")
		})
		assert.Equal(t, "Error: create zigbee agent: bridge unreachable", invoke(t, call, map[string]any{"query": "x"}))
	})

	t.Run("transport", func(t *testing.T) {
		call := NewTool(sess, "zigbee", zigbeeFactory(testutil.Pass{OpenErr: errors.New("connection refused")}))
		assert.Equal(t, "Error: connection refused", invoke(t, call, map[string]any{"query": "x"}))
	})

	t.Run("empty answer", func(t *testing.T) {
		call := NewTool(sess, "zigbee", zigbeeFactory(testutil.Pass{}))
		assert.Equal(t, "Error: zigbee agent returned no answer (done)", invoke(t, call, map[string]any{"query": "x"}))
	})

	t.Run("no session", func(t *testing.T) {
		call := NewTool(nil, "zigbee", zigbeeFactory())
		assert.Equal(t, "Error: no session available", invoke(t, call, map[string]any{"query": "x"}))
	})
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "call_zigbee_agent", ToolName("zigbee"))
	assert.Equal(t, "call_zigbee_agent", NewTool(nil, "zigbee", zigbeeFactory()).Name())
}
