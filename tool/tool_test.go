package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- FunctionTool Tests --------------------

func testContext() *Context {
	return NewContext(context.Background(), "fc1", AgentInfo{ID: "a1", Type: "test"}, nil)
}

func TestFunctionTool_Success(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}

	sumTool := NewFunctionTool("sum", "Add numbers", params, func(_ *Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})

	result, err := sumTool.Call(testContext(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	params := map[string]any{
		"type":       "object",
		"properties": map[string]any{"a": map[string]any{"type": "number"}},
		"required":   []any{"a"},
	}
	tTool := NewFunctionTool("test", "Test", params, func(_ *Context, _ map[string]any) (any, error) {
		return 0, nil
	})
	_, err := tTool.Call(testContext(), map[string]any{})
	require.Error(t, err)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeValidation, toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	execTool := NewFunctionTool("fail", "Fails", map[string]any{"type": "object"}, func(_ *Context, _ map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	_, err := execTool.Call(testContext(), map[string]any{})
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Equal(t, "boom", toolErr.Message)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type args struct {
		Name string `json:"name"`
	}
	ft := NewFunctionToolFromStruct("hello", "Say hello", args{}, func(_ *Context, a map[string]any) (any, error) {
		return "hello " + a["name"].(string), nil
	})
	assert.Equal(t, []string{"name"}, ft.Parameters()["required"])
	out, err := ft.Call(testContext(), map[string]any{"name": "lamp"})
	require.NoError(t, err)
	assert.Equal(t, "hello lamp", out)
}

func TestToolErrorFormatting(t *testing.T) {
	err := NewToolError("demo", "something failed", "E123")
	assert.Contains(t, err.Error(), "E123")
	assert.Contains(t, err.Error(), "demo")
}

// -------------------- Registry Tests --------------------

type countingProvider struct {
	name      string
	projected atomic.Int32
}

func (p *countingProvider) Info() model.Info {
	return model.Info{Name: p.name, Protocol: wire.ProtocolSSE}
}

func (p *countingProvider) ProjectTool(def model.ToolDefinition) model.ToolSchema {
	p.projected.Add(1)
	return model.ToolSchema{"name": def.Name, "provider": p.name}
}

func (p *countingProvider) Open(context.Context, model.Request) (model.Stream, error) {
	return nil, errors.New("not implemented")
}

func echoTool(name string) Tool {
	return NewFunctionTool(name, "echo", map[string]any{"type": "object"}, func(_ *Context, args map[string]any) (any, error) {
		return args, nil
	})
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(echoTool("b"), echoTool("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, r.Names())
	assert.Equal(t, 2, r.Len())

	err = r.Register(echoTool("a"))
	assert.ErrorIs(t, err, ErrDuplicateTool)

	got, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name())
	_, ok = r.Lookup("A")
	assert.False(t, ok, "lookup is exact")

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].Name)
}

func TestRegistry_SchemasCachedPerProvider(t *testing.T) {
	r, err := NewRegistry(echoTool("x"), echoTool("y"))
	require.NoError(t, err)

	p := &countingProvider{name: "p1"}
	first := r.Schemas(p)
	second := r.Schemas(p)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(2), p.projected.Load())

	other := &countingProvider{name: "p2"}
	assert.Equal(t, "p2", r.Schemas(other)[0]["provider"])

	require.NoError(t, r.Register(echoTool("z")))
	assert.Len(t, r.Schemas(p), 3)
	assert.Equal(t, int32(5), p.projected.Load())
}

// -------------------- Executor Tests --------------------

type mockTool struct {
	name     string
	delay    time.Duration
	result   any
	err      error
	panicMsg any
}

func (mt *mockTool) Name() string               { return mt.name }
func (mt *mockTool) Description() string        { return "mock tool" }
func (mt *mockTool) Parameters() map[string]any { return map[string]any{} }
func (mt *mockTool) Call(tc *Context, _ map[string]any) (any, error) {
	if mt.delay > 0 {
		select {
		case <-time.After(mt.delay):
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}
	if mt.panicMsg != nil {
		panic(mt.panicMsg)
	}
	return mt.result, mt.err
}

type recordingObserver struct {
	mu    sync.Mutex
	tools []string
	errs  int
}

func (o *recordingObserver) ObserveToolCall(tool string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tools = append(o.tools, tool)
	if err != nil {
		o.errs++
	}
}

func TestExecutor_OrderAndFaults(t *testing.T) {
	r, err := NewRegistry(
		&mockTool{name: "slow", delay: 30 * time.Millisecond, result: "slow-done"},
		&mockTool{name: "fast", result: map[string]any{"html": "<b>"}},
		&mockTool{name: "fails", err: errors.New("device unreachable")},
		&mockTool{name: "panics", panicMsg: "kaboom"},
	)
	require.NoError(t, err)

	obs := &recordingObserver{}
	exec := NewExecutor(r, func(o *ExecutorOptions) {
		o.MaxParallel = 4
		o.Observer = obs
	})

	calls := []core.ToolCallRef{
		{ID: "c1", Name: "slow", Arguments: `{}`},
		{ID: "c2", Name: "fast", Arguments: `not json`},
		{ID: "c3", Name: "fails"},
		{ID: "c4", Name: "panics"},
		{ID: "c5", Name: "missing"},
	}
	results := exec.Execute(context.Background(), AgentInfo{ID: "a1"}, calls)

	require.Len(t, results, len(calls))
	for i, c := range calls {
		assert.Equal(t, c.ID, results[i].CallID)
		assert.Equal(t, c.Name, results[i].Name)
	}
	assert.Equal(t, "slow-done", results[0].Output)
	assert.Equal(t, `{"html":"<b>"}`, results[1].Output)
	assert.Equal(t, "Tool execution error: device unreachable", results[2].Output)
	assert.Equal(t, "Tool execution error: panic: kaboom", results[3].Output)
	assert.Equal(t, "Tool 'missing' not found", results[4].Output)

	assert.Len(t, obs.tools, 5)
	assert.Equal(t, 3, obs.errs)
}

func TestExecutor_CancelledContext(t *testing.T) {
	r, err := NewRegistry(&mockTool{name: "t", result: "ok"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewExecutor(r).Execute(ctx, AgentInfo{}, []core.ToolCallRef{{ID: "c1", Name: "t"}, {ID: "c2", Name: "t"}})
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Output, "context canceled")
	assert.Equal(t, "c2", results[1].CallID)
}

func TestExecutor_Empty(t *testing.T) {
	r, _ := NewRegistry()
	assert.Nil(t, NewExecutor(r).Execute(context.Background(), AgentInfo{}, nil))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "plain", Stringify("plain"))
	assert.Equal(t, "null", Stringify(nil))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, `["a&b"]`, Stringify([]string{"a&b"}))
}

// -------------------- FanOut Tests --------------------

func TestFanOut_PartialFailure(t *testing.T) {
	targets := []string{"lamp", "fan", "heater"}
	results := FanOut(context.Background(), targets, 0, func(_ context.Context, target string) (string, error) {
		if target == "fan" {
			return "", fmt.Errorf("device %s offline", target)
		}
		return target + ": ok", nil
	})

	require.Len(t, results, 3)
	assert.Equal(t, "lamp", results[0].Target)
	assert.Equal(t, "lamp: ok", results[0].Value)
	assert.EqualError(t, results[1].Err, "device fan offline")
	assert.Equal(t, "heater: ok", results[2].Value)
	assert.NoError(t, results[2].Err)
}

func TestFanOut_Bounded(t *testing.T) {
	var active, peak atomic.Int32
	targets := make([]string, 25)
	for i := range targets {
		targets[i] = fmt.Sprintf("d%d", i)
	}

	results := FanOut(context.Background(), targets, 3, func(_ context.Context, _ string) (struct{}, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return struct{}{}, nil
	})

	assert.Len(t, results, 25)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestFanOut_Panic(t *testing.T) {
	results := FanOut(context.Background(), []string{"x"}, 1, func(context.Context, string) (int, error) {
		panic("bad device")
	})
	require.Len(t, results, 1)
	assert.ErrorContains(t, results[0].Err, "bad device")
	assert.Equal(t, "x", results[0].Target)
}
