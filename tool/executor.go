package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/Aidanwa/smart-home/model"
	"golang.org/x/sync/errgroup"
)

// CallObserver receives the outcome of every tool execution.
type CallObserver interface {
	ObserveToolCall(tool string, dur time.Duration, err error)
}

// ExecutorOptions configures the executor.
type ExecutorOptions struct {
	MaxParallel int // 0 or <1 => one worker per call
	Logger      logging.Logger
	Observer    CallObserver
}

// Executor runs a batch of tool calls against a registry. It never fails:
// every call yields exactly one result, in call order, and faults become
// result strings the model can read.
type Executor struct {
	registry *Registry
	opts     ExecutorOptions
}

// NewExecutor creates an executor for registry.
func NewExecutor(registry *Registry, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{registry: registry, opts: opts}
}

// Execute runs calls, possibly in parallel, and returns their results in the
// same order.
func (e *Executor) Execute(ctx context.Context, agent AgentInfo, calls []core.ToolCallRef) []core.ToolResult {
	n := len(calls)
	if n == 0 {
		return nil
	}

	results := make([]core.ToolResult, n)

	// Fast path: single call, execute inline.
	if n == 1 {
		results[0] = e.executeOne(ctx, agent, calls[0])
		return results
	}

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()

	var g errgroup.Group
	g.SetLimit(maxPar)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.executeOne(ctx, agent, call)
			return nil
		})
	}
	_ = g.Wait()

	e.opts.Logger.Debug(
		"tool.batch.complete",
		"agent_id", agent.ID,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results
}

func (e *Executor) executeOne(ctx context.Context, agent AgentInfo, call core.ToolCallRef) core.ToolResult {
	res := core.ToolResult{CallID: call.ID, Name: call.Name}

	impl, ok := e.registry.Lookup(call.Name)
	if !ok {
		e.opts.Logger.Warn("tool.call.not_found", "agent_id", agent.ID, "tool", call.Name, "call_id", call.ID)
		res.Output = fmt.Sprintf("Tool '%s' not found", call.Name)
		e.observe(call.Name, 0, NewToolError(call.Name, "not found", CodeNotFound))
		return res
	}

	start := time.Now()
	var (
		out any
		err error
	)
	if cerr := ctx.Err(); cerr != nil {
		err = cerr
	} else {
		func() { // panic safety
			defer func() {
				if r := recover(); r != nil {
					err = panicError(call.Name, r)
					e.opts.Logger.Error("tool.call.panic", "agent_id", agent.ID, "tool", call.Name, "recover", r)
				}
			}()
			tc := NewContext(ctx, call.ID, agent, logging.With(e.opts.Logger, "agent_id", agent.ID))
			out, err = impl.Call(tc, model.ParseArguments(call.Arguments))
		}()
	}
	dur := time.Since(start)

	logging.LogToolCall(e.opts.Logger, call.Name, call.ID, dur, err)
	e.observe(call.Name, dur, err)

	if err != nil {
		res.Output = "Tool execution error: " + errorText(err)
		return res
	}
	res.Output = Stringify(out)
	return res
}

func (e *Executor) observe(name string, dur time.Duration, err error) {
	if e.opts.Observer != nil {
		e.opts.Observer.ObserveToolCall(name, dur, err)
	}
}

// Stringify renders a tool result for the transcript. Strings pass through;
// anything else is JSON-encoded without HTML escaping.
func Stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func errorText(err error) string {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Message
	}
	return err.Error()
}

// panicError converts a recovered panic value to a ToolError carrying the stack.
func panicError(tool string, r any) error {
	return &ToolError{
		Tool:    tool,
		Message: fmt.Sprintf("panic: %v", r),
		Code:    CodePanic,
		Details: string(debug.Stack()),
	}
}
