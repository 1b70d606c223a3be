package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/tool"
)

// ErrAborted is reported when the caller stops consuming fragments or the
// turn context is cancelled.
var ErrAborted = errors.New("turn aborted")

// State is the controller state of one turn.
type State int

const (
	StateAwaitingResponse State = iota
	StateStreaming
	StateToolsPending
	StateDone
	StateError
	StateCapReached
)

func (s State) String() string {
	switch s {
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateStreaming:
		return "streaming"
	case StateToolsPending:
		return "tools_pending"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateCapReached:
		return "cap_reached"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a turn.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateCapReached
}

// Inbox yields messages delivered to the agent while a turn was in flight.
type Inbox interface {
	Drain() []core.Message
}

// Observer is notified about model calls and finished turns.
type Observer interface {
	ObserveModelCall(provider string, dur time.Duration, err error)
	ObserveTurn(state State, iterations int)
}

// Result summarizes a finished turn.
type Result struct {
	State      State
	Iterations int
	Text       string // every fragment yielded to the caller, concatenated
	Err        error
}

// Options configure a Loop.
type Options struct {
	Model         string
	MaxIterations int // <= 0 uses core.DefaultMaxIterations
	MaxParallel   int // concurrent tool calls per iteration; <= 0 runs all at once
	Agent         tool.AgentInfo
	Inbox         Inbox
	Logger        logging.Logger
	Observer      Observer
	ToolObserver  tool.CallObserver
}

// Loop drives the bounded model/tool cycle for one agent.
type Loop struct {
	provider model.Provider
	registry *tool.Registry
	executor *tool.Executor
	opts     Options
}

// NewLoop creates a controller over provider and registry.
func NewLoop(provider model.Provider, registry *tool.Registry, optFns ...func(o *Options)) *Loop {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if registry == nil {
		registry, _ = tool.NewRegistry()
	}

	executor := tool.NewExecutor(registry, func(o *tool.ExecutorOptions) {
		o.MaxParallel = opts.MaxParallel
		o.Logger = opts.Logger
		o.Observer = opts.ToolObserver
	})

	return &Loop{provider: provider, registry: registry, executor: executor, opts: opts}
}

// turn carries the per-turn bookkeeping.
type turn struct {
	yield func(string) bool
	text  strings.Builder
	out   bool // false once the caller stopped consuming
}

func (t *turn) emit(s string) bool {
	if !t.out {
		return false
	}
	t.text.WriteString(s)
	if !t.yield(s) {
		t.out = false
	}
	return t.out
}

// Run executes one turn: user is appended to transcript, then the model is
// called until it answers without tool calls, an error occurs, an injected
// response arrives or the iteration cap is reached. Text fragments are
// passed to yield as they stream; yield returning false aborts the turn.
func (l *Loop) Run(ctx context.Context, transcript *core.Transcript, user core.Message, yield func(string) bool) Result {
	t := &turn{yield: yield, out: true}
	limiter := core.NewIterationLimiter(l.opts.MaxIterations)
	logger := logging.With(l.opts.Logger, "agent_id", l.opts.Agent.ID, "agent_type", l.opts.Agent.Type)

	finish := func(state State, err error) Result {
		res := Result{State: state, Iterations: limiter.Count(), Text: t.text.String(), Err: err}
		logger.Info("loop.turn.end", "state", state.String(), "iterations", res.Iterations)
		if l.opts.Observer != nil {
			l.opts.Observer.ObserveTurn(state, res.Iterations)
		}
		return res
	}

	if err := transcript.Append(user); err != nil {
		return finish(StateError, fmt.Errorf("append user message: %w", err))
	}

	for {
		if limiter.Exhausted() {
			logger.Warn("loop.cap_reached", "max_iterations", limiter.Max())
			return finish(StateCapReached, nil)
		}

		calls, state, err := l.pass(ctx, transcript, t, logger)
		if state.Terminal() {
			return finish(state, err)
		}

		results := l.executor.Execute(ctx, l.opts.Agent, calls)
		msgs := make([]core.Message, 0, len(results))
		for _, r := range results {
			msgs = append(msgs, core.ToolResultMessage(r.CallID, r.Name, r.Output))
		}
		if err := transcript.Append(msgs...); err != nil {
			return finish(StateError, fmt.Errorf("append tool results: %w", err))
		}
		limiter.Increment()

		if ctx.Err() != nil {
			return finish(StateError, fmt.Errorf("%w: %w", ErrAborted, ctx.Err()))
		}

		if l.drainInbox(transcript, t, logger) {
			return finish(StateDone, nil)
		}
	}
}

// pass performs one model call. It returns the ready tool calls with state
// StateToolsPending, or a terminal state.
func (l *Loop) pass(ctx context.Context, transcript *core.Transcript, t *turn, logger logging.Logger) ([]core.ToolCallRef, State, error) {
	info := l.provider.Info()
	req := model.Request{
		Model:      l.opts.Model,
		Transcript: transcript.Messages(),
		Tools:      l.registry.Schemas(l.provider),
	}

	logger.Debug("loop.stream.open", "provider", info.Name, "model", req.Model, "messages", len(req.Transcript))
	start := time.Now()

	stream, err := l.provider.Open(ctx, req)
	if err != nil {
		l.observeModel(logger, info.Name, req.Model, start, err)
		if ctx.Err() != nil {
			return nil, StateError, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		t.emit(errorFragment(err))
		return nil, StateError, err
	}
	defer func() { _ = stream.Close() }()

	acc := NewAccumulator(logger)
	var text strings.Builder
	var streamErr error

	for stream.Next() {
		ev := stream.Event()
		switch ev.Kind {
		case model.EventTextDelta:
			text.WriteString(ev.Text)
			if !t.emit(ev.Text) {
				_ = stream.Close()
				l.observeModel(logger, info.Name, req.Model, start, ErrAborted)
				l.appendPartial(transcript, text.String(), logger)
				return nil, StateError, ErrAborted
			}
		case model.EventError:
			streamErr = model.ProtocolError(info.Name, ev.Text)
		case model.EventMalformed:
			logger.Warn("loop.stream.malformed", "provider", info.Name, "raw", ev.Text)
		default:
			acc.Observe(ev)
		}
		if streamErr != nil {
			break
		}
	}
	if streamErr == nil {
		streamErr = stream.Err()
	}
	l.observeModel(logger, info.Name, req.Model, start, streamErr)

	if streamErr != nil {
		l.appendPartial(transcript, text.String(), logger)
		if ctx.Err() != nil {
			return nil, StateError, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		t.emit(errorFragment(streamErr))
		return nil, StateError, streamErr
	}

	calls := acc.Ready()
	msgs := make([]core.Message, 0, 2)
	if text.Len() > 0 {
		msgs = append(msgs, core.AssistantText(text.String()))
	}
	if len(calls) > 0 {
		msgs = append(msgs, core.ToolRequest(calls...))
	}
	if err := transcript.Append(msgs...); err != nil {
		return nil, StateError, fmt.Errorf("append assistant output: %w", err)
	}

	if len(calls) == 0 {
		return nil, StateDone, nil
	}
	logger.Debug("loop.tools.pending", "count", len(calls))
	return calls, StateToolsPending, nil
}

// drainInbox appends messages delivered during the turn. It reports whether
// an injected assistant response completed the turn; that text is yielded.
func (l *Loop) drainInbox(transcript *core.Transcript, t *turn, logger logging.Logger) bool {
	if l.opts.Inbox == nil {
		return false
	}
	injected := l.opts.Inbox.Drain()
	if len(injected) == 0 {
		return false
	}
	if err := transcript.Append(injected...); err != nil {
		logger.Error("loop.inbox.append_failed", "error", err.Error())
		return false
	}

	answered := false
	for _, m := range injected {
		if m.Kind == core.KindAssistantText {
			t.emit(m.Content)
			answered = true
		}
	}
	logger.Debug("loop.inbox.drained", "messages", len(injected), "answered", answered)
	return answered
}

func (l *Loop) appendPartial(transcript *core.Transcript, text string, logger logging.Logger) {
	if text == "" {
		return
	}
	if err := transcript.Append(core.AssistantText(text)); err != nil {
		logger.Error("loop.partial.append_failed", "error", err.Error())
	}
}

func (l *Loop) observeModel(logger logging.Logger, provider, modelID string, start time.Time, err error) {
	dur := time.Since(start)
	logging.LogModelCall(logger, provider, modelID, dur, err)
	if l.opts.Observer != nil {
		l.opts.Observer.ObserveModelCall(provider, dur, err)
	}
}

func errorFragment(err error) string {
	return fmt.Sprintf("\n[Error: %s]", err.Error())
}
