package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/flow"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/session"
	"github.com/Aidanwa/smart-home/tool"
	"github.com/google/uuid"
)

// ErrTurnInProgress is reported when a turn is started while another one is
// still running on the same agent.
var ErrTurnInProgress = errors.New("agent turn already in progress")

// DefaultType is used when no agent type is configured.
const DefaultType = "agent"

// Observer receives model, turn and tool call measurements.
type Observer interface {
	flow.Observer
	tool.CallObserver
}

// Options configure an Agent.
type Options struct {
	ID            string // generated when empty
	Type          string // persona name, e.g. "home" or "zigbee"
	Instruction   Instruction
	IncludeTime   bool // append the current time to the system prompt
	Now           func() time.Time
	Model         string
	MaxIterations int
	MaxParallel   int
	Tools         []tool.Tool
	History       []core.Message // restored transcript, placed after the system prompt
	Logger        logging.Logger
	Observer      Observer
	Sink          session.Sink
}

// Agent is a conversational agent with its own transcript.
type Agent struct {
	id         string
	typ        string
	model      string
	provider   model.Provider
	registry   *tool.Registry
	transcript *core.Transcript
	loop       *flow.Loop
	sink       session.Sink
	logger     logging.Logger
	now        func() time.Time

	mu      sync.Mutex
	running bool
	pending []core.Message
}

var _ session.Member = (*Agent)(nil)

// New creates an agent over provider.
func New(provider model.Provider, optFns ...func(o *Options)) (*Agent, error) {
	if provider == nil {
		return nil, errors.New("agent: provider is required")
	}

	opts := Options{Type: DefaultType, Now: time.Now, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Type == "" {
		opts.Type = DefaultType
	}

	registry, err := tool.NewRegistry(opts.Tools...)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", opts.Type, err)
	}

	now := opts.Now()
	system, err := opts.Instruction.Resolve(InstructionContext{AgentID: opts.ID, AgentType: opts.Type, Now: now})
	if err != nil {
		return nil, fmt.Errorf("agent %s: resolve instruction: %w", opts.Type, err)
	}
	if system != "" && opts.IncludeTime {
		system = withTime(system, now)
	}

	var history []core.Message
	if system != "" {
		history = append(history, core.SystemMessage(system))
	}
	history = append(history, opts.History...)
	transcript := core.NewTranscript()
	if err := transcript.Append(history...); err != nil {
		return nil, fmt.Errorf("agent %s: restore history: %w", opts.Type, err)
	}

	a := &Agent{
		id:         opts.ID,
		typ:        opts.Type,
		model:      opts.Model,
		provider:   provider,
		registry:   registry,
		transcript: transcript,
		sink:       opts.Sink,
		now:        opts.Now,
		logger:     logging.With(opts.Logger, "agent_id", opts.ID, "agent_type", opts.Type),
	}

	a.loop = flow.NewLoop(provider, registry, func(o *flow.Options) {
		o.Model = opts.Model
		o.MaxIterations = opts.MaxIterations
		o.MaxParallel = opts.MaxParallel
		o.Agent = tool.AgentInfo{ID: opts.ID, Type: opts.Type}
		o.Inbox = inbox{a}
		o.Logger = opts.Logger
		if opts.Observer != nil {
			o.Observer = opts.Observer
			o.ToolObserver = opts.Observer
		}
	})

	a.logger.Debug("agent.created", "provider", provider.Info().Name, "model", opts.Model, "tools", registry.Len())
	return a, nil
}

func (a *Agent) ID() string    { return a.id }
func (a *Agent) Type() string  { return a.typ }
func (a *Agent) Model() string { return a.model }

// Tools returns the agent's tool registry.
func (a *Agent) Tools() *tool.Registry { return a.registry }

// Messages returns a copy of the transcript.
func (a *Agent) Messages() []core.Message { return a.transcript.Messages() }

// Busy reports whether a turn is running.
func (a *Agent) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Deliver hands msg to the agent. While a turn runs the message is queued
// and appended at the loop's next safe point.
func (a *Agent) Deliver(msg core.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		a.pending = append(a.pending, msg)
		a.logger.Debug("agent.deliver.queued", "kind", string(msg.Kind))
		return nil
	}
	return a.transcript.Append(msg)
}

// Snapshot captures the agent transcript.
func (a *Agent) Snapshot() session.AgentSnapshot {
	return session.AgentSnapshot{
		AgentID:   a.id,
		AgentType: a.typ,
		Provider:  a.provider.Info().Name,
		Model:     a.model,
		Timestamp: a.now(),
		Messages:  a.transcript.Messages(),
	}
}

// Stream starts a turn for prompt. The turn runs while its fragments are
// consumed.
func (a *Agent) Stream(ctx context.Context, prompt string) *Turn {
	return newTurn(ctx, a, prompt)
}

// Run executes a turn to completion and returns its result.
func (a *Agent) Run(ctx context.Context, prompt string) TurnResult {
	return a.Stream(ctx, prompt).Result()
}

func (a *Agent) runTurn(ctx context.Context, prompt string, yield func(string) bool) TurnResult {
	if !a.begin() {
		return TurnResult{State: flow.StateError, Err: ErrTurnInProgress}
	}

	a.logger.Info("agent.turn.start", "chars", len(prompt))
	res := a.loop.Run(ctx, a.transcript, core.UserMessage(prompt), yield)
	a.end()

	a.save(context.WithoutCancel(ctx))
	return TurnResult{Text: res.Text, State: res.State, Iterations: res.Iterations, Err: res.Err}
}

func (a *Agent) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return false
	}
	a.running = true
	return true
}

// end appends messages that arrived too late for the loop to pick up.
func (a *Agent) end() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.running = false
	if len(a.pending) == 0 {
		return
	}
	if err := a.transcript.Append(a.pending...); err != nil {
		a.logger.Error("agent.deliver.append_failed", "error", err.Error())
	}
	a.pending = nil
}

func (a *Agent) drain() []core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := a.pending
	a.pending = nil
	return msgs
}

func (a *Agent) save(ctx context.Context) {
	if a.sink == nil {
		return
	}
	if err := a.sink.SaveAgent(ctx, a.Snapshot()); err != nil {
		a.logger.Error("agent.snapshot.failed", "error", err.Error())
	}
}

// inbox exposes the agent's pending deliveries to the loop.
type inbox struct{ a *Agent }

func (i inbox) Drain() []core.Message { return i.a.drain() }
