package tool

import (
	"context"

	"github.com/Aidanwa/smart-home/logging"
)

// AgentInfo identifies the agent on whose behalf a tool runs.
type AgentInfo struct {
	ID   string
	Type string
}

// Context is the surface handed to a tool invocation. It carries the
// cancellation context of the turn, the call identifier and a logger
// already annotated with agent and call attributes.
type Context struct {
	ctx    context.Context
	callID string
	agent  AgentInfo
	logger logging.Logger
}

// NewContext constructs a tool context for one call.
func NewContext(ctx context.Context, callID string, agent AgentInfo, logger logging.Logger) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		ctx:    ctx,
		callID: callID,
		agent:  agent,
		logger: logging.With(logger, "call_id", callID),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *Context) Context() context.Context { return tc.ctx }

// CallID returns the call identifier correlating the model request with this execution.
func (tc *Context) CallID() string { return tc.callID }

// AgentID returns the invoking agent's id.
func (tc *Context) AgentID() string { return tc.agent.ID }

// AgentType returns the invoking agent's persona.
func (tc *Context) AgentType() string { return tc.agent.Type }

// Logger returns the logger associated with the tool invocation.
func (tc *Context) Logger() logging.Logger { return tc.logger }
