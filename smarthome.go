// Package smarthome wires configuration, model providers, snapshot sinks,
// metrics and personas into conversations. Most applications interact with
// this package by:
//  1. Loading a config.Config and creating a SmartHome via New
//  2. Starting a Conversation for a persona (home, zigbee, ...)
//  3. Streaming turns through the conversation's primary agent
//
// Delegate tools of a persona create nested agents inside the same session;
// their answers are injected into the primary transcript.
package smarthome

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aidanwa/smart-home/agent"
	"github.com/Aidanwa/smart-home/config"
	"github.com/Aidanwa/smart-home/internal/util"
	"github.com/Aidanwa/smart-home/logging"
	"github.com/Aidanwa/smart-home/metrics"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/model/anthropic"
	"github.com/Aidanwa/smart-home/model/ollama"
	"github.com/Aidanwa/smart-home/model/openai"
	"github.com/Aidanwa/smart-home/session"
	"github.com/Aidanwa/smart-home/tool"
	"github.com/Aidanwa/smart-home/tools/delegate"
	"github.com/Aidanwa/smart-home/tools/zigbee"
)

// ErrUnknownPersona is returned for persona names missing from the config.
var ErrUnknownPersona = errors.New("unknown persona")

// ErrUnknownConversation is returned for conversation ids never started.
var ErrUnknownConversation = errors.New("unknown conversation")

const devicesUnavailable = "Unable to fetch device list. Ensure the Zigbee API server is running."

// Options configures the SmartHome instance. Unset collaborators are built
// from the config.
type Options struct {
	Provider   model.Provider
	Sink       session.Sink
	Metrics    *metrics.Metrics
	Zigbee     *zigbee.Client
	HTTPClient *http.Client
	Logger     logging.Logger
	Now        func() time.Time

	// OnDelegateFragment receives nested agent output as it streams.
	OnDelegateFragment func(persona, fragment string)
}

// SmartHome is the high-level façade over agents and sessions.
type SmartHome struct {
	cfg      *config.Config
	opts     Options
	provider model.Provider
	sink     session.Sink
	closer   io.Closer
	zigbee   *zigbee.Client
	logger   logging.Logger

	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// Conversation is a session together with its primary agent.
type Conversation struct {
	Session *session.Session
	Agent   *agent.Agent
}

// ID returns the session id.
func (c *Conversation) ID() string { return c.Session.ID() }

// Stream starts a turn on the primary agent.
func (c *Conversation) Stream(ctx context.Context, prompt string) *agent.Turn {
	return c.Agent.Stream(ctx, prompt)
}

// Save persists the session snapshot.
func (c *Conversation) Save(ctx context.Context) error {
	return c.Session.Save(ctx)
}

// New creates a SmartHome from cfg.
func New(cfg *config.Config, optFns ...func(o *Options)) (*SmartHome, error) {
	if cfg == nil {
		return nil, errors.New("smarthome: config is required")
	}
	opts := Options{Logger: logging.NoOpLogger{}, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &SmartHome{
		cfg:           cfg,
		opts:          opts,
		provider:      opts.Provider,
		sink:          opts.Sink,
		zigbee:        opts.Zigbee,
		logger:        opts.Logger,
		conversations: map[string]*Conversation{},
	}

	if h.provider == nil {
		p, err := NewProvider(cfg, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
		h.provider = p
	}
	if h.sink == nil {
		sink, closer, err := NewSink(cfg)
		if err != nil {
			return nil, err
		}
		h.sink, h.closer = sink, closer
	}
	if h.zigbee == nil {
		h.zigbee = zigbee.NewClient(func(o *zigbee.ClientOptions) {
			o.BaseURL = cfg.Zigbee.BaseURL
			o.APIKey = cfg.Zigbee.APIKey
			o.Logger = opts.Logger
			if opts.HTTPClient != nil {
				o.HTTPClient = opts.HTTPClient
			}
		})
	}

	h.logger.Info("smarthome.ready", "provider", h.provider.Info().Name, "sink", cfg.SnapshotSink, "personas", len(cfg.Personas))
	return h, nil
}

// NewProvider builds the model provider selected by cfg.Provider.
func NewProvider(cfg *config.Config, httpClient *http.Client) (model.Provider, error) {
	pc := cfg.ActiveProvider()
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewProvider(func(o *openai.Options) {
			o.APIKey = pc.APIKey
			o.BaseURL = pc.BaseURL
			o.HTTPClient = httpClient
			if pc.Model != "" {
				o.Model = pc.Model
			}
		}), nil
	case config.ProviderOllama:
		return ollama.NewProvider(func(o *ollama.Options) {
			o.BaseURL = strings.TrimRight(pc.BaseURL, "/") + "/"
			o.HTTPClient = httpClient
			if pc.Model != "" {
				o.Model = pc.Model
			}
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewProvider(func(o *anthropic.Options) {
			o.APIKey = pc.APIKey
			o.BaseURL = pc.BaseURL
			o.HTTPClient = httpClient
			if pc.Model != "" {
				o.Model = pc.Model
			}
		}), nil
	default:
		return nil, fmt.Errorf("smarthome: unsupported provider %q", cfg.Provider)
	}
}

// NewSink builds the snapshot sink selected by cfg.SnapshotSink. The closer
// is nil when the sink holds no resources.
func NewSink(cfg *config.Config) (session.Sink, io.Closer, error) {
	switch cfg.SnapshotSink {
	case config.SinkFile:
		return session.NewFileSink(cfg.DataDir), nil, nil
	case config.SinkSQLite:
		s, err := session.NewSQLiteSink(filepath.Join(cfg.DataDir, "snapshots.db"))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.SinkNone, "":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("smarthome: unsupported snapshot sink %q", cfg.SnapshotSink)
	}
}

// Config returns the configuration the instance was built from.
func (h *SmartHome) Config() *config.Config { return h.cfg }

// Provider returns the model provider shared by all agents.
func (h *SmartHome) Provider() model.Provider { return h.provider }

// Metrics returns the collectors, if configured.
func (h *SmartHome) Metrics() *metrics.Metrics { return h.opts.Metrics }

// NewConversation starts a session whose primary agent has the given persona.
func (h *SmartHome) NewConversation(ctx context.Context, persona string) (*Conversation, error) {
	sess := session.New(func(o *session.Options) {
		o.Sink = h.sink
		o.Logger = h.logger
		o.Now = h.opts.Now
		o.Metadata = map[string]any{"persona": persona, "provider": h.provider.Info().Name}
	})

	primary, err := h.NewAgent(ctx, sess, persona)
	if err != nil {
		return nil, err
	}
	sess.SetPrimary(primary)

	conv := &Conversation{Session: sess, Agent: primary}
	h.mu.Lock()
	h.conversations[sess.ID()] = conv
	h.mu.Unlock()

	h.logger.Info("smarthome.conversation.start", "session_id", sess.ID(), "persona", persona)
	return conv, nil
}

// Conversation looks up a started conversation.
func (h *SmartHome) Conversation(id string) (*Conversation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conv, ok := h.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	return conv, nil
}

// NewAgent builds an agent of persona bound to sess. Delegate tools of the
// persona create their nested agents through NewAgent as well.
func (h *SmartHome) NewAgent(ctx context.Context, sess *session.Session, persona string) (*agent.Agent, error) {
	p, ok := h.cfg.Personas[persona]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPersona, persona)
	}

	tools, err := h.personaTools(sess, p)
	if err != nil {
		return nil, err
	}

	modelID := p.Model
	if modelID == "" {
		modelID = h.cfg.ActiveProvider().Model
	}
	maxIterations := p.MaxIterations
	if maxIterations == 0 {
		maxIterations = h.cfg.MaxToolLoops
	}

	return agent.New(h.provider, func(o *agent.Options) {
		o.Type = persona
		o.Instruction = agent.NewInstructionFromFunc(func(ic agent.InstructionContext) (string, error) {
			return util.RenderTemplate(p.Instruction, h.promptState(ctx, p, ic))
		})
		o.IncludeTime = p.IncludeTime
		o.Now = h.opts.Now
		o.Model = modelID
		o.MaxIterations = maxIterations
		o.Tools = tools
		o.Logger = h.logger
		o.Sink = h.sink
		if h.opts.Metrics != nil {
			o.Observer = h.opts.Metrics
		}
	})
}

func (h *SmartHome) personaTools(sess *session.Session, p config.Persona) ([]tool.Tool, error) {
	byName := map[string]tool.Tool{}
	for _, t := range zigbee.Tools(h.zigbee) {
		byName[t.Name()] = t
	}

	out := make([]tool.Tool, 0, len(p.Tools))
	for _, name := range p.Tools {
		if t, ok := byName[name]; ok {
			out = append(out, t)
			continue
		}
		target, ok := config.DelegateTarget(name)
		if !ok {
			return nil, fmt.Errorf("persona %s: unknown tool %q", p.Name, name)
		}
		if _, ok := h.cfg.Personas[target]; !ok {
			return nil, fmt.Errorf("%w: %s (tool %s)", ErrUnknownPersona, target, name)
		}
		out = append(out, delegate.NewTool(sess, target, h.delegateFactory(sess), func(o *delegate.Options) {
			o.OnFragment = h.opts.OnDelegateFragment
			if d := h.cfg.Personas[target].Description; d != "" {
				o.Description = fmt.Sprintf("Calls the %s agent. %s", target, d)
			}
		}))
	}
	return out, nil
}

func (h *SmartHome) delegateFactory(sess *session.Session) delegate.Factory {
	return func(ctx context.Context, persona string) (*agent.Agent, error) {
		return h.NewAgent(ctx, sess, persona)
	}
}

// promptState collects the values a persona prompt may reference. Device
// data is fetched only when the prompt uses it.
func (h *SmartHome) promptState(ctx context.Context, p config.Persona, ic agent.InstructionContext) map[string]any {
	state := map[string]any{
		"agent_id":   ic.AgentID,
		"agent_type": ic.AgentType,
	}

	if strings.Contains(p.Instruction, ".devices") {
		summary, err := h.zigbee.Summary(ctx)
		if err != nil {
			h.logger.Warn("smarthome.prompt.devices_failed", "persona", p.Name, "error", err.Error())
			summary = devicesUnavailable
		}
		state["devices"] = summary
	}
	if strings.Contains(p.Instruction, ".bedroom_temp") && h.cfg.Zigbee.ThermostatID != "" {
		temp, err := h.zigbee.Temperature(ctx, h.cfg.Zigbee.ThermostatID)
		if err != nil {
			h.logger.Warn("smarthome.prompt.temperature_failed", "persona", p.Name, "error", err.Error())
		} else {
			state["bedroom_temp"] = temp
		}
	}
	return state
}

// Close releases the snapshot sink.
func (h *SmartHome) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}
