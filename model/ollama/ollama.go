// Package ollama provides a model.Provider for a local Ollama server's
// native chat endpoint, which streams newline-delimited JSON. Tool calls
// arrive complete in a single line and often without an id, so call ids are
// synthesized.
//
// The request side reuses the openai-go HTTP client pointed at the Ollama
// base URL: it handles JSON encoding, context cancellation and non-2xx error
// decoding the same way as the hosted providers.
package ollama

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/wire"
	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

const (
	// ProviderName identifies this binding in logs, metrics and snapshots.
	ProviderName = "ollama"

	DefaultBaseURL = "http://localhost:11434/"
	DefaultModel   = "llama3.1:8b"
)

// Options configure the Ollama provider.
type Options struct {
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider streams from /api/chat.
type Provider struct {
	client *openai.Client
	opts   Options
}

// NewProvider creates a provider for the configured Ollama server.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := Options{Model: DefaultModel, BaseURL: DefaultBaseURL}
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithBaseURL(opts.BaseURL),
		// Ollama ignores credentials; a fixed key keeps any ambient
		// OPENAI_API_KEY from being sent to the local server.
		option.WithAPIKey("ollama"),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := openai.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: ProviderName, Protocol: wire.ProtocolNDJSON}
}

// ProjectTool implements model.Provider.
func (p *Provider) ProjectTool(def model.ToolDefinition) model.ToolSchema {
	params := def.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return model.ToolSchema{
		"type": "function",
		"function": map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"parameters":  params,
		},
	}
}

// Open implements model.Provider.
func (p *Provider) Open(ctx context.Context, req model.Request) (model.Stream, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.opts.Model
	}

	body := map[string]any{
		"model":    modelID,
		"messages": BuildMessages(req.Transcript),
		"stream":   true,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}

	var raw *http.Response
	if err := p.client.Post(ctx, "api/chat", body, &raw, option.WithHeader("Accept", "application/x-ndjson")); err != nil {
		return nil, fmt.Errorf("ollama chat request: %w", err)
	}

	dec, err := wire.NewDecoder(p.Info().Protocol, raw.Body)
	if err != nil {
		_ = raw.Body.Close()
		return nil, err
	}
	return model.NewStream(dec, model.DialectFunc(Translate)), nil
}

// BuildMessages converts a transcript into Ollama chat messages. A tool
// request becomes one assistant message carrying all calls, with arguments
// as JSON objects.
func BuildMessages(msgs []core.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case core.KindToolRequest:
			calls := make([]map[string]any, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"function": map[string]any{
						"name":      c.Name,
						"arguments": model.ParseArguments(c.Arguments),
					},
				})
			}
			out = append(out, map[string]any{"role": "assistant", "content": "", "tool_calls": calls})
		case core.KindToolResult:
			out = append(out, map[string]any{
				"role":      "tool",
				"content":   m.Result.Output,
				"tool_name": m.Result.Name,
			})
		default:
			out = append(out, map[string]any{"role": string(m.Role()), "content": m.Content})
		}
	}
	return out
}

// Translate maps one NDJSON chat chunk onto uniform events.
func Translate(ev wire.Event) []model.Event {
	line := gjson.ParseBytes(ev.Data)
	if e := line.Get("error"); e.Exists() {
		msg := e.String()
		if m := e.Get("message"); m.Exists() {
			msg = m.String()
		}
		return []model.Event{{Kind: model.EventError, Text: msg}}
	}

	var out []model.Event
	msg := line.Get("message")
	if c := msg.Get("content").String(); c != "" {
		out = append(out, model.Event{Kind: model.EventTextDelta, Text: c})
	}

	for _, tc := range msg.Get("tool_calls").Array() {
		id := tc.Get("id").String()
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		out = append(out, model.Event{
			Kind:      model.EventItemAdded,
			ItemID:    id,
			CallID:    id,
			Name:      tc.Get("function.name").String(),
			Arguments: argumentsText(tc.Get("function.arguments")),
			Complete:  true,
		})
	}
	return out
}

// argumentsText returns the arguments as JSON text; Ollama usually sends an
// object but some models emit an encoded string.
func argumentsText(args gjson.Result) string {
	switch {
	case !args.Exists():
		return "{}"
	case args.Type == gjson.String:
		return args.String()
	default:
		return args.Raw
	}
}
