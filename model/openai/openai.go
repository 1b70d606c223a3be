// Package openai provides a model.Provider for the OpenAI Responses API.
// Requests are sent as raw JSON through the official SDK client (which owns
// credentials and transport) and the text/event-stream body is decoded by the
// wire SSE decoder. Function-call arguments arrive as fragments keyed by item
// id and are reassembled downstream by the tool loop.
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/wire"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
)

// ProviderName identifies this binding in logs, metrics and snapshots.
const ProviderName = "openai"

// Options configure the Responses provider.
type Options struct {
	Model   string
	APIKey  string
	BaseURL string
	// HTTPClient overrides the transport (tests, proxies).
	HTTPClient *http.Client
	// Strict requests strict schema adherence for tools whose properties
	// are all required.
	Strict bool
}

// Provider streams from the Responses API.
type Provider struct {
	client *openai.Client
	opts   Options
}

// NewProvider creates a provider with its own SDK client. SDK retries are
// disabled: transport failures are reported to the caller, never retried.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	client := openai.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a provider from an existing client.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{Model: openai.ChatModelGPT4oMini, Strict: true}
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: ProviderName, Protocol: wire.ProtocolSSE}
}

// ProjectTool implements model.Provider. The parameters schema is copied and
// closed with additionalProperties=false.
func (p *Provider) ProjectTool(def model.ToolDefinition) model.ToolSchema {
	params := make(map[string]any, len(def.Parameters)+1)
	for k, v := range def.Parameters {
		params[k] = v
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	params["additionalProperties"] = false

	return model.ToolSchema{
		"type":        "function",
		"name":        def.Name,
		"description": def.Description,
		"parameters":  params,
		"strict":      p.opts.Strict && allRequired(params),
	}
}

// Open implements model.Provider.
func (p *Provider) Open(ctx context.Context, req model.Request) (model.Stream, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.opts.Model
	}
	tools := req.Tools
	if tools == nil {
		tools = []model.ToolSchema{}
	}

	body := map[string]any{
		"model":               modelID,
		"input":               BuildInput(req.Transcript),
		"tools":               tools,
		"tool_choice":         "auto",
		"parallel_tool_calls": true,
		"stream":              true,
	}

	var raw *http.Response
	if err := p.client.Post(ctx, "responses", body, &raw, option.WithHeader("Accept", "text/event-stream")); err != nil {
		return nil, fmt.Errorf("openai responses request: %w", err)
	}

	dec, err := wire.NewDecoder(p.Info().Protocol, raw.Body)
	if err != nil {
		_ = raw.Body.Close()
		return nil, err
	}
	return model.NewStream(dec, model.DialectFunc(Translate)), nil
}

// BuildInput converts a transcript into Responses API input items. Tool
// requests become one function_call item per call followed, later, by the
// matching function_call_output items.
func BuildInput(msgs []core.Message) []map[string]any {
	items := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind {
		case core.KindSystem, core.KindUser:
			items = append(items, map[string]any{"role": string(m.Role()), "content": m.Content})
		case core.KindAssistantText:
			items = append(items, map[string]any{
				"role":    "assistant",
				"content": []map[string]any{{"type": "output_text", "text": m.Content}},
			})
		case core.KindToolRequest:
			for _, c := range m.ToolCalls {
				item := map[string]any{
					"type":      "function_call",
					"status":    "completed",
					"call_id":   c.ID,
					"name":      c.Name,
					"arguments": c.Arguments,
				}
				if c.ItemID != "" {
					item["id"] = c.ItemID
				}
				items = append(items, item)
			}
		case core.KindToolResult:
			items = append(items, map[string]any{
				"type":    "function_call_output",
				"call_id": m.Result.CallID,
				"output":  m.Result.Output,
			})
		}
	}
	return items
}

// Translate maps Responses API stream events onto uniform model events.
func Translate(ev wire.Event) []model.Event {
	data := gjson.ParseBytes(ev.Data)
	typ := ev.Type
	if typ == "" {
		typ = data.Get("type").String()
	}

	switch typ {
	case "response.output_text.delta":
		if d := data.Get("delta").String(); d != "" {
			return []model.Event{{Kind: model.EventTextDelta, Text: d}}
		}
	case "response.output_item.added":
		item := data.Get("item")
		if item.Get("type").String() != "function_call" || item.Get("id").String() == "" {
			return nil
		}
		return []model.Event{{
			Kind:   model.EventItemAdded,
			ItemID: item.Get("id").String(),
			CallID: item.Get("call_id").String(),
			Name:   item.Get("name").String(),
		}}
	case "response.function_call_arguments.delta":
		itemID, frag := data.Get("item_id").String(), data.Get("delta").String()
		if itemID != "" && frag != "" {
			return []model.Event{{Kind: model.EventArgumentsDelta, ItemID: itemID, Text: frag}}
		}
	case "response.function_call_arguments.done":
		if itemID := data.Get("item_id").String(); itemID != "" {
			return []model.Event{{Kind: model.EventArgumentsDone, ItemID: itemID, Arguments: data.Get("arguments").String()}}
		}
	case "response.output_item.done":
		item := data.Get("item")
		if item.Get("type").String() != "function_call" || item.Get("id").String() == "" {
			return nil
		}
		return []model.Event{{
			Kind:      model.EventItemDone,
			ItemID:    item.Get("id").String(),
			CallID:    item.Get("call_id").String(),
			Name:      item.Get("name").String(),
			Arguments: item.Get("arguments").String(),
		}}
	case "response.error", "error":
		return []model.Event{{Kind: model.EventError, Text: errorMessage(data, ev.Raw)}}
	case "response.failed":
		msg := data.Get("response.error.message").String()
		if msg == "" {
			msg = "response failed"
		}
		return []model.Event{{Kind: model.EventError, Text: msg}}
	}
	return nil
}

func errorMessage(data gjson.Result, raw string) string {
	for _, path := range []string{"error.message", "message", "error"} {
		if v := data.Get(path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	if raw != "" {
		return raw
	}
	return "unknown streaming error"
}

// allRequired reports whether every declared property is listed as required.
func allRequired(params map[string]any) bool {
	props, _ := params["properties"].(map[string]any)
	if len(props) == 0 {
		return true
	}
	required := map[string]bool{}
	switch req := params["required"].(type) {
	case []string:
		for _, r := range req {
			required[r] = true
		}
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}
	for name := range props {
		if !required[name] {
			return false
		}
	}
	return true
}
