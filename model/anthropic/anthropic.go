// Package anthropic provides a model.Provider for the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/model"
	"github.com/Aidanwa/smart-home/wire"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tidwall/gjson"
)

// ProviderName identifies this binding in logs, metrics and snapshots.
const ProviderName = "anthropic"

// Options configures the Messages provider (model id, max tokens, API key,
// transport). Extend via functional options to preserve stability.
type Options struct {
	Model      string
	MaxTokens  int64
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider streams from the Messages API.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

// NewProvider creates a new provider using the official client. SDK retries
// are disabled.
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

	client := anthropic.NewClient(clientOpts...)
	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a new provider from an existing client.
func NewProviderFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:     string(anthropic.ModelClaude3_5Sonnet20241022),
		MaxTokens: 4096,
	}
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info {
	return model.Info{Name: ProviderName, Protocol: wire.ProtocolSSE}
}

// ProjectTool implements model.Provider.
func (p *Provider) ProjectTool(def model.ToolDefinition) model.ToolSchema {
	schema := make(map[string]any, len(def.Parameters)+1)
	for k, v := range def.Parameters {
		schema[k] = v
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	return model.ToolSchema{
		"name":         def.Name,
		"description":  def.Description,
		"input_schema": schema,
	}
}

// Open implements model.Provider.
func (p *Provider) Open(ctx context.Context, req model.Request) (model.Stream, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = p.opts.Model
	}

	system, messages := BuildMessages(req.Transcript)
	body := map[string]any{
		"model":      modelID,
		"max_tokens": p.opts.MaxTokens,
		"messages":   messages,
		"stream":     true,
	}
	if system != "" {
		body["system"] = system
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}

	var raw *http.Response
	if err := p.client.Post(ctx, "v1/messages", body, &raw, option.WithHeader("Accept", "text/event-stream")); err != nil {
		return nil, fmt.Errorf("anthropic messages request: %w", err)
	}

	dec, err := wire.NewDecoder(p.Info().Protocol, raw.Body)
	if err != nil {
		_ = raw.Body.Close()
		return nil, err
	}
	return model.NewStream(dec, model.DialectFunc(Translate)), nil
}

// BuildMessages converts a transcript into the Messages API shape. System
// messages are lifted into the top-level system prompt; tool results travel
// as tool_result blocks in user messages. Consecutive messages with the same
// role are merged since the API requires alternating roles.
func BuildMessages(msgs []core.Message) (string, []map[string]any) {
	var system []string
	var out []map[string]any

	add := func(role string, blocks ...map[string]any) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1]["role"] == role {
			prev := out[n-1]["content"].([]map[string]any)
			out[n-1]["content"] = append(prev, blocks...)
			return
		}
		out = append(out, map[string]any{"role": role, "content": blocks})
	}

	for _, m := range msgs {
		switch m.Kind {
		case core.KindSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case core.KindUser:
			if m.Content != "" {
				add("user", textBlock(m.Content))
			}
		case core.KindAssistantText:
			if m.Content != "" {
				add("assistant", textBlock(m.Content))
			}
		case core.KindToolRequest:
			blocks := make([]map[string]any, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    c.ID,
					"name":  c.Name,
					"input": model.ParseArguments(c.Arguments),
				})
			}
			add("assistant", blocks...)
		case core.KindToolResult:
			add("user", map[string]any{
				"type":        "tool_result",
				"tool_use_id": m.Result.CallID,
				"content":     m.Result.Output,
			})
		}
	}
	return strings.Join(system, "\n\n"), out
}

func textBlock(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

// Translate maps Messages API stream events onto uniform model events. Tool
// use blocks are keyed by their content block index.
func Translate(ev wire.Event) []model.Event {
	data := gjson.ParseBytes(ev.Data)
	typ := ev.Type
	if typ == "" {
		typ = data.Get("type").String()
	}
	itemID := blockID(data.Get("index"))

	switch typ {
	case "content_block_start":
		block := data.Get("content_block")
		if block.Get("type").String() != "tool_use" {
			return nil
		}
		return []model.Event{{
			Kind:   model.EventItemAdded,
			ItemID: itemID,
			CallID: block.Get("id").String(),
			Name:   block.Get("name").String(),
		}}
	case "content_block_delta":
		delta := data.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			if t := delta.Get("text").String(); t != "" {
				return []model.Event{{Kind: model.EventTextDelta, Text: t}}
			}
		case "input_json_delta":
			if frag := delta.Get("partial_json").String(); frag != "" {
				return []model.Event{{Kind: model.EventArgumentsDelta, ItemID: itemID, Text: frag}}
			}
		}
	case "content_block_stop":
		return []model.Event{{Kind: model.EventItemDone, ItemID: itemID}}
	case "error":
		msg := data.Get("error.message").String()
		if msg == "" {
			msg = ev.Raw
		}
		return []model.Event{{Kind: model.EventError, Text: msg}}
	}
	return nil
}

func blockID(index gjson.Result) string {
	return "block_" + index.String()
}
