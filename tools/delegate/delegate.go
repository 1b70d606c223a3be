// Package delegate provides the call_<persona>_agent tools that hand a
// request to a nested agent of another persona.
package delegate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Aidanwa/smart-home/agent"
	"github.com/Aidanwa/smart-home/core"
	"github.com/Aidanwa/smart-home/session"
	"github.com/Aidanwa/smart-home/tool"
)

// Factory builds a fresh agent of the given persona.
type Factory func(ctx context.Context, persona string) (*agent.Agent, error)

// Options configure a delegate tool.
type Options struct {
	Description string
	// OnFragment receives the nested agent's text as it streams.
	OnFragment func(persona, fragment string)
}

// ToolName returns the delegate tool name for persona.
func ToolName(persona string) string {
	return "call_" + persona + "_agent"
}

// NewTool creates the tool delegating to persona. Every call runs a new
// agent built by factory, registers it with sess and injects its answer
// into the primary agent. Failures are reported to the model as text.
func NewTool(sess *session.Session, persona string, factory Factory, optFns ...func(o *Options)) tool.Tool {
	opts := Options{
		Description: fmt.Sprintf("Calls the %s agent to handle %s related requests and returns its answer.", persona, persona),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The user's request, phrased for the " + persona + " agent.",
			},
		},
		"required": []any{"query"},
	}

	return tool.NewFunctionTool(ToolName(persona), opts.Description, params, func(tc *tool.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		text, err := run(tc, sess, persona, factory, query, opts)
		if err != nil {
			tc.Logger().Warn("delegate.failed", "persona", persona, "error", err.Error())
			return "Error: " + err.Error(), nil
		}
		return text, nil
	})
}

func run(tc *tool.Context, sess *session.Session, persona string, factory Factory, query string, opts Options) (string, error) {
	if sess == nil {
		return "", errors.New("no session available")
	}
	sub, err := factory(tc.Context(), persona)
	if err != nil {
		return "", fmt.Errorf("create %s agent: %w", persona, err)
	}
	sess.RegisterSubagent(sub)
	tc.Logger().Info("delegate.start", "persona", persona, "subagent_id", sub.ID())

	turn := sub.Stream(tc.Context(), query)
	for fragment := range turn.Fragments() {
		if opts.OnFragment != nil {
			opts.OnFragment(persona, fragment)
		}
	}
	res := turn.Result()
	if res.Err != nil {
		return "", res.Err
	}
	if strings.TrimSpace(res.Text) == "" {
		return "", fmt.Errorf("%s agent returned no answer (%s)", persona, res.State)
	}

	if err := sess.InjectIntoPrimary(core.RoleAssistant, res.Text); err != nil {
		return "", err
	}
	return res.Text, nil
}
