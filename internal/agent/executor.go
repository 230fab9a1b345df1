// Package agent provides a reference core.AgentExecutor: a ReAct-style
// tool loop reusing a chat RawClient the same way the teacher's
// router.executeInternal drove one, generalized to report which
// handles it actually touched (spec.md's AgentExecutor contract, §1).
// SPEC_FULL's router treats the executor as an external collaborator;
// this package exists so cmd/toolrouter and the integration tests have
// a real one to run against.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	moderr "github.com/lizzyg/toolrouter/errors"
	"github.com/lizzyg/toolrouter/internal/chatproto"
	"github.com/lizzyg/toolrouter/internal/core"
	"github.com/lizzyg/toolrouter/internal/util"
)

// Executor is a minimal tool-turn loop: call the model, execute any
// requested tool calls, feed results back, repeat until the model
// stops calling tools or maxSteps is exhausted.
type Executor struct {
	client chatproto.RawClient
	model  string
	logger *slog.Logger
}

// New builds an Executor backed by client, targeting model.
func New(client chatproto.RawClient, model string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, model: model, logger: logger}
}

// Run satisfies core.AgentExecutor.
func (e *Executor) Run(ctx context.Context, messages []core.Message, tools []core.ToolDescriptor, maxSteps int) (core.AgentResult, error) {
	if maxSteps <= 0 {
		maxSteps = 8
	}

	toolByName := make(map[string]core.ToolDescriptor, len(tools))
	defs := make([]chatproto.ToolDef, 0, len(tools))
	for _, t := range tools {
		toolByName[t.Name] = t
		defs = append(defs, toChatToolDef(t))
	}

	conversation := toChatMessages(messages)
	touched := make(map[string]bool)

	for step := 0; step < maxSteps; step++ {
		resp, err := e.client.Call(ctx, chatproto.CallParams{
			Model:    e.model,
			Messages: conversation,
			ToolDefs: defs,
		})
		if err != nil {
			return core.AgentResult{}, moderr.New(moderr.KindAgentExecutor, true, err)
		}

		if len(resp.ToolCalls) == 0 {
			return core.AgentResult{
				FinalText:      resp.Content,
				TouchedHandles: handleSet(touched),
			}, nil
		}

		conversation = append(conversation, chatproto.Message{Role: "assistant", Content: resp.Content})

		for _, tc := range resp.ToolCalls {
			tool, ok := toolByName[tc.Name]
			if !ok {
				return core.AgentResult{}, moderr.New(moderr.KindAgentExecutor, false, fmt.Errorf("model requested unknown tool %q", tc.Name))
			}
			args := tc.Args
			result, err := tool.Invoke(ctx, args)
			if err != nil {
				if repaired, ok := util.RepairJSON(string(args)); ok {
					result, err = tool.Invoke(ctx, []byte(repaired))
				}
			}
			if err != nil {
				return core.AgentResult{}, moderr.New(moderr.KindAgentExecutor, true, fmt.Errorf("tool %s: %w", tc.Name, err))
			}
			// Only qualified "<handle>.<tool>" names belong to a server;
			// the unqualified discover_tools meta-tool is not reported.
			if strings.Contains(tc.Name, ".") {
				touched[handleForTool(tc.Name)] = true
			}

			resultJSON, err := json.Marshal(result)
			if err != nil {
				resultJSON = []byte(`null`)
			}
			conversation = append(conversation, chatproto.Message{
				Role:    "tool",
				Content: fmt.Sprintf(`{"tool":%q,"result":%s}`, tc.Name, string(resultJSON)),
			})
		}
		if step >= maxSteps-1 {
			return core.AgentResult{}, moderr.New(moderr.KindAgentExecutor, false, moderr.ErrMaxToolTurns)
		}
	}
	return core.AgentResult{}, moderr.New(moderr.KindAgentExecutor, false, moderr.ErrMaxToolTurns)
}

// handleForTool derives the owning server handle from a qualified tool
// name of the form "<handle>.<tool>" — the naming convention
// internal/discovery.QualifyTools applies to a Binding's tools so the
// executor can report TouchedHandles without a back-reference to the
// cache.
func handleForTool(qualifiedName string) string {
	if i := strings.IndexByte(qualifiedName, '.'); i >= 0 {
		return qualifiedName[:i]
	}
	return qualifiedName
}

func handleSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	return out
}

func toChatMessages(msgs []core.Message) []chatproto.Message {
	out := make([]chatproto.Message, len(msgs))
	for i, m := range msgs {
		out[i] = chatproto.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// toChatToolDef flattens a core.ToolDescriptor's JSON-schema properties
// into the chatproto.ToolParameter list providers expect, the reverse
// direction of the teacher's util.GenerateToolParameters (which built
// that list from a Go struct instead of a schema map).
func toChatToolDef(t core.ToolDescriptor) chatproto.ToolDef {
	var params []chatproto.ToolParameter
	props, _ := t.Schema["properties"].(map[string]any)
	required := map[string]bool{}
	if reqList, ok := t.Schema["required"].([]string); ok {
		for _, r := range reqList {
			required[r] = true
		}
	}
	for name, raw := range props {
		schema, _ := raw.(map[string]any)
		params = append(params, chatproto.ToolParameter{
			Name:     name,
			Required: required[name],
			Schema:   schema,
		})
	}
	return chatproto.ToolDef{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}
