package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/haasonsaas/praxis/internal/agent"
)

// caller is the slice of the MCP client the adapter needs.
type caller interface {
	CallTool(ctx context.Context, request mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error)
}

// serverTool adapts one remote MCP tool to the agent contract.
type serverTool struct {
	server string
	client caller
	def    mcptypes.Tool
	name   string
	schema json.RawMessage
}

var (
	_ agent.Tool               = (*serverTool)(nil)
	_ agent.PermissionReporter = (*serverTool)(nil)
)

func newServerTool(server string, cli caller, def mcptypes.Tool) *serverTool {
	schema, err := json.Marshal(def.InputSchema)
	if err != nil || len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return &serverTool{
		server: server,
		client: cli,
		def:    def,
		name:   server + "." + def.Name,
		schema: schema,
	}
}

func (t *serverTool) Name() string { return t.name }

func (t *serverTool) Description() string {
	if t.def.Description == "" {
		return fmt.Sprintf("Tool %s provided by the %s MCP server.", t.def.Name, t.server)
	}
	return t.def.Description
}

func (t *serverTool) Schema() json.RawMessage { return t.schema }

// ReadOnly trusts the server's annotation; an absent hint means mutating.
func (t *serverTool) ReadOnly() bool {
	hint := t.def.Annotations.ReadOnlyHint
	return hint != nil && *hint
}

// Permission keys approvals by the server-qualified tool name.
func (t *serverTool) Permission(input json.RawMessage) agent.PermissionSpec {
	return agent.PermissionSpec{Required: !t.ReadOnly(), Key: t.name}
}

// Execute forwards the call to the remote server.
func (t *serverTool) Execute(ctx context.Context, input json.RawMessage, env *agent.ExecContext, progress agent.ProgressFunc) (*agent.Result, error) {
	args := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return errorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	res, err := t.client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      t.def.Name,
			Arguments: args,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, agent.NewToolError(agent.ToolErrorCanceled, t.name, ctx.Err())
		}
		return errorResult(fmt.Sprintf("call %s: %v", t.name, err)), nil
	}

	rendered := renderContent(res.Content)
	if rendered == "" {
		rendered = "(no output)"
	}
	raw, err := json.Marshal(res.Content)
	if err != nil {
		raw = nil
	}

	return &agent.Result{Rendered: rendered, Raw: raw, IsError: res.IsError}, nil
}

// renderContent flattens MCP content items to text. Text items contribute
// their text; anything else is kept as JSON so the model still sees it.
func renderContent(items []mcptypes.Content) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		encoded, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var text struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(encoded, &text); err == nil && text.Type == "text" {
			parts = append(parts, text.Text)
			continue
		}
		parts = append(parts, string(encoded))
	}
	return strings.Join(parts, "\n")
}

func errorResult(message string) *agent.Result {
	return &agent.Result{Rendered: message, IsError: true}
}
