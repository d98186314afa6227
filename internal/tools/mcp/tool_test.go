package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/haasonsaas/praxis/internal/agent"
)

type fakeCaller struct {
	lastReq mcptypes.CallToolRequest
	result  *mcptypes.CallToolResult
	err     error
}

func (f *fakeCaller) CallTool(ctx context.Context, req mcptypes.CallToolRequest) (*mcptypes.CallToolResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func boolPtr(v bool) *bool { return &v }

func weatherDef() mcptypes.Tool {
	return mcptypes.Tool{
		Name:        "get_weather",
		Description: "Get the current weather for a city.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"city": map[string]any{"type": "string"},
			},
			Required: []string{"city"},
		},
	}
}

func TestServerToolAdaptsDefinition(t *testing.T) {
	tool := newServerTool("weather", &fakeCaller{}, weatherDef())

	if tool.Name() != "weather.get_weather" {
		t.Fatalf("name = %q", tool.Name())
	}
	if tool.Description() != "Get the current weather for a city." {
		t.Fatalf("description = %q", tool.Description())
	}
	schema := string(tool.Schema())
	if !strings.Contains(schema, "city") || !strings.Contains(schema, "object") {
		t.Fatalf("schema = %s", schema)
	}
}

func TestServerToolDefaultDescription(t *testing.T) {
	def := weatherDef()
	def.Description = ""
	tool := newServerTool("weather", &fakeCaller{}, def)

	desc := tool.Description()
	if !strings.Contains(desc, "get_weather") || !strings.Contains(desc, "weather") {
		t.Fatalf("description = %q", desc)
	}
}

func TestServerToolReadOnlyHint(t *testing.T) {
	def := weatherDef()
	tool := newServerTool("weather", &fakeCaller{}, def)
	if tool.ReadOnly() {
		t.Fatal("absent hint must mean mutating")
	}

	def.Annotations = mcptypes.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
	tool = newServerTool("weather", &fakeCaller{}, def)
	if !tool.ReadOnly() {
		t.Fatal("expected read-only")
	}

	def.Annotations = mcptypes.ToolAnnotation{ReadOnlyHint: boolPtr(false)}
	tool = newServerTool("weather", &fakeCaller{}, def)
	if tool.ReadOnly() {
		t.Fatal("expected mutating")
	}
}

func TestServerToolPermission(t *testing.T) {
	def := weatherDef()
	tool := newServerTool("weather", &fakeCaller{}, def)

	spec := tool.Permission(nil)
	if !spec.Required {
		t.Fatal("mutating remote tool must require approval")
	}
	if spec.Key != "weather.get_weather" {
		t.Fatalf("key = %q", spec.Key)
	}

	def.Annotations = mcptypes.ToolAnnotation{ReadOnlyHint: boolPtr(true)}
	tool = newServerTool("weather", &fakeCaller{}, def)
	if tool.Permission(nil).Required {
		t.Fatal("read-only remote tool needs no approval")
	}
}

func TestServerToolExecute(t *testing.T) {
	fake := &fakeCaller{
		result: &mcptypes.CallToolResult{
			Content: []mcptypes.Content{
				mcptypes.TextContent{Type: "text", Text: "12 degrees, overcast"},
			},
		},
	}
	tool := newServerTool("weather", fake, weatherDef())
	env := &agent.ExecContext{}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"city":"berlin"}`), env, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", result.Rendered)
	}
	if result.Rendered != "12 degrees, overcast" {
		t.Fatalf("rendered = %q", result.Rendered)
	}

	if fake.lastReq.Params.Name != "get_weather" {
		t.Fatalf("remote name = %q", fake.lastReq.Params.Name)
	}
	args, err := json.Marshal(fake.lastReq.Params.Arguments)
	if err != nil {
		t.Fatalf("marshal forwarded arguments: %v", err)
	}
	if !strings.Contains(string(args), "berlin") {
		t.Fatalf("arguments = %s", args)
	}
}

func TestServerToolExecuteTransportError(t *testing.T) {
	fake := &fakeCaller{err: errors.New("pipe closed")}
	tool := newServerTool("weather", fake, weatherDef())
	env := &agent.ExecContext{}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"city":"berlin"}`), env, nil)
	if err != nil {
		t.Fatalf("transport failures resolve as error results: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Rendered, "weather.get_weather") {
		t.Fatalf("rendered = %q", result.Rendered)
	}
}

func TestServerToolExecuteRemoteError(t *testing.T) {
	fake := &fakeCaller{
		result: &mcptypes.CallToolResult{
			Content: []mcptypes.Content{
				mcptypes.TextContent{Type: "text", Text: "city not found"},
			},
			IsError: true,
		},
	}
	tool := newServerTool("weather", fake, weatherDef())
	env := &agent.ExecContext{}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"city":"atlantis"}`), env, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected the server's error flag to carry through")
	}
	if result.Rendered != "city not found" {
		t.Fatalf("rendered = %q", result.Rendered)
	}
}

func TestRenderContent(t *testing.T) {
	got := renderContent(nil)
	if got != "" {
		t.Fatalf("rendered = %q", got)
	}

	got = renderContent([]mcptypes.Content{
		mcptypes.TextContent{Type: "text", Text: "line one"},
		mcptypes.TextContent{Type: "text", Text: "line two"},
	})
	if got != "line one\nline two" {
		t.Fatalf("rendered = %q", got)
	}

	got = renderContent([]mcptypes.Content{
		mcptypes.TextContent{Type: "resource_ref", Text: ""},
	})
	if !strings.Contains(got, "resource_ref") {
		t.Fatalf("non-text content must surface as JSON, got %q", got)
	}
}

func TestManagerConnectValidation(t *testing.T) {
	mgr := NewManager(nil)
	ctx := context.Background()

	if _, err := mgr.Connect(ctx, ServerConfig{Command: "srv"}); err == nil {
		t.Fatal("expected missing name to be rejected")
	}
	if _, err := mgr.Connect(ctx, ServerConfig{Name: "srv"}); err == nil {
		t.Fatal("expected missing command to be rejected")
	}
	if _, err := mgr.Connect(ctx, ServerConfig{Name: "srv", Command: "/nonexistent/mcp-server"}); err == nil {
		t.Fatal("expected unlaunchable server to fail")
	}

	if tools := mgr.ConnectAll(ctx, []ServerConfig{{Name: "srv", Command: "/nonexistent/mcp-server"}}); len(tools) != 0 {
		t.Fatalf("tools = %d, want none", len(tools))
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
