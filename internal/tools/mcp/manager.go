// Package mcp attaches external MCP stdio servers and surfaces their tools
// through the agent tool contract. Each remote tool appears under a
// server-qualified name so approvals stay scoped to the server that
// provides it.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/haasonsaas/praxis/internal/agent"
	"github.com/haasonsaas/praxis/internal/observability"
)

const (
	protocolVersion = "2025-06-18"
	clientName      = "praxis"
	clientVersion   = "0.1.0"
)

// ServerConfig describes one stdio MCP server to launch.
type ServerConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
}

// Manager owns the connections to configured MCP servers and the tools
// discovered on them.
type Manager struct {
	log *observability.Logger

	mu      sync.Mutex
	clients map[string]*client.Client
	tools   []agent.Tool
}

// NewManager creates an empty manager. A nil logger discards diagnostics.
func NewManager(log *observability.Logger) *Manager {
	if log == nil {
		log = observability.Discard()
	}
	return &Manager{
		log:     log.WithComponent("mcp"),
		clients: map[string]*client.Client{},
	}
}

// Connect launches one server, initializes the session and lists its tools.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig) ([]agent.Tool, error) {
	if cfg.Name == "" {
		return nil, errors.New("server name is required")
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("server %s: command is required", cfg.Name)
	}
	m.mu.Lock()
	_, exists := m.clients[cfg.Name]
	m.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("server %s already connected", cfg.Name)
	}

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cli, err := client.NewStdioMCPClientWithOptions(cfg.Command, env, cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("start server %s: %w", cfg.Name, err)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initialize server %s: %w", cfg.Name, err)
	}

	listed, err := cli.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("list tools on %s: %w", cfg.Name, err)
	}

	tools := make([]agent.Tool, 0, len(listed.Tools))
	for _, def := range listed.Tools {
		tools = append(tools, newServerTool(cfg.Name, cli, def))
	}

	m.mu.Lock()
	m.clients[cfg.Name] = cli
	m.tools = append(m.tools, tools...)
	m.mu.Unlock()

	m.log.Info(ctx, "mcp server connected", "server", cfg.Name, "tools", len(tools))
	return tools, nil
}

// ConnectAll connects every configured server, skipping ones that fail so a
// broken server doesn't take the rest of the catalog down.
func (m *Manager) ConnectAll(ctx context.Context, cfgs []ServerConfig) []agent.Tool {
	var all []agent.Tool
	for _, cfg := range cfgs {
		tools, err := m.Connect(ctx, cfg)
		if err != nil {
			m.log.Warn(ctx, "mcp server unavailable", "server", cfg.Name, "error", err)
			continue
		}
		all = append(all, tools...)
	}
	return all
}

// Tools returns every discovered tool across connected servers.
func (m *Manager) Tools() []agent.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.Tool, len(m.tools))
	copy(out, m.tools)
	return out
}

// Close shuts down every server connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	clients := m.clients
	m.clients = map[string]*client.Client{}
	m.tools = nil
	m.mu.Unlock()

	var errs []error
	for name, cli := range clients {
		if err := cli.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close server %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
