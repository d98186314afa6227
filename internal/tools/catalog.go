// Package tools assembles the built-in toolset the agent runs with.
package tools

import (
	"github.com/haasonsaas/praxis/internal/agent"
	"github.com/haasonsaas/praxis/internal/config"
	"github.com/haasonsaas/praxis/internal/tools/exec"
	"github.com/haasonsaas/praxis/internal/tools/files"
	"github.com/haasonsaas/praxis/internal/tools/mcp"
	"github.com/haasonsaas/praxis/internal/tools/search"
)

// Builtin returns the core tools configured from cfg: bash, the file
// tools and the workspace search tools. MCP servers are attached
// separately through mcp.Manager.
func Builtin(cfg config.ToolsConfig) []agent.Tool {
	return []agent.Tool{
		exec.NewBashTool(exec.Options{
			MaxOutputBytes: cfg.MaxOutputBytes,
			DefaultTimeout: cfg.BashTimeout,
		}),
		files.NewReadTool(cfg.MaxReadBytes),
		files.NewWriteTool(),
		files.NewEditTool(),
		search.NewGlobTool(0),
		search.NewGrepTool(0),
	}
}

// MCPServers maps the MCP section of the tools config onto the
// manager's server configs.
func MCPServers(cfg config.ToolsConfig) []mcp.ServerConfig {
	servers := make([]mcp.ServerConfig, 0, len(cfg.MCP))
	for _, s := range cfg.MCP {
		servers = append(servers, mcp.ServerConfig{
			Name:    s.Name,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
		})
	}
	return servers
}
