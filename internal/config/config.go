// Package config loads and validates praxis configuration.
//
// The main config is YAML (~/.praxis/config.yaml by default, overridable via
// PRAXIS_CONFIG). Project-scoped settings live in .praxis/settings.json and
// are parsed as JSON5 with $include resolution, see settings.go. Environment
// variables are expanded in both before parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/praxis/internal/usage"
)

// Config is the main configuration structure for praxis.
type Config struct {
	Provider    ProviderConfig    `yaml:"provider"`
	Models      ModelsConfig      `yaml:"models"`
	Tools       ToolsConfig       `yaml:"tools"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Context     ContextConfig     `yaml:"context"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ProviderConfig selects and configures the model provider.
type ProviderConfig struct {
	// Name is one of "anthropic", "bedrock", "openai".
	Name string `yaml:"name"`

	// APIKey falls back to ANTHROPIC_API_KEY / OPENAI_API_KEY when empty.
	// Bedrock uses the standard AWS credential chain instead.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (proxies, compatible servers).
	BaseURL string `yaml:"base_url"`

	// Region is the AWS region for bedrock.
	Region string `yaml:"region"`

	// MaxRetries bounds model-call retry attempts.
	MaxRetries int `yaml:"max_retries"`
}

// ModelsConfig maps the two logical tiers to concrete models.
type ModelsConfig struct {
	Large ModelConfig `yaml:"large"`
	Small ModelConfig `yaml:"small"`
}

// ModelConfig configures one model tier.
type ModelConfig struct {
	ID        string      `yaml:"id"`
	MaxTokens int         `yaml:"max_tokens"`
	Pricing   *usage.Cost `yaml:"pricing"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	// Workspace is the root directory file tools are confined to.
	// Defaults to the current working directory.
	Workspace string `yaml:"workspace"`

	// MaxReadBytes caps how much of a file the read tool returns.
	MaxReadBytes int `yaml:"max_read_bytes"`

	// MaxOutputBytes caps tool output before head/tail truncation.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// BashTimeout bounds a single shell command.
	BashTimeout time.Duration `yaml:"bash_timeout"`

	// MaxConcurrent caps concurrently running read-only tools.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MCP lists external MCP tool servers to attach.
	MCP []MCPServerConfig `yaml:"mcp"`
}

// MCPServerConfig describes one stdio MCP server.
type MCPServerConfig struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// PermissionsConfig configures the permission engine.
type PermissionsConfig struct {
	// Mode is "prompt" (ask on unapproved tools), "deny" (never ask, refuse),
	// or "bypass" (skip all checks; also reachable via the CLI flag).
	Mode string `yaml:"mode"`

	// ApprovalsFile stores persisted approvals, relative paths resolve
	// against the project directory.
	ApprovalsFile string `yaml:"approvals_file"`

	// SafeCommands extends the built-in read-only command allow-list.
	SafeCommands []string `yaml:"safe_commands"`
}

// ContextConfig configures automatic prompt context.
type ContextConfig struct {
	// Disabled turns off git/directory context injection.
	Disabled bool `yaml:"disabled"`

	// MaxBytes caps the rendered size of a single context entry.
	MaxBytes int `yaml:"max_bytes"`

	// CacheTTL bounds how long cached context survives without
	// a filesystem change notification.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// SessionsConfig configures transcript persistence.
type SessionsConfig struct {
	// Path is the sqlite database file; ":memory:" keeps sessions ephemeral.
	Path string `yaml:"path"`

	// Keep caps how many sessions are retained before pruning.
	Keep int `yaml:"keep"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads, parses, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := decodeRaw[Config](raw)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the config from DefaultConfigPath, or returns a
// defaults-only config when no file exists yet.
func LoadDefault() (*Config, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg, nil
	}
	return Load(path)
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "bedrock", "openai":
	default:
		return fmt.Errorf("provider.name %q is not supported (anthropic, bedrock, openai)", c.Provider.Name)
	}

	switch c.Permissions.Mode {
	case "prompt", "deny", "bypass":
	default:
		return fmt.Errorf("permissions.mode %q is not supported (prompt, deny, bypass)", c.Permissions.Mode)
	}

	if c.Tools.MaxConcurrent < 1 {
		return fmt.Errorf("tools.max_concurrent must be at least 1, got %d", c.Tools.MaxConcurrent)
	}

	for i, srv := range c.Tools.MCP {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp[%d]: name is required", i)
		}
		if srv.Command == "" {
			return fmt.Errorf("tools.mcp[%d] (%s): command is required", i, srv.Name)
		}
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}
	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = 10
	}
	if cfg.Provider.APIKey == "" {
		switch cfg.Provider.Name {
		case "anthropic":
			cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openai":
			cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if cfg.Provider.Region == "" {
		cfg.Provider.Region = os.Getenv("AWS_REGION")
	}

	if cfg.Models.Large.ID == "" {
		cfg.Models.Large.ID = "claude-sonnet-4-20250514"
	}
	if cfg.Models.Large.MaxTokens == 0 {
		cfg.Models.Large.MaxTokens = 8192
	}
	if cfg.Models.Small.ID == "" {
		cfg.Models.Small.ID = "claude-3-5-haiku-20241022"
	}
	if cfg.Models.Small.MaxTokens == 0 {
		cfg.Models.Small.MaxTokens = 4096
	}

	if cfg.Tools.Workspace == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.Tools.Workspace = cwd
		}
	}
	if cfg.Tools.MaxReadBytes == 0 {
		cfg.Tools.MaxReadBytes = 262_144
	}
	if cfg.Tools.MaxOutputBytes == 0 {
		cfg.Tools.MaxOutputBytes = 30_000
	}
	if cfg.Tools.BashTimeout == 0 {
		cfg.Tools.BashTimeout = 2 * time.Minute
	}
	if cfg.Tools.MaxConcurrent == 0 {
		cfg.Tools.MaxConcurrent = 10
	}

	if cfg.Permissions.Mode == "" {
		cfg.Permissions.Mode = "prompt"
	}
	if cfg.Permissions.ApprovalsFile == "" {
		cfg.Permissions.ApprovalsFile = filepath.Join(".praxis", "approvals.json")
	}

	if cfg.Context.MaxBytes == 0 {
		cfg.Context.MaxBytes = 40_000
	}
	if cfg.Context.CacheTTL == 0 {
		cfg.Context.CacheTTL = 5 * time.Minute
	}

	if cfg.Sessions.Path == "" {
		cfg.Sessions.Path = filepath.Join(ConfigDir(), "sessions.db")
	}
	if cfg.Sessions.Keep == 0 {
		cfg.Sessions.Keep = 100
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ConfigDir returns the praxis state directory, PRAXIS_HOME or ~/.praxis.
func ConfigDir() string {
	if dir := os.Getenv("PRAXIS_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".praxis"
	}
	return filepath.Join(home, ".praxis")
}

// DefaultConfigPath returns the main config file path, honoring PRAXIS_CONFIG.
func DefaultConfigPath() string {
	if path := os.Getenv("PRAXIS_CONFIG"); path != "" {
		return path
	}
	return filepath.Join(ConfigDir(), "config.yaml")
}
