package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/praxis/internal/agent"
	"github.com/haasonsaas/praxis/internal/agent/providers"
	"github.com/haasonsaas/praxis/internal/config"
	"github.com/haasonsaas/praxis/internal/observability"
	"github.com/haasonsaas/praxis/internal/permissions"
	"github.com/haasonsaas/praxis/internal/promptctx"
	"github.com/haasonsaas/praxis/internal/sessions"
	"github.com/haasonsaas/praxis/internal/tools"
	"github.com/haasonsaas/praxis/internal/tools/mcp"
	"github.com/haasonsaas/praxis/internal/usage"
)

// defaultSystemPrompt is the base system prompt before project context and
// settings appendments.
const defaultSystemPrompt = `You are praxis, an AI assistant for software engineering tasks in a terminal.

Use the available tools to read, search, and modify files and to run commands
in the user's workspace. Prefer looking at the actual code over guessing.
Keep responses concise; this is a terminal, not a document. When you change
files, state what you changed and why.`

// engineOptions carries the chat/ask flag set into assembly.
type engineOptions struct {
	configPath      string
	provider        string
	model           string
	skipPermissions bool
}

// engine is one assembled conversation stack: provider, tool registry,
// permission gate, session store and context builder, wired from config.
type engine struct {
	cfg      *config.Config
	settings *config.Settings
	log      *observability.Logger
	logClose func()
	tracker  *usage.Tracker
	registry *agent.Registry
	loop     *agent.Loop
	store    sessions.Store
	prompts  *promptctx.Builder
	mcp      *mcp.Manager
	permFn   agent.PermissionFunc

	workDir   string
	model     string
	skipPerms bool
}

// newEngine assembles the conversation stack. The prompter handles
// interactive permission requests; nil means every unapproved tool call is
// denied.
func newEngine(ctx context.Context, opts engineOptions, prompter permissions.Prompter) (*engine, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := applyProviderOverride(cfg, opts.provider); err != nil {
		return nil, err
	}

	log, logClose, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	workDir := cfg.Tools.Workspace

	settings, err := config.LoadSettings(workDir)
	if err != nil {
		log.Warn(ctx, "project settings unreadable, continuing without them", "error", err)
		settings = &config.Settings{}
	}
	for k, v := range settings.Env {
		os.Setenv(k, v)
	}

	model := opts.model
	if model == "" {
		model = settings.Model
	}
	if model == "" {
		model = cfg.Models.Large.ID
	}

	tracker := usage.NewTracker()
	provider, err := buildProvider(ctx, cfg, model)
	if err != nil {
		logClose()
		return nil, err
	}
	tierCfg, tier := cfg.Models.Large, usage.TierLarge
	if model == cfg.Models.Small.ID {
		tierCfg, tier = cfg.Models.Small, usage.TierSmall
	}
	completer := providers.NewCompleter(provider, providers.Options{
		Model:       model,
		Tier:        tier,
		MaxTokens:   tierCfg.MaxTokens,
		MaxAttempts: cfg.Provider.MaxRetries,
		Rates:       tierCfg.Pricing,
		Tracker:     tracker,
		Logger:      log,
	})

	registry := agent.NewRegistry()
	for _, tool := range tools.Builtin(cfg.Tools) {
		registry.Register(tool)
	}
	mcpMgr := mcp.NewManager(log)
	for _, tool := range mcpMgr.ConnectAll(ctx, tools.MCPServers(cfg.Tools)) {
		registry.Register(tool)
	}

	permFn, err := buildPermissions(cfg, settings, prompter, log)
	if err != nil {
		_ = mcpMgr.Close()
		logClose()
		return nil, err
	}

	var prompts *promptctx.Builder
	if !cfg.Context.Disabled {
		builder, err := promptctx.New(workDir, promptctx.Options{
			Logger:         log,
			MaxReadmeBytes: cfg.Context.MaxBytes,
		})
		if err != nil {
			log.Warn(ctx, "context builder unavailable", "error", err)
		} else {
			if err := builder.StartWatching(ctx); err != nil {
				log.Warn(ctx, "context watcher unavailable, rebuilding per turn", "error", err)
			}
			prompts = builder
		}
	}

	return &engine{
		cfg:       cfg,
		settings:  settings,
		log:       log,
		logClose:  logClose,
		tracker:   tracker,
		registry:  registry,
		loop:      agent.NewLoop(completer, registry, cfg.Tools.MaxConcurrent, log),
		store:     openSessionStore(ctx, cfg.Sessions, log),
		prompts:   prompts,
		mcp:       mcpMgr,
		permFn:    permFn,
		workDir:   workDir,
		model:     model,
		skipPerms: opts.skipPermissions || cfg.Permissions.Mode == "bypass",
	}, nil
}

// queryOptions builds the per-turn options: system prompt, fresh context
// map, permission gate.
func (e *engine) queryOptions(ctx context.Context) agent.QueryOptions {
	opts := agent.QueryOptions{
		SystemPrompt:    e.systemPrompt(),
		Permissions:     e.permFn,
		WorkDir:         e.workDir,
		SkipPermissions: e.skipPerms,
	}
	if e.prompts != nil {
		if ttl := e.cfg.Context.CacheTTL; ttl > 0 {
			if at := e.prompts.BuiltAt(); !at.IsZero() && time.Since(at) > ttl {
				e.prompts.Invalidate()
			}
		}
		opts.Context = e.prompts.Build(ctx)
	}
	return opts
}

func (e *engine) systemPrompt() string {
	if extra := strings.TrimSpace(e.settings.SystemPromptAppend); extra != "" {
		return defaultSystemPrompt + "\n\n" + extra
	}
	return defaultSystemPrompt
}

// Close releases everything newEngine started.
func (e *engine) Close() {
	if e.mcp != nil {
		_ = e.mcp.Close()
	}
	if e.prompts != nil {
		_ = e.prompts.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.logClose != nil {
		e.logClose()
	}
}

// loadConfig loads the named file, or the default path with a defaults-only
// fallback when no file exists yet.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadDefault()
	}
	return config.Load(path)
}

// applyProviderOverride swaps the provider selected by config for the one
// from the CLI flag, re-resolving the API key from the environment.
func applyProviderOverride(cfg *config.Config, name string) error {
	if name == "" || name == cfg.Provider.Name {
		return nil
	}
	switch name {
	case "anthropic":
		cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	case "bedrock":
		cfg.Provider.APIKey = ""
	default:
		return fmt.Errorf("unknown provider %q (anthropic, bedrock, openai)", name)
	}
	cfg.Provider.Name = name
	return nil
}

func buildProvider(ctx context.Context, cfg *config.Config, model string) (providers.Provider, error) {
	switch cfg.Provider.Name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.Provider.APIKey,
			BaseURL:      cfg.Provider.BaseURL,
			DefaultModel: model,
		})
	case "bedrock":
		return providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region:       cfg.Provider.Region,
			DefaultModel: model,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       cfg.Provider.APIKey,
			BaseURL:      cfg.Provider.BaseURL,
			DefaultModel: model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// newLogger builds the structured logger, opening the configured log file
// when one is set. The returned closer is safe to call once.
func newLogger(cfg config.LoggingConfig) (*observability.Logger, func(), error) {
	logCfg := observability.LogConfig{
		Level:  cfg.Level,
		Format: cfg.Format,
	}
	if cfg.File == "" {
		return observability.NewLogger(logCfg), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logCfg.Output = file
	return observability.NewLogger(logCfg), func() { _ = file.Close() }, nil
}

// approvalsPath resolves the approvals file, anchoring relative paths in the
// workspace so approvals stay project-scoped.
func approvalsPath(cfg *config.Config) string {
	path := cfg.Permissions.ApprovalsFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Tools.Workspace, path)
	}
	return path
}

// buildPermissions wires the approval store, safe list and engine into the
// loop's permission callback. Project settings seed approvals and supply the
// deny list; mode "deny" drops the prompter so engine denials are final.
func buildPermissions(cfg *config.Config, settings *config.Settings, prompter permissions.Prompter, log *observability.Logger) (agent.PermissionFunc, error) {
	store, err := permissions.OpenStore(approvalsPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open approvals store: %w", err)
	}
	store.Seed(settings.Permissions.Allow)

	engine := permissions.NewEngine(store, permissions.NewSafeList(cfg.Permissions.SafeCommands...), nil, log)
	if cfg.Permissions.Mode == "deny" {
		prompter = nil
	}
	checker := permissions.NewChecker(engine, prompter)

	denied := make(map[string]bool, len(settings.Permissions.Deny))
	for _, key := range settings.Permissions.Deny {
		if key = strings.TrimSpace(key); key != "" {
			denied[key] = true
		}
	}

	return func(ctx context.Context, req permissions.Request) (permissions.Result, error) {
		if key, ok := deniedKey(req, denied); ok {
			return permissions.Result{Approved: false, Reason: fmt.Sprintf("%s is denied by project settings", key)}, nil
		}
		return checker.CanUseTool(ctx, req)
	}, nil
}

// deniedKey reports the first deny-list entry covering the request. Deny
// entries match the same key forms approvals use: the bare tool name or an
// exact Tool(command) key.
func deniedKey(req permissions.Request, denied map[string]bool) (string, bool) {
	if len(denied) == 0 {
		return "", false
	}
	keys := []string{permissions.ToolKey(req.Tool)}
	if req.Key != "" {
		keys = append(keys, req.Key)
	}
	if req.Command != "" {
		keys = append(keys, permissions.ExactKey(req.Tool, req.Command))
	}
	for _, key := range keys {
		if denied[key] {
			return key, true
		}
	}
	return "", false
}

// openSessionStore opens the sqlite transcript store, degrading to the
// in-memory store when the file cannot be opened.
func openSessionStore(ctx context.Context, cfg config.SessionsConfig, log *observability.Logger) sessions.Store {
	store, err := sessions.OpenSQLite(sessions.SQLiteConfig{Path: cfg.Path})
	if err != nil {
		log.Warn(ctx, "session store unavailable, transcripts will not persist", "path", cfg.Path, "error", err)
		return sessions.NewMemoryStore()
	}
	if cfg.Keep > 0 {
		if pruned, err := store.Prune(ctx, cfg.Keep); err != nil {
			log.Warn(ctx, "session prune failed", "error", err)
		} else if pruned > 0 {
			log.Debug(ctx, "pruned old sessions", "count", pruned)
		}
	}
	return store
}
