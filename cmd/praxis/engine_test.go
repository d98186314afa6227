package main

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/praxis/internal/config"
	"github.com/haasonsaas/praxis/internal/permissions"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Setenv("PRAXIS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.Name != "anthropic" {
		t.Fatalf("provider = %q", cfg.Provider.Name)
	}
	if cfg.Tools.Workspace == "" {
		t.Fatal("workspace default missing")
	}
}

func TestApplyProviderOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := &config.Config{}
	cfg.Provider.Name = "anthropic"
	cfg.Provider.APIKey = "sk-ant-original"

	if err := applyProviderOverride(cfg, ""); err != nil {
		t.Fatalf("empty override: %v", err)
	}
	if cfg.Provider.Name != "anthropic" || cfg.Provider.APIKey != "sk-ant-original" {
		t.Fatal("no-op override changed config")
	}

	if err := applyProviderOverride(cfg, "openai"); err != nil {
		t.Fatalf("openai override: %v", err)
	}
	if cfg.Provider.Name != "openai" || cfg.Provider.APIKey != "sk-test" {
		t.Fatalf("override = %q/%q", cfg.Provider.Name, cfg.Provider.APIKey)
	}

	if err := applyProviderOverride(cfg, "gemini"); err == nil {
		t.Fatal("expected unknown provider to be rejected")
	}
}

func TestDeniedKey(t *testing.T) {
	denied := map[string]bool{
		"write":            true,
		"Bash(rm -rf /)":   true,
		"weather.forecast": true,
	}

	if key, ok := deniedKey(permissions.Request{Tool: "write"}, denied); !ok || key != "write" {
		t.Fatalf("tool deny = %q/%v", key, ok)
	}
	if key, ok := deniedKey(permissions.Request{Tool: "Bash", Command: "rm -rf /", PrefixCapable: true}, denied); !ok || key != "Bash(rm -rf /)" {
		t.Fatalf("command deny = %q/%v", key, ok)
	}
	if key, ok := deniedKey(permissions.Request{Tool: "weather.forecast", Key: "weather.forecast"}, denied); !ok || key != "weather.forecast" {
		t.Fatalf("key deny = %q/%v", key, ok)
	}
	if _, ok := deniedKey(permissions.Request{Tool: "read"}, denied); ok {
		t.Fatal("read should not be denied")
	}
	if _, ok := deniedKey(permissions.Request{Tool: "write"}, nil); ok {
		t.Fatal("empty deny set should deny nothing")
	}
}

func TestBuildPermissionsFlow(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Tools.Workspace = dir
	cfg.Permissions.Mode = "prompt"
	cfg.Permissions.ApprovalsFile = filepath.Join(dir, "approvals.json")

	settings := &config.Settings{
		Permissions: config.SettingsPermissions{
			Allow: []string{"glob"},
			Deny:  []string{"write"},
		},
	}

	permFn, err := buildPermissions(cfg, settings, nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ctx := context.Background()

	res, err := permFn(ctx, permissions.Request{Tool: "write"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if res.Approved || !strings.Contains(res.Reason, "project settings") {
		t.Fatalf("write result = %+v", res)
	}

	res, err = permFn(ctx, permissions.Request{Tool: "glob"})
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if !res.Approved {
		t.Fatalf("seeded approval not honored: %+v", res)
	}

	res, err = permFn(ctx, permissions.Request{Tool: "bash", Command: "git status", PrefixCapable: true})
	if err != nil {
		t.Fatalf("safe command: %v", err)
	}
	if !res.Approved {
		t.Fatalf("safe command not allowed: %+v", res)
	}

	res, err = permFn(ctx, permissions.Request{Tool: "bash", Command: "rm -rf /", PrefixCapable: true})
	if err != nil {
		t.Fatalf("unapproved command: %v", err)
	}
	if res.Approved {
		t.Fatal("unapproved command allowed without a prompter")
	}
}

func TestSystemPromptAppend(t *testing.T) {
	eng := &engine{settings: &config.Settings{}}
	if got := eng.systemPrompt(); got != defaultSystemPrompt {
		t.Fatalf("prompt = %q", got)
	}

	eng.settings.SystemPromptAppend = "Always answer in haiku."
	got := eng.systemPrompt()
	if !strings.HasPrefix(got, defaultSystemPrompt) || !strings.Contains(got, "haiku") {
		t.Fatalf("prompt = %q", got)
	}
}

func TestApprovalsPath(t *testing.T) {
	cfg := &config.Config{}
	cfg.Tools.Workspace = "/work"
	cfg.Permissions.ApprovalsFile = filepath.Join(".praxis", "approvals.json")

	if got := approvalsPath(cfg); got != "/work/.praxis/approvals.json" {
		t.Fatalf("relative path = %q", got)
	}

	cfg.Permissions.ApprovalsFile = "/elsewhere/approvals.json"
	if got := approvalsPath(cfg); got != "/elsewhere/approvals.json" {
		t.Fatalf("absolute path = %q", got)
	}
}
