package permissions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type stubClassifier struct {
	cls *Classification
	err error
}

func (s stubClassifier) Classify(ctx context.Context, command string) (*Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.cls, nil
}

func newTestEngine(t *testing.T, approved ...string) *Engine {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "approvals.json"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	s.Seed(approved)
	return NewEngine(s, nil, nil, nil)
}

func checkShell(t *testing.T, e *Engine, command string) Decision {
	t.Helper()
	d, err := e.Check(context.Background(), Request{
		Tool:          "Bash",
		Command:       command,
		PrefixCapable: true,
	})
	if err != nil {
		t.Fatalf("Check(%q) error: %v", command, err)
	}
	return d
}

func TestEngineSafeCommands(t *testing.T) {
	e := newTestEngine(t)

	for _, cmd := range []string{"git status", "git diff", "pwd", "date", "which", "  git   log  "} {
		if d := checkShell(t, e, cmd); !d.Allowed {
			t.Errorf("safe command %q denied: %s", cmd, d.Reason)
		}
	}
	for _, cmd := range []string{"git push", "git status --porcelain", "rm -rf /tmp/x"} {
		if d := checkShell(t, e, cmd); d.Allowed {
			t.Errorf("command %q allowed with empty store", cmd)
		}
	}
}

func TestEngineConfiguredSafeCommands(t *testing.T) {
	s, _ := OpenStore(filepath.Join(t.TempDir(), "approvals.json"))
	e := NewEngine(s, NewSafeList("go version"), nil, nil)
	if d := checkShell(t, e, "go version"); !d.Allowed {
		t.Errorf("configured safe command denied: %s", d.Reason)
	}
}

func TestEngineExactApproval(t *testing.T) {
	e := newTestEngine(t, "Bash(npm run build)")
	if d := checkShell(t, e, "npm run build"); !d.Allowed {
		t.Errorf("exact approval denied: %s", d.Reason)
	}
	if d := checkShell(t, e, "npm run deploy"); d.Allowed {
		t.Error("different command allowed by exact approval")
	}
}

func TestEnginePrefixApproval(t *testing.T) {
	e := newTestEngine(t, "Bash(git:*)")
	if d := checkShell(t, e, "git push origin main"); !d.Allowed {
		t.Errorf("prefix approval denied: %s", d.Reason)
	}
	if d := checkShell(t, e, "npm install"); d.Allowed {
		t.Error("unrelated command allowed by git prefix")
	}
}

func TestEngineDenialSuggestsKeys(t *testing.T) {
	e := newTestEngine(t)
	d := checkShell(t, e, "git push origin main")
	if d.Allowed {
		t.Fatal("unexpected approval")
	}
	if d.Key != "Bash(git push origin main)" {
		t.Errorf("exact key = %q", d.Key)
	}
	if d.PrefixKey != "Bash(git:*)" {
		t.Errorf("prefix key = %q", d.PrefixKey)
	}
}

func TestEngineFailClosed(t *testing.T) {
	s, _ := OpenStore(filepath.Join(t.TempDir(), "approvals.json"))
	s.Seed([]string{"Bash(git:*)"})
	e := NewEngine(s, nil, stubClassifier{err: errors.New("classifier down")}, nil)

	d, err := e.Check(context.Background(), Request{
		Tool: "Bash", Command: "git push", PrefixCapable: true,
	})
	if err != nil {
		t.Fatalf("classifier failure surfaced as error: %v", err)
	}
	if d.Allowed {
		t.Error("classifier failure did not deny")
	}
	if !strings.Contains(d.Reason, "analyzed") {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestEngineCancellationPropagates(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Check(ctx, Request{Tool: "Bash", Command: "git push", PrefixCapable: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngineInjectionOverride(t *testing.T) {
	command := "echo hello; rm -rf /"
	cls := &Classification{
		Segments: []Segment{
			{Command: "echo hello", Prefix: "echo"},
			{Command: "rm -rf /", Prefix: "rm"},
		},
		Injection: true,
	}

	s, _ := OpenStore(filepath.Join(t.TempDir(), "approvals.json"))
	s.Seed([]string{"Bash(echo:*)", "Bash(rm:*)"})
	e := NewEngine(s, nil, stubClassifier{cls: cls}, nil)

	d, err := e.Check(context.Background(), Request{
		Tool: "Bash", Command: command, PrefixCapable: true,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatal("injection-flagged command approved through prefixes")
	}

	s.Seed([]string{ExactKey("Bash", command)})
	d, err = e.Check(context.Background(), Request{
		Tool: "Bash", Command: command, PrefixCapable: true,
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !d.Allowed {
		t.Errorf("exact full-command approval denied: %s", d.Reason)
	}
}

func TestEngineCompoundAllOrNothing(t *testing.T) {
	e := newTestEngine(t, "Bash(echo:*)")
	if d := checkShell(t, e, "echo hello; rm -rf /tmp/x"); d.Allowed {
		t.Fatal("compound approved with unapproved sub-command")
	}

	e = newTestEngine(t, "Bash(echo:*)", "Bash(rm:*)")
	if d := checkShell(t, e, "echo hello; rm -rf /tmp/x"); !d.Allowed {
		t.Errorf("fully covered compound denied: %s", d.Reason)
	}
}

func TestEngineCompoundSafeSegments(t *testing.T) {
	e := newTestEngine(t, "Bash(go:*)")
	// git status is safe, go build is prefix-approved.
	if d := checkShell(t, e, "git status && go build ./..."); !d.Allowed {
		t.Errorf("compound with safe segment denied: %s", d.Reason)
	}
}

func TestEngineCompoundUnknownPrefixDenies(t *testing.T) {
	e := newTestEngine(t, "Bash(echo:*)")
	// The second segment resolves to no prefix, so nothing can cover it.
	if d := checkShell(t, e, "echo hi && ./deploy.sh"); d.Allowed {
		t.Fatal("compound approved despite segment without prefix")
	}
}

func TestEngineNonShellTool(t *testing.T) {
	e := newTestEngine(t)
	d, err := e.Check(context.Background(), Request{Tool: "Read"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if d.Allowed {
		t.Fatal("unapproved tool allowed")
	}
	if d.Key != "Read" {
		t.Errorf("key = %q", d.Key)
	}

	e = newTestEngine(t, "Read")
	if d, _ := e.Check(context.Background(), Request{Tool: "Read"}); !d.Allowed {
		t.Error("approved tool denied")
	}
}

func TestEngineCustomKey(t *testing.T) {
	e := newTestEngine(t, "WebFetch(domain:example.com)")
	d, _ := e.Check(context.Background(), Request{
		Tool: "WebFetch",
		Key:  "WebFetch(domain:example.com)",
	})
	if !d.Allowed {
		t.Error("custom key denied")
	}
}

type stubPrompter struct {
	answer PromptAnswer
	err    error
	asked  []PromptRequest
}

func (p *stubPrompter) Prompt(ctx context.Context, req PromptRequest) (PromptAnswer, error) {
	p.asked = append(p.asked, req)
	return p.answer, p.err
}

func TestCheckerAllowOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	s, _ := OpenStore(path)
	prompt := &stubPrompter{answer: AnswerAllowOnce}
	c := NewChecker(NewEngine(s, nil, nil, nil), prompt)

	req := Request{Tool: "Bash", Command: "npm install", PrefixCapable: true}
	res, err := c.CanUseTool(context.Background(), req)
	if err != nil {
		t.Fatalf("CanUseTool: %v", err)
	}
	if !res.Approved {
		t.Fatalf("prompt approval not honored: %s", res.Reason)
	}
	if len(prompt.asked) != 1 {
		t.Fatalf("prompt count = %d", len(prompt.asked))
	}

	// Nothing recorded, so the same request prompts again.
	if _, err := c.CanUseTool(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(prompt.asked) != 2 {
		t.Error("allow-once persisted an approval")
	}
}

func TestCheckerAllowAlwaysPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	s, _ := OpenStore(path)
	prompt := &stubPrompter{answer: AnswerAllowAlways}
	c := NewChecker(NewEngine(s, nil, nil, nil), prompt)

	req := Request{Tool: "Bash", Command: "npm install", PrefixCapable: true}
	if res, _ := c.CanUseTool(context.Background(), req); !res.Approved {
		t.Fatal("prompt approval not honored")
	}

	// Second call approves without prompting.
	if res, _ := c.CanUseTool(context.Background(), req); !res.Approved {
		t.Fatal("recorded approval not honored")
	}
	if len(prompt.asked) != 1 {
		t.Errorf("prompt count = %d, want 1", len(prompt.asked))
	}

	reopened, _ := OpenStore(path)
	if !reopened.IsApproved("Bash(npm install)") {
		t.Error("approval not persisted to disk")
	}
}

func TestCheckerAllowPrefix(t *testing.T) {
	s, _ := OpenStore(filepath.Join(t.TempDir(), "approvals.json"))
	prompt := &stubPrompter{answer: AnswerAllowPrefix}
	c := NewChecker(NewEngine(s, nil, nil, nil), prompt)

	req := Request{Tool: "Bash", Command: "git push origin main", PrefixCapable: true}
	if res, _ := c.CanUseTool(context.Background(), req); !res.Approved {
		t.Fatal("prompt approval not honored")
	}

	// The whole prefix is now covered.
	other := Request{Tool: "Bash", Command: "git fetch --all", PrefixCapable: true}
	if res, _ := c.CanUseTool(context.Background(), other); !res.Approved {
		t.Error("prefix approval did not cover sibling command")
	}
	if len(prompt.asked) != 1 {
		t.Errorf("prompt count = %d, want 1", len(prompt.asked))
	}
}

func TestCheckerSessionOnlyNeverPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	s, _ := OpenStore(path)
	prompt := &stubPrompter{answer: AnswerAllowAlways}
	c := NewChecker(NewEngine(s, nil, nil, nil), prompt)

	req := Request{Tool: "Edit", SessionOnly: true}
	if res, _ := c.CanUseTool(context.Background(), req); !res.Approved {
		t.Fatal("prompt approval not honored")
	}
	// Approved for the rest of the session without another prompt.
	if res, _ := c.CanUseTool(context.Background(), req); !res.Approved {
		t.Fatal("session approval not honored")
	}
	if len(prompt.asked) != 1 {
		t.Errorf("prompt count = %d, want 1", len(prompt.asked))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("session-only approval reached disk")
	}
}

func TestCheckerDeny(t *testing.T) {
	s, _ := OpenStore(filepath.Join(t.TempDir(), "approvals.json"))
	c := NewChecker(NewEngine(s, nil, nil, nil), &stubPrompter{answer: AnswerDeny})

	res, err := c.CanUseTool(context.Background(), Request{Tool: "Bash", Command: "rm -rf /tmp/x", PrefixCapable: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Approved {
		t.Fatal("denied prompt approved the call")
	}
	if res.Reason == "" {
		t.Error("denial carries no reason")
	}
}

func TestCheckerNoPrompter(t *testing.T) {
	s, _ := OpenStore(filepath.Join(t.TempDir(), "approvals.json"))
	c := NewChecker(NewEngine(s, nil, nil, nil), nil)

	res, err := c.CanUseTool(context.Background(), Request{Tool: "Bash", Command: "npm install", PrefixCapable: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Approved {
		t.Fatal("non-interactive mode approved an unapproved command")
	}
}

func TestCheckerPromptFailureDenies(t *testing.T) {
	s, _ := OpenStore(filepath.Join(t.TempDir(), "approvals.json"))
	c := NewChecker(NewEngine(s, nil, nil, nil), &stubPrompter{err: errors.New("tty gone")})

	res, err := c.CanUseTool(context.Background(), Request{Tool: "Bash", Command: "npm install", PrefixCapable: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Approved {
		t.Fatal("prompt failure approved the call")
	}
}
