package agent

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestToolErrorRendering(t *testing.T) {
	err := NewToolError(ToolErrorExecution, "bash", errors.New("exit status 1"))
	got := err.Error()
	if !strings.Contains(got, "[tool:execution]") {
		t.Errorf("missing type tag: %q", got)
	}
	if !strings.Contains(got, "bash") || !strings.Contains(got, "exit status 1") {
		t.Errorf("missing detail: %q", got)
	}
}

func TestToolErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewToolError(ToolErrorPanic, "edit", cause).WithToolUseID("tu_1")
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}

	wrapped := NewToolError(ToolErrorPanic, "edit", ErrToolPanic)
	if !errors.Is(wrapped, ErrToolPanic) {
		t.Error("sentinel not reachable")
	}

	extracted, ok := GetToolError(wrapped)
	if !ok || extracted.Type != ToolErrorPanic {
		t.Errorf("GetToolError = %v, %v", extracted, ok)
	}
}

func TestLoopErrorRendering(t *testing.T) {
	err := &LoopError{Phase: PhaseExecuteTools, Iteration: 3, Cause: errors.New("boom")}
	got := err.Error()
	if !strings.Contains(got, "execute_tools") || !strings.Contains(got, "iteration 3") {
		t.Errorf("LoopError = %q", got)
	}
	if !strings.Contains(got, "boom") {
		t.Errorf("cause missing: %q", got)
	}
}

func TestTruncateMiddleShortStringUntouched(t *testing.T) {
	s := "short error"
	if got := TruncateMiddle(s, 100); got != s {
		t.Errorf("short string changed: %q", got)
	}
}

func TestTruncateMiddleBoundsLength(t *testing.T) {
	long := strings.Repeat("x", 50000)
	got := TruncateMiddle(long, MaxErrorLength)
	if len(got) > MaxErrorLength {
		t.Errorf("len = %d, want <= %d", len(got), MaxErrorLength)
	}
	if !strings.Contains(got, "characters truncated") {
		t.Error("elision marker missing")
	}
	if !strings.HasPrefix(got, "xxxx") || !strings.HasSuffix(got, "xxxx") {
		t.Error("head or tail not preserved")
	}
}

func TestTruncateMiddleKeepsHeadAndTail(t *testing.T) {
	s := "HEAD-" + strings.Repeat("m", 2000) + "-TAIL"
	got := TruncateMiddle(s, 200)
	if !strings.HasPrefix(got, "HEAD-") {
		t.Errorf("head lost: %q", got[:20])
	}
	if !strings.HasSuffix(got, "-TAIL") {
		t.Errorf("tail lost: %q", got[len(got)-20:])
	}
}

func TestTruncateMiddleRuneBoundaries(t *testing.T) {
	s := strings.Repeat("日本語", 5000)
	got := TruncateMiddle(s, 300)
	if !utf8.ValidString(got) {
		t.Error("truncation split a rune")
	}
	if len(got) > 300 {
		t.Errorf("len = %d", len(got))
	}
}

func TestFormatToolError(t *testing.T) {
	if got := FormatToolError(nil); got != "" {
		t.Errorf("nil error formatted as %q", got)
	}
	long := errors.New(strings.Repeat("e", MaxErrorLength*2))
	if got := FormatToolError(long); len(got) > MaxErrorLength {
		t.Errorf("formatted error not bounded: %d", len(got))
	}
}
