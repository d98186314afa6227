package agent

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for engine operations.
var (
	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorType categorizes tool invocation failures.
type ToolErrorType string

const (
	// ToolErrorNotFound indicates the tool doesn't exist.
	ToolErrorNotFound ToolErrorType = "not_found"

	// ToolErrorInvalidInput indicates the input failed schema or semantic
	// validation.
	ToolErrorInvalidInput ToolErrorType = "invalid_input"

	// ToolErrorPermission indicates the call was not approved.
	ToolErrorPermission ToolErrorType = "permission"

	// ToolErrorExecution indicates a runtime failure during execution.
	ToolErrorExecution ToolErrorType = "execution"

	// ToolErrorPanic indicates the tool panicked.
	ToolErrorPanic ToolErrorType = "panic"

	// ToolErrorCanceled indicates the call was cut short by cancellation.
	ToolErrorCanceled ToolErrorType = "canceled"
)

// ToolError is a structured tool invocation failure, categorized for
// rendering and logging.
type ToolError struct {
	// Type categorizes the failure.
	Type ToolErrorType

	// ToolName is the tool that failed.
	ToolName string

	// ToolUseID correlates the failure with its tool-use block.
	ToolUseID string

	// Message is the human-readable description.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError builds a ToolError of the given type.
func NewToolError(t ToolErrorType, toolName string, cause error) *ToolError {
	e := &ToolError{Type: t, ToolName: toolName, Cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// WithToolUseID sets the originating tool-use id.
func (e *ToolError) WithToolUseID(id string) *ToolError {
	e.ToolUseID = id
	return e
}

// WithMessage sets a custom human-readable message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// LoopPhase is a distinct phase of the query loop.
type LoopPhase string

const (
	// PhaseCompose is system prompt composition.
	PhaseCompose LoopPhase = "compose"

	// PhaseComplete is the model call.
	PhaseComplete LoopPhase = "complete"

	// PhaseExecuteTools is tool execution.
	PhaseExecuteTools LoopPhase = "execute_tools"
)

// LoopError is a query loop failure with the phase and iteration it
// occurred in.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// MaxErrorLength bounds formatted tool errors before they become result
// content.
const MaxErrorLength = 10000

// TruncateMiddle bounds s to max bytes by keeping the head and tail and
// replacing the middle with an elision marker. Cuts land on rune boundaries.
func TruncateMiddle(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}

	marker := fmt.Sprintf("\n\n... [%d characters truncated] ...\n\n", utf8.RuneCountInString(s))
	if max <= len(marker) {
		return truncateAtRune(s, max)
	}

	keep := max - len(marker)
	head := truncateAtRune(s, keep/2)
	tail := truncateTailAtRune(s, keep-len(head))
	return head + marker + tail
}

// FormatToolError renders an execution failure as bounded result content.
func FormatToolError(err error) string {
	if err == nil {
		return ""
	}
	return TruncateMiddle(err.Error(), MaxErrorLength)
}

// truncateAtRune returns the longest prefix of s at most n bytes long that
// ends on a rune boundary.
func truncateAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// truncateTailAtRune returns the longest suffix of s at most n bytes long
// that starts on a rune boundary.
func truncateTailAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
