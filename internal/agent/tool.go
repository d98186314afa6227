// Package agent implements the conversation engine: the tool invocation
// pipeline, the batch scheduler and the query loop that drives model turns
// and tool execution until the model stops requesting tools.
package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/praxis/internal/observability"
	"github.com/haasonsaas/praxis/internal/permissions"
	"github.com/haasonsaas/praxis/pkg/models"
)

// ProgressFunc receives partial-output snapshots from a running tool. Calls
// after the tool returns are ignored.
type ProgressFunc func(snapshot *models.AssistantMessage)

// Result is a tool's terminal output. Rendered is the assistant-facing text
// resubmitted to the model; Raw is the full output kept on the message for
// local consumers.
type Result struct {
	Rendered string
	Raw      json.RawMessage
	IsError  bool
}

// Tool is the contract every tool implements. Execution returns exactly one
// terminal result; progress flows through the callback. Optional behavior is
// added through the Normalizer, SemanticValidator and PermissionReporter
// interfaces.
type Tool interface {
	// Name identifies the tool in tool-use blocks and approval keys.
	Name() string

	// Description is surfaced to the model in the tool catalog.
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() json.RawMessage

	// ReadOnly reports whether the tool is free of side effects. Read-only
	// batches run concurrently; anything else serializes the whole batch.
	ReadOnly() bool

	// Execute runs the tool with validated, normalized input.
	Execute(ctx context.Context, input json.RawMessage, env *ExecContext, progress ProgressFunc) (*Result, error)
}

// Normalizer lets a tool rewrite its input after schema validation and
// before everything else, e.g. stripping a redundant "cd <cwd> && " prefix.
type Normalizer interface {
	NormalizeInput(ctx context.Context, env *ExecContext, input json.RawMessage) (json.RawMessage, error)
}

// SemanticValidator lets a tool reject inputs that are schema-valid but
// meaningless, with a message of its own. Failure skips execution.
type SemanticValidator interface {
	ValidateInput(ctx context.Context, env *ExecContext, input json.RawMessage) error
}

// PermissionSpec describes how one invocation is gated.
type PermissionSpec struct {
	// Required is false for calls that may proceed without any check.
	Required bool
	// Key overrides the approval key; empty means the bare tool name.
	Key string
	// Command is the shell command text for prefix-capable tools.
	Command string
	// Prefix marks tools whose approvals can be scoped to command prefixes.
	Prefix bool
	// SessionOnly marks tools whose approvals must never persist.
	SessionOnly bool
}

// PermissionReporter lets a tool describe its gating per input. Tools that
// do not implement it require a check exactly when they are not read-only,
// keyed by tool name.
type PermissionReporter interface {
	Permission(input json.RawMessage) PermissionSpec
}

// PermissionFunc decides one gated call. The error is non-nil only on
// cancellation.
type PermissionFunc func(ctx context.Context, req permissions.Request) (permissions.Result, error)

// ExecContext carries cross-cutting state for one tool batch.
type ExecContext struct {
	// WorkDir is the working directory tools resolve paths against.
	WorkDir string

	// SkipPermissions bypasses every permission check for the session.
	SkipPermissions bool

	// SkipPermissionsForTurn bypasses checks for the current turn only, set
	// when a comparison-mode judge waived them.
	SkipPermissionsForTurn bool

	// Permissions decides gated calls. Nil denies every gated call.
	Permissions PermissionFunc

	// BatchIDs holds every tool-use id dispatched in this batch, in request
	// order. Progress messages carry the sibling subset.
	BatchIDs []string

	// ToolNames is the active tool catalog, recorded on progress messages.
	ToolNames []string

	// Emit delivers progress and result messages to the stream in completion
	// order. Nil drops them.
	Emit func(models.Message)

	// Logger receives pipeline diagnostics. Nil discards.
	Logger *observability.Logger
}

func (e *ExecContext) logger() *observability.Logger {
	if e.Logger == nil {
		return observability.Discard()
	}
	return e.Logger
}

func (e *ExecContext) emit(m models.Message) {
	if e.Emit != nil {
		e.Emit(m)
	}
}

// siblings returns the other tool-use ids of the batch.
func (e *ExecContext) siblings(id string) []string {
	if len(e.BatchIDs) <= 1 {
		return nil
	}
	out := make([]string, 0, len(e.BatchIDs)-1)
	for _, other := range e.BatchIDs {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}

// permissionSpec resolves a tool's gating for the given input.
func permissionSpec(tool Tool, input json.RawMessage) PermissionSpec {
	if reporter, ok := tool.(PermissionReporter); ok {
		return reporter.Permission(input)
	}
	return PermissionSpec{Required: !tool.ReadOnly()}
}
