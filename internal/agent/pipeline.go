package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/praxis/internal/permissions"
	"github.com/haasonsaas/praxis/pkg/models"
)

// productName appears in permission denial results shown to the model.
const productName = "Praxis"

// ToolRequest is one tool-use block extracted from an assistant turn.
type ToolRequest struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Pipeline turns one tool request into exactly one terminal tool-result
// message, emitting progress messages along the way. Every failure mode
// resolves the tool-use; nothing aborts the batch.
type Pipeline struct {
	registry *Registry
}

// NewPipeline builds a pipeline over the given registry.
func NewPipeline(registry *Registry) *Pipeline {
	return &Pipeline{registry: registry}
}

// Invoke runs the invocation sequence: lookup, schema validation, input
// normalization, semantic validation, permission check, execution. The
// returned message is always a terminal result for req.ID.
func (p *Pipeline) Invoke(ctx context.Context, req ToolRequest, env *ExecContext) *models.UserMessage {
	log := env.logger().WithFields("tool", req.Name, "tool_use_id", req.ID)

	if ctx.Err() != nil {
		return errorResult(req, "tool execution canceled")
	}

	tool, ok := p.registry.Get(req.Name)
	if !ok {
		log.Warn(ctx, "unknown tool requested")
		return errorResult(req, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name).Error())
	}

	if err := ValidateToolInput(tool.Schema(), req.Input); err != nil {
		log.Debug(ctx, "tool input rejected", "error", err)
		return errorResult(req, "Input validation failed: "+err.Error())
	}

	input := req.Input
	if normalizer, ok := tool.(Normalizer); ok {
		normalized, err := normalizer.NormalizeInput(ctx, env, input)
		if err != nil {
			log.Debug(ctx, "tool input normalization rejected", "error", err)
			return errorResult(req, "Input validation failed: "+err.Error())
		}
		input = normalized
	}

	if validator, ok := tool.(SemanticValidator); ok {
		if err := validator.ValidateInput(ctx, env, input); err != nil {
			log.Debug(ctx, "tool input semantically rejected", "error", err)
			return errorResult(req, err.Error())
		}
	}

	if denied, canceled := p.checkPermission(ctx, tool, req, input, env); canceled {
		return errorResult(req, "tool execution canceled")
	} else if denied != nil {
		return denied
	}

	// Progress emitted after the terminal result is dropped.
	var settled atomic.Bool
	progress := func(snapshot *models.AssistantMessage) {
		if snapshot == nil || settled.Load() {
			return
		}
		env.emit(models.NewProgressMessage(req.ID, env.siblings(req.ID), snapshot, env.ToolNames))
	}

	start := time.Now()
	result, err := runTool(ctx, tool, input, env, progress)
	settled.Store(true)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn(ctx, "tool execution failed", "error", err, "duration_ms", elapsed.Milliseconds())
		return errorResult(req, FormatToolError(err))
	}
	if result == nil {
		log.Warn(ctx, "tool returned no result", "duration_ms", elapsed.Milliseconds())
		return errorResult(req, "tool returned no result")
	}

	log.Debug(ctx, "tool completed",
		"is_error", result.IsError, "duration_ms", elapsed.Milliseconds())
	return models.NewToolResultMessage(req.ID, result.Rendered, result.IsError, result.Raw)
}

// checkPermission gates the call unless a bypass flag is set. It returns the
// denial result to use, or canceled=true when the check was cut short.
func (p *Pipeline) checkPermission(ctx context.Context, tool Tool, req ToolRequest, input json.RawMessage, env *ExecContext) (denial *models.UserMessage, canceled bool) {
	if env.SkipPermissions || env.SkipPermissionsForTurn {
		return nil, false
	}

	spec := permissionSpec(tool, input)
	if !spec.Required {
		return nil, false
	}

	deniedMsg := fmt.Sprintf("%s requested permissions to use %s, but you haven't granted it yet.",
		productName, tool.Name())

	if env.Permissions == nil {
		return errorResult(req, deniedMsg), false
	}

	res, err := env.Permissions(ctx, permissions.Request{
		Tool:          tool.Name(),
		Key:           spec.Key,
		Command:       spec.Command,
		PrefixCapable: spec.Prefix,
		SessionOnly:   spec.SessionOnly,
	})
	if err != nil {
		return nil, true
	}
	if !res.Approved {
		env.logger().Debug(ctx, "tool call denied",
			"tool", req.Name, "tool_use_id", req.ID, "reason", res.Reason)
		return errorResult(req, deniedMsg), false
	}
	return nil, false
}

// runTool executes the tool, converting panics into errors so a broken tool
// still yields a terminal result.
func runTool(ctx context.Context, tool Tool, input json.RawMessage, env *ExecContext, progress ProgressFunc) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewToolError(ToolErrorPanic, tool.Name(),
				fmt.Errorf("%w: %v\n%s", ErrToolPanic, r, debug.Stack()))
		}
	}()
	return tool.Execute(ctx, input, env, progress)
}

func errorResult(req ToolRequest, content string) *models.UserMessage {
	return models.NewToolResultMessage(req.ID, content, true, nil)
}
