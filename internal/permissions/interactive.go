package permissions

import "context"

// Result is the outcome a tool pipeline consumes: approved or not, with a
// reason when not.
type Result struct {
	Approved bool
	Reason   string
}

// PromptAnswer is the user's choice when asked to approve a tool call.
type PromptAnswer int

const (
	// AnswerDeny rejects the call.
	AnswerDeny PromptAnswer = iota
	// AnswerAllowOnce approves this call without recording anything.
	AnswerAllowOnce
	// AnswerAllowAlways approves and records the exact key.
	AnswerAllowAlways
	// AnswerAllowPrefix approves and records the broader prefix key.
	AnswerAllowPrefix
)

// PromptRequest carries what a prompt needs to show.
type PromptRequest struct {
	Tool        string
	Command     string
	Description string
	Reason      string
	Key         string
	PrefixKey   string
	SessionOnly bool
}

// Prompter asks the user for a decision. Implementations live at the CLI
// layer; tests use fakes.
type Prompter interface {
	Prompt(ctx context.Context, req PromptRequest) (PromptAnswer, error)
}

// Checker runs the automatic engine check and falls back to prompting. A
// nil prompter makes every engine denial final, which is the non-interactive
// mode.
type Checker struct {
	engine *Engine
	prompt Prompter
}

// NewChecker builds the interactive permission flow.
func NewChecker(engine *Engine, prompt Prompter) *Checker {
	return &Checker{engine: engine, prompt: prompt}
}

// CanUseTool decides one tool call. The error is non-nil only on
// cancellation; prompt failures deny.
func (c *Checker) CanUseTool(ctx context.Context, req Request) (Result, error) {
	decision, err := c.engine.Check(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if decision.Allowed {
		return Result{Approved: true}, nil
	}
	if c.prompt == nil {
		return Result{Approved: false, Reason: decision.Reason}, nil
	}

	answer, err := c.prompt.Prompt(ctx, PromptRequest{
		Tool:        req.Tool,
		Command:     req.Command,
		Reason:      decision.Reason,
		Key:         decision.Key,
		PrefixKey:   decision.PrefixKey,
		SessionOnly: req.SessionOnly,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{Approved: false, Reason: "permission prompt failed"}, nil
	}

	switch answer {
	case AnswerAllowOnce:
		return Result{Approved: true}, nil
	case AnswerAllowAlways:
		if err := c.engine.Grant(req, decision.Key, true); err != nil {
			return Result{Approved: false, Reason: "recording approval failed"}, nil
		}
		return Result{Approved: true}, nil
	case AnswerAllowPrefix:
		key := decision.PrefixKey
		if key == "" {
			key = decision.Key
		}
		if err := c.engine.Grant(req, key, true); err != nil {
			return Result{Approved: false, Reason: "recording approval failed"}, nil
		}
		return Result{Approved: true}, nil
	default:
		return Result{Approved: false, Reason: decision.Reason}, nil
	}
}
