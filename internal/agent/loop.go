package agent

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/praxis/internal/observability"
	"github.com/haasonsaas/praxis/pkg/models"
)

// Synthetic assistant text for the two cancellation points.
const (
	interruptMessage           = "[Request interrupted by user]"
	interruptMessageForToolUse = "[Request interrupted by user for tool use]"
)

// NewInterruptedMessage is the synthetic turn emitted when cancellation lands
// between model calls.
func NewInterruptedMessage() *models.AssistantMessage {
	return models.NewAssistantTextMessage(interruptMessage)
}

// NewInterruptedDuringToolUseMessage is the synthetic turn emitted when
// cancellation lands while tools are running.
func NewInterruptedDuringToolUseMessage() *models.AssistantMessage {
	return models.NewAssistantTextMessage(interruptMessageForToolUse)
}

// CompletionRequest is one model call: a wire-normalized transcript, the
// composed system prompt and the active tool catalog.
type CompletionRequest struct {
	Transcript     []models.Message
	SystemPrompt   string
	Tools          []Tool
	ThinkingBudget int
}

// Completer produces exactly one assistant turn per call. Model failures
// never surface as errors; they become assistant messages flagged as API
// errors. The returned error is non-nil only on cancellation.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*models.AssistantMessage, error)
}

// JudgeDecision is the outcome of a comparison-mode judgment.
type JudgeDecision struct {
	// Chosen is the completion to keep. Nil falls back to the first.
	Chosen *models.AssistantMessage
	// SkipPermissionCheckForTurn waives permission checks for the tools of
	// this turn only.
	SkipPermissionCheckForTurn bool
}

// Judge picks between two candidate completions in comparison mode.
type Judge interface {
	ChooseBetter(ctx context.Context, a, b *models.AssistantMessage) (JudgeDecision, error)
}

// QueryOptions configures one Query call.
type QueryOptions struct {
	// SystemPrompt is the base system prompt before context tags.
	SystemPrompt string

	// Context is the context map rendered into the system prompt, keys
	// sorted. Empty means the base prompt goes out untouched.
	Context map[string]string

	// ThinkingBudget is passed through to the model call.
	ThinkingBudget int

	// Judge enables comparison mode: two concurrent completions resolved by
	// the judge. Nil requests a single completion.
	Judge Judge

	// Permissions gates tool calls. Nil denies every gated call.
	Permissions PermissionFunc

	// WorkDir is the working directory for tool execution.
	WorkDir string

	// SkipPermissions bypasses permission checks for the whole session.
	SkipPermissions bool
}

// Loop drives the conversation: one model turn per iteration, then the
// requested tools, then back around with the results appended. It terminates
// when the model requests no tools or the context is canceled.
type Loop struct {
	completer Completer
	registry  *Registry
	pipeline  *Pipeline
	scheduler *Scheduler
	log       *observability.Logger
}

// NewLoop wires a query loop. Concurrency bounds the read-only tool pool and
// is clamped to the ceiling.
func NewLoop(completer Completer, registry *Registry, concurrency int, log *observability.Logger) *Loop {
	if log == nil {
		log = observability.Discard()
	}
	pipeline := NewPipeline(registry)
	return &Loop{
		completer: completer,
		registry:  registry,
		pipeline:  pipeline,
		scheduler: NewScheduler(pipeline, registry, concurrency),
		log:       log,
	}
}

// Query streams the conversation from here: the chosen assistant message for
// each turn (before its tools run), progress and result messages in
// completion order, and a final synthetic message on interruption. The
// channel closes when the conversation settles. The input transcript is not
// mutated.
func (l *Loop) Query(ctx context.Context, transcript []models.Message, opts QueryOptions) <-chan models.Message {
	out := make(chan models.Message, 16)
	go func() {
		defer close(out)
		l.run(ctx, transcript, opts, out)
	}()
	return out
}

func (l *Loop) run(ctx context.Context, transcript []models.Message, opts QueryOptions, out chan<- models.Message) {
	log := l.log.WithComponent("loop")

	msgs := make([]models.Message, len(transcript))
	copy(msgs, transcript)

	system := ComposeSystemPrompt(opts.SystemPrompt, opts.Context)
	toolNames := l.registry.Names()

	for turn := 1; ; turn++ {
		ctx := observability.WithTurn(ctx, turn)

		if ctx.Err() != nil {
			trySend(out, NewInterruptedMessage())
			return
		}

		assistant, skipTurn, err := l.complete(ctx, msgs, system, opts)
		if err != nil {
			trySend(out, NewInterruptedMessage())
			return
		}
		if assistant == nil {
			assistant = models.NewAPIErrorMessage("API Error: empty completion")
		}

		if !send(ctx, out, assistant) {
			trySend(out, NewInterruptedMessage())
			return
		}

		uses := assistant.ToolUseBlocks()
		if len(uses) == 0 {
			log.Debug(ctx, "conversation settled", "turns", turn)
			return
		}

		reqs := make([]ToolRequest, len(uses))
		ids := make([]string, len(uses))
		for i, b := range uses {
			reqs[i] = ToolRequest{ID: b.ID, Name: b.Name, Input: b.Input}
			ids[i] = b.ID
		}

		env := &ExecContext{
			WorkDir:                opts.WorkDir,
			SkipPermissions:        opts.SkipPermissions,
			SkipPermissionsForTurn: skipTurn,
			Permissions:            opts.Permissions,
			BatchIDs:               ids,
			ToolNames:              toolNames,
			Emit:                   func(m models.Message) { send(ctx, out, m) },
			Logger:                 l.log,
		}

		results := l.scheduler.Run(ctx, reqs, env)
		if ctx.Err() != nil {
			trySend(out, NewInterruptedDuringToolUseMessage())
			return
		}

		msgs = append(msgs, assistant)
		for _, r := range results {
			msgs = append(msgs, r)
		}
	}
}

// complete obtains the turn's assistant message, running two completions and
// the judge in comparison mode. The error is non-nil only on cancellation.
func (l *Loop) complete(ctx context.Context, msgs []models.Message, system string, opts QueryOptions) (*models.AssistantMessage, bool, error) {
	if l.completer == nil {
		return models.NewAPIErrorMessage("API Error: no completer configured"), false, nil
	}

	req := CompletionRequest{
		Transcript:     models.NormalizeForWire(msgs),
		SystemPrompt:   system,
		Tools:          l.registry.All(),
		ThinkingBudget: opts.ThinkingBudget,
	}

	if opts.Judge == nil {
		m, err := l.completer.Complete(ctx, req)
		return m, false, err
	}

	var first, second *models.AssistantMessage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := l.completer.Complete(gctx, req)
		first = m
		return err
	})
	g.Go(func() error {
		m, err := l.completer.Complete(gctx, req)
		second = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	decision, err := opts.Judge.ChooseBetter(ctx, first, second)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		l.log.Warn(ctx, "comparison judge failed, keeping first completion", "error", err)
		return first, false, nil
	}
	chosen := decision.Chosen
	if chosen == nil {
		chosen = first
	}
	return chosen, decision.SkipPermissionCheckForTurn, nil
}

// ComposeSystemPrompt appends the context map to the base prompt as
// <context name="key">value</context> tags, keys sorted. Entries with empty
// values are skipped, and an empty map leaves the base prompt untouched.
func ComposeSystemPrompt(base string, contextMap map[string]string) string {
	keys := make([]string, 0, len(contextMap))
	for k, v := range contextMap {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return base
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(base)
	for _, k := range keys {
		b.WriteString("\n<context name=\"")
		b.WriteString(k)
		b.WriteString("\">")
		b.WriteString(contextMap[k])
		b.WriteString("</context>")
	}
	return b.String()
}

// send delivers a message, giving up when ctx is canceled.
func send(ctx context.Context, out chan<- models.Message, m models.Message) bool {
	select {
	case out <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

// trySend delivers a post-cancellation synthetic message without blocking a
// departed consumer.
func trySend(out chan<- models.Message, m models.Message) {
	select {
	case out <- m:
	default:
	}
}
