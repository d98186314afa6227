// Package providers adapts model backends to the conversation loop. Each
// provider speaks one wire dialect (Anthropic Messages, OpenAI chat
// completions, Bedrock Converse); the Completer wraps a provider with
// retries, failure rendering, and cost accounting so the loop never sees a
// transport error.
package providers

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/haasonsaas/praxis/internal/agent"
	"github.com/haasonsaas/praxis/internal/observability"
	"github.com/haasonsaas/praxis/internal/retry"
	"github.com/haasonsaas/praxis/internal/usage"
	"github.com/haasonsaas/praxis/pkg/models"
)

// Request is one wire call handed to a provider.
type Request struct {
	// Model is the concrete model id. Empty uses the provider default.
	Model string

	// System is the composed system prompt.
	System string

	// Transcript is the wire-normalized conversation.
	Transcript []models.Message

	// Tools is the active tool catalog.
	Tools []agent.Tool

	// MaxTokens caps the response length.
	MaxTokens int

	// ThinkingBudget enables extended thinking when positive, on
	// providers that support it.
	ThinkingBudget int
}

// Turn is a provider's response, accumulated from its event stream.
type Turn struct {
	Blocks     []models.ContentBlock
	Usage      usage.Usage
	StopReason string
}

// Provider speaks one wire dialect. Stream issues a single attempt; the
// Completer owns retries.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (*Turn, error)
}

const (
	// DefaultMaxAttempts is the per-call attempt ceiling.
	DefaultMaxAttempts = 10

	// DefaultMaxTokens caps response length when the caller does not.
	DefaultMaxTokens = 4096

	// DefaultBaseDelay and DefaultMaxDelay shape the backoff schedule:
	// the wait doubles from the base up to the cap.
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 32 * time.Second

	// verifyAttempts is the lowered ceiling for credential checks, so a
	// dead key fails fast.
	verifyAttempts = 2
)

// Options configures a Completer.
type Options struct {
	// Model is the model id sent on the wire.
	Model string

	// Tier selects the pricing class for cost accounting. Empty means
	// the large tier.
	Tier usage.Tier

	// MaxTokens caps response length. Zero uses DefaultMaxTokens.
	MaxTokens int

	// MaxAttempts is the per-call attempt ceiling. Zero uses
	// DefaultMaxAttempts.
	MaxAttempts int

	// Unbounded lifts the attempt ceiling for runs that must grind
	// through sustained throttling.
	Unbounded bool

	// BaseDelay and MaxDelay override the backoff schedule.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Rates overrides the tier pricing.
	Rates *usage.Cost

	// Tracker accumulates per-call cost and latency. Nil skips
	// accounting.
	Tracker *usage.Tracker

	// Logger receives call diagnostics. Nil discards.
	Logger *observability.Logger
}

// Completer drives one provider with retries and cost accounting. It holds
// the loop's contract: model failures come back as assistant messages
// flagged as API errors, and the returned error is non-nil only on
// cancellation.
type Completer struct {
	provider Provider
	opts     Options
	rates    usage.Cost
	cfg      retry.Config
	log      *observability.Logger
}

var _ agent.Completer = (*Completer)(nil)

// NewCompleter wires a provider into the loop's completer contract.
func NewCompleter(provider Provider, opts Options) *Completer {
	if opts.Tier == "" {
		opts.Tier = usage.TierLarge
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Unbounded {
		opts.MaxAttempts = math.MaxInt32
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	rates := usage.RatesFor(opts.Tier)
	if opts.Rates != nil {
		rates = *opts.Rates
	}
	log := opts.Logger
	if log == nil {
		log = observability.Discard()
	}
	return &Completer{
		provider: provider,
		opts:     opts,
		rates:    rates,
		cfg: retry.Config{
			MaxAttempts:  opts.MaxAttempts,
			InitialDelay: opts.BaseDelay,
			MaxDelay:     opts.MaxDelay,
			Factor:       2.0,
			// No jitter: waits follow the doubling schedule or the
			// server hint, nothing else.
			Jitter: false,
		},
		log: log.WithComponent("completer"),
	}
}

// Complete implements agent.Completer.
func (c *Completer) Complete(ctx context.Context, req agent.CompletionRequest) (*models.AssistantMessage, error) {
	if c.provider == nil {
		return models.NewAPIErrorMessage("API Error: no provider configured"), nil
	}
	start := time.Now()

	wire := Request{
		Model:          c.opts.Model,
		System:         req.SystemPrompt,
		Transcript:     req.Transcript,
		Tools:          req.Tools,
		MaxTokens:      c.opts.MaxTokens,
		ThinkingBudget: req.ThinkingBudget,
	}

	turn, result := retry.DoWithValue(ctx, c.cfg, func() (*Turn, error) {
		t, err := c.provider.Stream(ctx, wire)
		if err != nil {
			return nil, classified(err)
		}
		return t, nil
	})
	elapsed := time.Since(start)

	if result.Err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn(ctx, "model call failed",
			"provider", c.provider.Name(),
			"model", c.opts.Model,
			"attempts", result.Attempts,
			"error", result.Err)
		return models.NewAPIErrorMessage(ErrorText(result.Err)), nil
	}

	if turn == nil || len(turn.Blocks) == 0 {
		return models.NewAPIErrorMessage("API Error: empty response"), nil
	}

	msg := models.NewAssistantMessage(turn.Blocks)
	msg.DurationMS = elapsed.Milliseconds()
	msg.CostUSD = c.rates.Estimate(&turn.Usage)
	if c.opts.Tracker != nil {
		c.opts.Tracker.Record(usage.Record{
			MessageID: msg.ID,
			Provider:  c.provider.Name(),
			Model:     c.opts.Model,
			Tier:      c.opts.Tier,
			Usage:     turn.Usage,
			CostUSD:   msg.CostUSD,
			Duration:  elapsed,
		})
	}
	c.log.Debug(ctx, "model call complete",
		"provider", c.provider.Name(),
		"model", c.opts.Model,
		"attempts", result.Attempts,
		"duration_ms", msg.DurationMS,
		"input_tokens", turn.Usage.InputTokens,
		"output_tokens", turn.Usage.OutputTokens,
		"cost_usd", msg.CostUSD,
		"stop_reason", turn.StopReason)
	return msg, nil
}

// Verify issues a minimal call to confirm the configured credential works.
func (c *Completer) Verify(ctx context.Context) error {
	if c.provider == nil {
		return errors.New("no provider configured")
	}
	wire := Request{
		Model:      c.opts.Model,
		Transcript: []models.Message{models.NewUserTextMessage("ping")},
		MaxTokens:  1,
	}
	cfg := c.cfg
	cfg.MaxAttempts = verifyAttempts
	_, result := retry.DoWithValue(ctx, cfg, func() (*Turn, error) {
		t, err := c.provider.Stream(ctx, wire)
		if err != nil {
			return nil, classified(err)
		}
		return t, nil
	})
	return result.Err
}

// classified wraps a provider failure for the retry loop: terminal errors
// stop it immediately, and a server wait hint rides along when present.
func classified(err error) error {
	if !IsRetryable(err) {
		return retry.Permanent(err)
	}
	if d, ok := RetryAfterHint(err); ok {
		return retry.After(err, d)
	}
	return err
}
