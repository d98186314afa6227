package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/praxis/internal/agent/toolconv"
	"github.com/haasonsaas/praxis/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents bounds consecutive events that advance no content
// before the stream is declared malformed.
const maxEmptyStreamEvents = 300

// AnthropicConfig holds configuration for the Anthropic provider.
type AnthropicConfig struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and gateways.
	BaseURL string

	// DefaultModel is used when a request does not name one.
	DefaultModel string
}

// AnthropicProvider streams completions from the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds a provider from config.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Stream issues one streaming call and accumulates the events into a turn.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (*Turn, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	params, err := p.buildParams(model, req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, params)
	turn, err := p.consume(stream)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	return turn, nil
}

func (p *AnthropicProvider) buildParams(model string, req Request) (anthropic.MessageNewParams, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertAnthropicTranscript(req.Transcript),
		MaxTokens: maxTokens,
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: %w", err)
		}
		params.Tools = tools
	}

	if req.ThinkingBudget > 0 {
		budget := int64(req.ThinkingBudget)
		// The API rejects budgets under 1024.
		if budget < 1024 {
			budget = 1024
		}
		// max_tokens must exceed the thinking budget.
		if params.MaxTokens <= budget {
			params.MaxTokens = budget + maxTokens
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	return params, nil
}

// convertAnthropicTranscript maps the conversation onto wire messages.
// Thinking blocks are dropped on resubmission since signatures are not
// retained.
func convertAnthropicTranscript(transcript []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(transcript))
	for _, msg := range transcript {
		switch m := msg.(type) {
		case *models.UserMessage:
			if blocks := convertAnthropicBlocks(m.Content); len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		case *models.AssistantMessage:
			if blocks := convertAnthropicBlocks(m.Content); len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	return out
}

func convertAnthropicBlocks(blocks []models.ContentBlock) []anthropic.ContentBlockParamUnion {
	var out []anthropic.ContentBlockParamUnion
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			if b.Text != "" {
				out = append(out, anthropic.NewTextBlock(b.Text))
			}
		case models.BlockImage:
			if b.Source != nil {
				out = append(out, anthropic.NewImageBlockBase64(b.Source.MediaType, b.Source.Data))
			}
		case models.BlockToolUse:
			var input map[string]any
			if err := json.Unmarshal(b.Input, &input); err != nil || input == nil {
				input = map[string]any{}
			}
			out = append(out, anthropic.NewToolUseBlock(b.ID, input, b.Name))
		case models.BlockToolResult:
			out = append(out, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
		}
	}
	return out
}

// consume drains the event stream into a turn. Content blocks arrive as a
// start event, a run of deltas, and a stop event; tool input accumulates as
// partial JSON until the block closes.
func (p *AnthropicProvider) consume(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) (*Turn, error) {
	turn := &Turn{}

	var (
		blockType string
		text      strings.Builder
		toolID    string
		toolName  string
		toolInput strings.Builder
		redacted  string
		empty     int
	)

	flush := func() {
		switch blockType {
		case "text":
			if text.Len() > 0 {
				turn.Blocks = append(turn.Blocks, models.ContentBlock{
					Type: models.BlockText,
					Text: text.String(),
				})
			}
		case "thinking":
			if text.Len() > 0 {
				turn.Blocks = append(turn.Blocks, models.ContentBlock{
					Type: models.BlockThinking,
					Text: text.String(),
				})
			}
		case "redacted_thinking":
			turn.Blocks = append(turn.Blocks, models.ContentBlock{
				Type: models.BlockRedactedThinking,
				Data: redacted,
			})
		case "tool_use":
			input := toolInput.String()
			if input == "" {
				input = "{}"
			}
			turn.Blocks = append(turn.Blocks, models.ContentBlock{
				Type:  models.BlockToolUse,
				ID:    toolID,
				Name:  toolName,
				Input: json.RawMessage(input),
			})
		}
		blockType = ""
		text.Reset()
		toolID, toolName = "", ""
		toolInput.Reset()
		redacted = ""
	}

	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			u := event.AsMessageStart().Message.Usage
			turn.Usage.InputTokens = u.InputTokens
			turn.Usage.CacheReadTokens = u.CacheReadInputTokens
			turn.Usage.CacheWriteTokens = u.CacheCreationInputTokens

		case "content_block_start":
			cb := event.AsContentBlockStart().ContentBlock
			blockType = cb.Type
			switch cb.Type {
			case "tool_use":
				tu := cb.AsToolUse()
				toolID = tu.ID
				toolName = tu.Name
			case "redacted_thinking":
				redacted = cb.AsRedactedThinking().Data
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				text.WriteString(delta.Text)
			case "thinking_delta":
				text.WriteString(delta.Thinking)
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			default:
				processed = false
			}

		case "content_block_stop":
			flush()

		case "message_delta":
			md := event.AsMessageDelta()
			turn.Usage.OutputTokens = md.Usage.OutputTokens
			if md.Delta.StopReason != "" {
				turn.StopReason = string(md.Delta.StopReason)
			}

		case "message_stop":

		default:
			processed = false
		}

		if processed {
			empty = 0
		} else {
			empty++
			if empty >= maxEmptyStreamEvents {
				return nil, fmt.Errorf("anthropic: malformed stream, %d consecutive unhandled events", empty)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	flush()
	return turn, nil
}

// anthropicErrorPayload mirrors the error body shape.
type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsCallError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewCallError("anthropic", model, err)
	}

	call := NewCallError("anthropic", model, err).
		WithStatus(apiErr.StatusCode).
		WithRequestID(apiErr.RequestID)

	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				call = call.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				call = call.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				call = call.WithRequestID(payload.RequestID)
			}
		}
	}
	if call.Message == "" {
		call = call.WithMessage("anthropic request failed")
	}

	if apiErr.Response != nil {
		if hint := apiErr.Response.Header.Get("x-should-retry"); hint != "" {
			call = call.WithRetryHint(hint == "true")
		}
		if raw := apiErr.Response.Header.Get("retry-after"); raw != "" {
			if secs, convErr := strconv.Atoi(strings.TrimSpace(raw)); convErr == nil && secs > 0 {
				call = call.WithRetryAfter(time.Duration(secs) * time.Second)
			}
		}
	}
	if call.RetryAfter == 0 {
		if d, ok := ParseRetryAfter(call.Message); ok {
			call = call.WithRetryAfter(d)
		}
	}
	return call
}
