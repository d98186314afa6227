package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/praxis/internal/agent/toolconv"
	"github.com/haasonsaas/praxis/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	// APIKey authenticates against the API. Required.
	APIKey string

	// BaseURL points at any OpenAI-compatible endpoint (OpenRouter,
	// Ollama, vLLM). Empty uses the public API.
	BaseURL string

	// DefaultModel is used when a request does not name one.
	DefaultModel string
}

// OpenAIProvider streams completions from the chat completions API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider builds a provider from config.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultOpenAIModel
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Stream issues one streaming call and accumulates the chunks into a turn.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (*Turn, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAITranscript(req.Transcript, req.System),
		Stream:   true,
		// Usage arrives in a final chunk with no choices.
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	defer stream.Close()

	state := newOpenAIStream()
	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return state.turn(), nil
			}
			return nil, p.wrapError(err, model)
		}
		state.apply(resp)
	}
}

// openAIStream accumulates one chat-completion stream into a turn. Tool
// calls arrive as indexed fragments: the first chunk for an index carries
// id and name, later chunks append argument JSON.
type openAIStream struct {
	text       strings.Builder
	calls      map[int]*openAICall
	order      []int
	inTokens   int64
	outTokens  int64
	cacheRead  int64
	stopReason string
}

type openAICall struct {
	id   string
	name string
	args strings.Builder
}

func newOpenAIStream() *openAIStream {
	return &openAIStream{calls: make(map[int]*openAICall)}
}

func (s *openAIStream) apply(resp openai.ChatCompletionStreamResponse) {
	if resp.Usage != nil {
		s.inTokens = int64(resp.Usage.PromptTokens)
		s.outTokens = int64(resp.Usage.CompletionTokens)
		if details := resp.Usage.PromptTokensDetails; details != nil {
			// prompt_tokens includes the cached portion.
			s.cacheRead = int64(details.CachedTokens)
			s.inTokens -= s.cacheRead
		}
	}
	if len(resp.Choices) == 0 {
		return
	}
	choice := resp.Choices[0]
	if choice.FinishReason != "" {
		s.stopReason = string(choice.FinishReason)
	}
	if choice.Delta.Content != "" {
		s.text.WriteString(choice.Delta.Content)
	}
	for _, tc := range choice.Delta.ToolCalls {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		call := s.calls[index]
		if call == nil {
			call = &openAICall{}
			s.calls[index] = call
			s.order = append(s.order, index)
		}
		if tc.ID != "" {
			call.id = tc.ID
		}
		if tc.Function.Name != "" {
			call.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			call.args.WriteString(tc.Function.Arguments)
		}
	}
}

func (s *openAIStream) turn() *Turn {
	t := &Turn{StopReason: s.stopReason}
	t.Usage.InputTokens = s.inTokens
	t.Usage.OutputTokens = s.outTokens
	t.Usage.CacheReadTokens = s.cacheRead

	if s.text.Len() > 0 {
		t.Blocks = append(t.Blocks, models.ContentBlock{
			Type: models.BlockText,
			Text: s.text.String(),
		})
	}
	for _, index := range s.order {
		call := s.calls[index]
		if call.id == "" || call.name == "" {
			continue
		}
		input := call.args.String()
		if input == "" {
			input = "{}"
		}
		t.Blocks = append(t.Blocks, models.ContentBlock{
			Type:  models.BlockToolUse,
			ID:    call.id,
			Name:  call.name,
			Input: json.RawMessage(input),
		})
	}
	return t
}

// convertOpenAITranscript maps the conversation onto chat messages. The
// system prompt rides as the leading system message, and every tool result
// becomes its own tool-role message keyed by call id.
func convertOpenAITranscript(transcript []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(transcript)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range transcript {
		switch m := msg.(type) {
		case *models.UserMessage:
			out = append(out, convertOpenAIUser(m)...)
		case *models.AssistantMessage:
			if cm, ok := convertOpenAIAssistant(m); ok {
				out = append(out, cm)
			}
		}
	}
	return out
}

func convertOpenAIUser(m *models.UserMessage) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	var text strings.Builder
	var parts []openai.ChatMessagePart

	for _, b := range m.Content {
		switch b.Type {
		case models.BlockText:
			text.WriteString(b.Text)
		case models.BlockImage:
			if b.Source != nil {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:" + b.Source.MediaType + ";base64," + b.Source.Data,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		case models.BlockToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    b.Content,
				ToolCallID: b.ToolUseID,
			})
		}
	}

	switch {
	case len(parts) > 0:
		if text.Len() > 0 {
			parts = append([]openai.ChatMessagePart{{
				Type: openai.ChatMessagePartTypeText,
				Text: text.String(),
			}}, parts...)
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
	case text.Len() > 0:
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text.String(),
		})
	}
	return out
}

func convertOpenAIAssistant(m *models.AssistantMessage) (openai.ChatCompletionMessage, bool) {
	cm := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	var text strings.Builder
	for _, b := range m.Content {
		switch b.Type {
		case models.BlockText:
			text.WriteString(b.Text)
		case models.BlockToolUse:
			cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
				ID:   b.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      b.Name,
					Arguments: string(b.Input),
				},
			})
		}
	}
	cm.Content = text.String()
	if cm.Content == "" && len(cm.ToolCalls) == 0 {
		return cm, false
	}
	return cm, true
}

// wrapError converts SDK failures into CallErrors. The SDK surfaces parsed
// API errors as openai.APIError and transport failures as
// openai.RequestError, which may wrap an APIError for bodies that did parse.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsCallError(err); ok {
		return err
	}

	call := NewCallError("openai", model, err)

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		call = call.WithStatus(reqErr.HTTPStatusCode)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode != 0 {
			call = call.WithStatus(apiErr.HTTPStatusCode)
		}
		call = call.WithMessage(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			call = call.WithCode(code)
		}
		if d, ok := ParseRetryAfter(apiErr.Message); ok {
			call = call.WithRetryAfter(d)
		}
	}
	return call
}
