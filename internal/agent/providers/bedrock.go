package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/haasonsaas/praxis/internal/agent/toolconv"
	"github.com/haasonsaas/praxis/pkg/models"
)

const (
	defaultBedrockModel  = "anthropic.claude-sonnet-4-20250514-v1:0"
	defaultBedrockRegion = "us-east-1"
)

// BedrockConfig holds configuration for the Bedrock provider. With no
// explicit keys the standard AWS credential chain applies (environment,
// shared config, IAM role).
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// DefaultModel is used when a request does not name one.
	DefaultModel string
}

// BedrockProvider streams completions through the Converse API. Extended
// thinking is not mapped onto Converse.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
}

// NewBedrockProvider builds a provider from config, resolving AWS
// credentials up front.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = defaultBedrockRegion
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultBedrockModel
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
	}, nil
}

// Name implements Provider.
func (p *BedrockProvider) Name() string { return "bedrock" }

// Stream issues one ConverseStream call and accumulates the events into a
// turn.
func (p *BedrockProvider) Stream(ctx context.Context, req Request) (*Turn, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: convertBedrockTranscript(req.Transcript),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxTokens = min(maxTokens, math.MaxInt32)
	input.InferenceConfig = &types.InferenceConfiguration{
		// #nosec G115 -- bounded by min above
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = toolconv.ToBedrockTools(req.Tools)
	}

	out, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	turn, err := p.consume(ctx, out)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	return turn, nil
}

// consume drains the event stream. Usage arrives in a metadata event after
// message_stop, so the loop runs until the stream closes.
func (p *BedrockProvider) consume(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) (*Turn, error) {
	stream := out.GetStream()
	defer stream.Close()

	state := newBedrockStream()
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					return nil, err
				}
				return state.turn(), nil
			}
			state.apply(event)
		}
	}
}

// bedrockStream accumulates Converse events into a turn. A content block
// opens with a start event (tool use) or a bare text delta, and closes on
// the next start, a block stop, or message stop.
type bedrockStream struct {
	blocks     []models.ContentBlock
	text       strings.Builder
	toolID     string
	toolName   string
	toolInput  strings.Builder
	inTokens   int64
	outTokens  int64
	cacheRead  int64
	cacheWrite int64
	stopReason string
}

func newBedrockStream() *bedrockStream { return &bedrockStream{} }

func (s *bedrockStream) apply(event types.ConverseStreamOutput) {
	switch ev := event.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		s.flush()
		if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			s.toolID = aws.ToString(toolUse.Value.ToolUseId)
			s.toolName = aws.ToString(toolUse.Value.Name)
			s.toolInput.Reset()
		}

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch delta := ev.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			s.text.WriteString(delta.Value)
		case *types.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input != nil {
				s.toolInput.WriteString(*delta.Value.Input)
			}
		}

	case *types.ConverseStreamOutputMemberContentBlockStop:
		s.flush()

	case *types.ConverseStreamOutputMemberMessageStop:
		s.flush()
		s.stopReason = string(ev.Value.StopReason)

	case *types.ConverseStreamOutputMemberMetadata:
		if u := ev.Value.Usage; u != nil {
			s.inTokens = int64(aws.ToInt32(u.InputTokens))
			s.outTokens = int64(aws.ToInt32(u.OutputTokens))
			s.cacheRead = int64(aws.ToInt32(u.CacheReadInputTokens))
			s.cacheWrite = int64(aws.ToInt32(u.CacheWriteInputTokens))
		}
	}
}

// flush closes the open block, tool use when one is pending, text
// otherwise.
func (s *bedrockStream) flush() {
	if s.toolID != "" {
		input := s.toolInput.String()
		if input == "" {
			input = "{}"
		}
		s.blocks = append(s.blocks, models.ContentBlock{
			Type:  models.BlockToolUse,
			ID:    s.toolID,
			Name:  s.toolName,
			Input: json.RawMessage(input),
		})
		s.toolID, s.toolName = "", ""
		s.toolInput.Reset()
		return
	}
	if s.text.Len() > 0 {
		s.blocks = append(s.blocks, models.ContentBlock{
			Type: models.BlockText,
			Text: s.text.String(),
		})
		s.text.Reset()
	}
}

func (s *bedrockStream) turn() *Turn {
	s.flush()
	t := &Turn{Blocks: s.blocks, StopReason: s.stopReason}
	t.Usage.InputTokens = s.inTokens
	t.Usage.OutputTokens = s.outTokens
	t.Usage.CacheReadTokens = s.cacheRead
	t.Usage.CacheWriteTokens = s.cacheWrite
	return t
}

func convertBedrockTranscript(transcript []models.Message) []types.Message {
	out := make([]types.Message, 0, len(transcript))
	for _, msg := range transcript {
		switch m := msg.(type) {
		case *models.UserMessage:
			if content := convertBedrockBlocks(m.Content); len(content) > 0 {
				out = append(out, types.Message{Role: types.ConversationRoleUser, Content: content})
			}
		case *models.AssistantMessage:
			if content := convertBedrockBlocks(m.Content); len(content) > 0 {
				out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: content})
			}
		}
	}
	return out
}

func convertBedrockBlocks(blocks []models.ContentBlock) []types.ContentBlock {
	var out []types.ContentBlock
	for _, b := range blocks {
		switch b.Type {
		case models.BlockText:
			if b.Text != "" {
				out = append(out, &types.ContentBlockMemberText{Value: b.Text})
			}
		case models.BlockImage:
			if img := bedrockImageBlock(b.Source); img != nil {
				out = append(out, img)
			}
		case models.BlockToolUse:
			var input any
			if err := json.Unmarshal(b.Input, &input); err != nil || input == nil {
				input = map[string]any{}
			}
			out = append(out, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(b.ID),
					Name:      aws.String(b.Name),
					Input:     document.NewLazyDocument(input),
				},
			})
		case models.BlockToolResult:
			block := types.ToolResultBlock{
				ToolUseId: aws.String(b.ToolUseID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: b.Content},
				},
			}
			if b.IsError {
				block.Status = types.ToolResultStatusError
			}
			out = append(out, &types.ContentBlockMemberToolResult{Value: block})
		}
	}
	return out
}

func bedrockImageBlock(src *models.ImageSource) types.ContentBlock {
	if src == nil {
		return nil
	}
	format, ok := bedrockImageFormat(src.MediaType)
	if !ok {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(src.Data)
	if err != nil {
		return nil
	}
	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		},
	}
}

func bedrockImageFormat(mediaType string) (types.ImageFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := AsCallError(err); ok {
		return err
	}

	call := NewCallError("bedrock", model, err)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		call = call.WithCode(apiErr.ErrorCode()).WithMessage(apiErr.ErrorMessage())
	}
	return call
}
