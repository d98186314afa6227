package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MessageType discriminates the three conversation message variants.
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeProgress  MessageType = "progress"
)

// BlockType identifies the kind of a content block.
type BlockType string

const (
	BlockText             BlockType = "text"
	BlockImage            BlockType = "image"
	BlockToolUse          BlockType = "tool_use"
	BlockToolResult       BlockType = "tool_result"
	BlockThinking         BlockType = "thinking"
	BlockRedactedThinking BlockType = "redacted_thinking"
)

// ImageSource holds inline image data for an image block.
type ImageSource struct {
	Type      string `json:"type"` // base64
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is one element of a message's ordered content.
// Exactly the fields for the block's Type are set.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text carries text and thinking content.
	Text string `json:"text,omitempty"`

	// Source carries inline image data.
	Source *ImageSource `json:"source,omitempty"`

	// Tool-use request fields.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool-result fields. Content is the assistant-facing rendering.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Data carries the opaque redacted-thinking payload.
	Data string `json:"data,omitempty"`
}

// Message is implemented by the three conversation message variants:
// UserMessage, AssistantMessage and ProgressMessage. Messages are immutable
// once yielded by the engine; transforms return new derived lists.
type Message interface {
	MessageID() string
	Type() MessageType

	message() // sealed
}

// ToolUseResult is the full output of a tool execution attached to the
// tool-result user message for local consumers. It is never resubmitted to
// the model; the rendered form inside the tool-result block is.
type ToolUseResult struct {
	Raw      json.RawMessage `json:"raw,omitempty"`
	Rendered string          `json:"rendered,omitempty"`
}

// UserMessage carries user input or tool results back to the model.
type UserMessage struct {
	ID      string         `json:"id"`
	Content []ContentBlock `json:"content"`

	// ToolUseResult holds the raw tool output for local bookkeeping when this
	// message wraps a tool result.
	ToolUseResult *ToolUseResult `json:"tool_use_result,omitempty"`

	// Meta marks messages injected by the system rather than typed by the
	// user (request-mode flag; excluded from some renderings).
	Meta bool `json:"meta,omitempty"`
}

func (m *UserMessage) MessageID() string { return m.ID }
func (m *UserMessage) Type() MessageType { return MessageTypeUser }
func (m *UserMessage) message()          {}

// AssistantMessage is one model turn: ordered content blocks plus the cost
// and latency observed while producing them.
type AssistantMessage struct {
	ID         string         `json:"id"`
	Content    []ContentBlock `json:"content"`
	CostUSD    float64        `json:"cost_usd"`
	DurationMS int64          `json:"duration_ms"`

	// IsAPIError marks synthesized error text as opposed to genuine model
	// output.
	IsAPIError bool `json:"is_api_error,omitempty"`
}

func (m *AssistantMessage) MessageID() string { return m.ID }
func (m *AssistantMessage) Type() MessageType { return MessageTypeAssistant }
func (m *AssistantMessage) message()          {}

// ProgressMessage is a transient snapshot of a running tool's partial output.
// Progress messages are never sent to the model; the terminal tool-result
// supersedes them.
type ProgressMessage struct {
	ID string `json:"id"`

	// ToolUseID is the tool-use this progress belongs to.
	ToolUseID string `json:"tool_use_id"`

	// SiblingToolUseIDs are the other tool-uses issued in the same assistant
	// turn, for rendering batch progress.
	SiblingToolUseIDs []string `json:"sibling_tool_use_ids,omitempty"`

	// Content is an in-flight assistant-message snapshot produced by the
	// tool.
	Content *AssistantMessage `json:"content"`

	// Tools names the tool catalog active when the snapshot was taken.
	Tools []string `json:"tools,omitempty"`
}

func (m *ProgressMessage) MessageID() string { return m.ID }
func (m *ProgressMessage) Type() MessageType { return MessageTypeProgress }
func (m *ProgressMessage) message()          {}

// NewUserTextMessage wraps plain text in a user message.
func NewUserTextMessage(text string) *UserMessage {
	return &UserMessage{
		ID:      uuid.NewString(),
		Content: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// NewUserMessage wraps an ordered block sequence in a user message.
func NewUserMessage(blocks []ContentBlock) *UserMessage {
	return &UserMessage{ID: uuid.NewString(), Content: blocks}
}

// NewToolResultMessage builds the terminal user message for a tool-use.
func NewToolResultMessage(toolUseID, rendered string, isError bool, raw json.RawMessage) *UserMessage {
	return &UserMessage{
		ID: uuid.NewString(),
		Content: []ContentBlock{{
			Type:      BlockToolResult,
			ToolUseID: toolUseID,
			Content:   rendered,
			IsError:   isError,
		}},
		ToolUseResult: &ToolUseResult{Raw: raw, Rendered: rendered},
	}
}

// NewAssistantMessage builds an assistant message from content blocks.
func NewAssistantMessage(blocks []ContentBlock) *AssistantMessage {
	return &AssistantMessage{ID: uuid.NewString(), Content: blocks}
}

// NewAssistantTextMessage wraps plain text in an assistant message.
func NewAssistantTextMessage(text string) *AssistantMessage {
	return NewAssistantMessage([]ContentBlock{{Type: BlockText, Text: text}})
}

// NewAPIErrorMessage synthesizes an assistant message for a failed model
// call. The conversation can continue past it.
func NewAPIErrorMessage(text string) *AssistantMessage {
	m := NewAssistantTextMessage(text)
	m.IsAPIError = true
	return m
}

// NewProgressMessage wraps a partial-output snapshot for a running tool-use.
func NewProgressMessage(toolUseID string, siblings []string, snapshot *AssistantMessage, tools []string) *ProgressMessage {
	return &ProgressMessage{
		ID:                uuid.NewString(),
		ToolUseID:         toolUseID,
		SiblingToolUseIDs: siblings,
		Content:           snapshot,
		Tools:             tools,
	}
}

// ToolUseBlocks returns the tool-use blocks of an assistant message in order.
func (m *AssistantMessage) ToolUseBlocks() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// HasToolUse reports whether the message contains a tool-use block with the
// given id.
func (m *AssistantMessage) HasToolUse(id string) bool {
	for _, b := range m.Content {
		if b.Type == BlockToolUse && b.ID == id {
			return true
		}
	}
	return false
}

// ToolResultID returns the referenced tool-use id when the message consists
// solely of tool-result blocks. Merged wire messages carry several result
// blocks; the first id is returned.
func (m *UserMessage) ToolResultID() (string, bool) {
	if !m.IsToolResult() {
		return "", false
	}
	return m.Content[0].ToolUseID, true
}

// IsToolResult reports whether every content block is a tool-result.
func (m *UserMessage) IsToolResult() bool {
	if len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}
