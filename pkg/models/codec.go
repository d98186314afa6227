package models

import (
	"encoding/json"
	"fmt"
)

// envelope tags a persisted message with its variant.
type envelope struct {
	Type    MessageType     `json:"type"`
	Message json.RawMessage `json:"message"`
}

// MarshalMessage encodes a message with its variant tag so it can be decoded
// back into the right concrete type.
func MarshalMessage(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", m.Type(), err)
	}
	return json.Marshal(envelope{Type: m.Type(), Message: payload})
}

// UnmarshalMessage decodes a message persisted by MarshalMessage.
func UnmarshalMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	switch env.Type {
	case MessageTypeUser:
		var m UserMessage
		if err := json.Unmarshal(env.Message, &m); err != nil {
			return nil, fmt.Errorf("decode user message: %w", err)
		}
		return &m, nil
	case MessageTypeAssistant:
		var m AssistantMessage
		if err := json.Unmarshal(env.Message, &m); err != nil {
			return nil, fmt.Errorf("decode assistant message: %w", err)
		}
		return &m, nil
	case MessageTypeProgress:
		var m ProgressMessage
		if err := json.Unmarshal(env.Message, &m); err != nil {
			return nil, fmt.Errorf("decode progress message: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
