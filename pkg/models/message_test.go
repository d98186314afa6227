package models

import (
	"encoding/json"
	"testing"
)

func TestMarshalMessage_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
	}{
		{
			name: "user with tool result",
			msg:  NewToolResultMessage("tu1", "42 matches", false, json.RawMessage(`{"count":42}`)),
		},
		{
			name: "assistant with mixed blocks",
			msg: &AssistantMessage{
				ID:         "a1",
				Content:    []ContentBlock{textBlock("running"), toolUseBlock("tu1", "grep")},
				CostUSD:    0.004,
				DurationMS: 1200,
			},
		},
		{
			name: "progress snapshot",
			msg: &ProgressMessage{
				ID:                "p1",
				ToolUseID:         "tu1",
				SiblingToolUseIDs: []string{"tu1", "tu2"},
				Content:           assistantWithBlocks("snap", textBlock("partial output")),
				Tools:             []string{"bash", "read"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := MarshalMessage(tc.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			got, err := UnmarshalMessage(data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type() != tc.msg.Type() {
				t.Errorf("type changed: got %s, want %s", got.Type(), tc.msg.Type())
			}
			if got.MessageID() != tc.msg.MessageID() {
				t.Errorf("id changed: got %s, want %s", got.MessageID(), tc.msg.MessageID())
			}
			back, err := MarshalMessage(got)
			if err != nil {
				t.Fatalf("remarshal: %v", err)
			}
			if string(back) != string(data) {
				t.Errorf("round trip not stable:\n%s\nvs\n%s", data, back)
			}
		})
	}
}

func TestUnmarshalMessage_UnknownType(t *testing.T) {
	_, err := UnmarshalMessage([]byte(`{"type":"telemetry","message":{}}`))
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestUserMessage_IsToolResult(t *testing.T) {
	cases := []struct {
		name string
		msg  *UserMessage
		want bool
	}{
		{"single result", resultMsg("r1", "tu1", "ok"), true},
		{"plain text", NewUserTextMessage("hello"), false},
		{"empty content", &UserMessage{ID: "u1"}, false},
		{
			"mixed blocks",
			&UserMessage{ID: "u2", Content: []ContentBlock{
				{Type: BlockToolResult, ToolUseID: "tu1"},
				textBlock("and a note"),
			}},
			false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.msg.IsToolResult(); got != tc.want {
				t.Errorf("IsToolResult() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDeriveToolUseSets_ResolutionStates(t *testing.T) {
	msgs := []Message{
		assistantWithBlocks("a1",
			toolUseBlock("tu1", "read"),
			toolUseBlock("tu2", "bash"),
			toolUseBlock("tu3", "grep"),
		),
		resultMsg("r1", "tu1", "ok"),
		errorResultMsg("r3", "tu3", "exit status 1"),
	}

	sets := DeriveToolUseSets(msgs)

	if sets.Unresolved["tu1"] || sets.Unresolved["tu3"] {
		t.Error("resolved ids still marked unresolved")
	}
	if !sets.Unresolved["tu2"] {
		t.Error("tu2 has no result and must be unresolved")
	}
	if !sets.Errored["tu3"] {
		t.Error("tu3 result was an error and must be in the errored set")
	}
	if sets.Errored["tu1"] {
		t.Error("tu1 succeeded and must not be in the errored set")
	}
	// tu2 is the earliest (only) unresolved id, so the display heuristic
	// counts it as in progress.
	if !sets.InProgress["tu2"] {
		t.Error("earliest unresolved id should count as in progress")
	}
}

func TestDeriveToolUseSets_ProgressMarksInProgress(t *testing.T) {
	msgs := []Message{
		assistantWithBlocks("a1", toolUseBlock("tu1", "read"), toolUseBlock("tu2", "bash")),
		progressMsg("p2", "tu2"),
	}

	sets := DeriveToolUseSets(msgs)

	if !sets.InProgress["tu1"] {
		t.Error("earliest unresolved id missing from in-progress set")
	}
	if !sets.InProgress["tu2"] {
		t.Error("id with live progress missing from in-progress set")
	}
}

func TestDeriveToolUseSets_ResultClearsProgress(t *testing.T) {
	msgs := []Message{
		assistantWithBlocks("a1", toolUseBlock("tu1", "bash")),
		progressMsg("p1", "tu1"),
		resultMsg("r1", "tu1", "done"),
	}

	sets := DeriveToolUseSets(msgs)

	if len(sets.Unresolved) != 0 {
		t.Errorf("expected no unresolved ids, got %v", sets.Unresolved)
	}
	if len(sets.InProgress) != 0 {
		t.Errorf("result should clear in-progress state, got %v", sets.InProgress)
	}
}
