package models

// NormalizeForDisplay splits every multi-block message into one message per
// content block so each block renders, scrolls and diffs independently. An
// assistant message's cost and duration are divided evenly across the derived
// messages so their sum reconstructs the original. Derived messages keep the
// parent's id: display lists are views keyed by (id, block), not new
// conversation state.
func NormalizeForDisplay(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case *UserMessage:
			if len(v.Content) <= 1 {
				out = append(out, v)
				continue
			}
			for _, b := range v.Content {
				out = append(out, &UserMessage{
					ID:            v.ID,
					Content:       []ContentBlock{b},
					ToolUseResult: v.ToolUseResult,
					Meta:          v.Meta,
				})
			}
		case *AssistantMessage:
			if len(v.Content) <= 1 {
				out = append(out, v)
				continue
			}
			n := len(v.Content)
			for _, b := range v.Content {
				out = append(out, &AssistantMessage{
					ID:         v.ID,
					Content:    []ContentBlock{b},
					CostUSD:    v.CostUSD / float64(n),
					DurationMS: v.DurationMS / int64(n),
					IsAPIError: v.IsAPIError,
				})
			}
		default:
			out = append(out, m)
		}
	}
	return out
}

// NormalizeForWire prepares a transcript for resubmission to the model:
// progress messages are stripped, and consecutive tool-result user messages
// are merged into a single user message with concatenated blocks (the model
// API rejects back-to-back user turns). Applying it to an already-normalized
// transcript returns an equivalent list.
func NormalizeForWire(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case *ProgressMessage:
			continue
		case *UserMessage:
			if v.IsToolResult() && len(out) > 0 {
				if prev, ok := out[len(out)-1].(*UserMessage); ok && prev.IsToolResult() {
					out[len(out)-1] = mergeToolResults(prev, v)
					continue
				}
			}
			out = append(out, v)
		default:
			out = append(out, m)
		}
	}
	return out
}

// mergeToolResults builds a new user message holding both messages' result
// blocks, keeping the first message's id. Originals are not mutated.
func mergeToolResults(a, b *UserMessage) *UserMessage {
	blocks := make([]ContentBlock, 0, len(a.Content)+len(b.Content))
	blocks = append(blocks, a.Content...)
	blocks = append(blocks, b.Content...)
	return &UserMessage{ID: a.ID, Content: blocks, Meta: a.Meta}
}

// Reorder produces a new list in which every tool-result and progress message
// immediately follows the message containing its originating tool-use block.
// A newer progress or the terminal result replaces a stale progress message
// for the same tool-use in place; a progress message arriving after the
// result is dropped. Messages with no matching tool-use keep their relative
// position at the end. Input messages are never mutated.
//
// Reorder expects a display-normalized list (one block per message) so that
// insertion points are unambiguous.
func Reorder(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch v := m.(type) {
		case *ProgressMessage:
			out = placeAfterToolUse(out, m, v.ToolUseID)
		case *UserMessage:
			if id, ok := v.ToolResultID(); ok {
				out = placeAfterToolUse(out, m, id)
			} else {
				out = append(out, m)
			}
		default:
			out = append(out, m)
		}
	}
	return out
}

// placeAfterToolUse inserts msg directly after the assistant message carrying
// the tool-use block with the given id, applying the supersede rules for
// entries already anchored there.
func placeAfterToolUse(out []Message, msg Message, toolUseID string) []Message {
	anchor := -1
	for i, existing := range out {
		if am, ok := existing.(*AssistantMessage); ok && am.HasToolUse(toolUseID) {
			anchor = i
			break
		}
	}
	if anchor == -1 {
		return append(out, msg)
	}

	pos := anchor + 1
	if pos < len(out) {
		switch existing := out[pos].(type) {
		case *ProgressMessage:
			if existing.ToolUseID == toolUseID {
				out[pos] = msg
				return out
			}
		case *UserMessage:
			if id, ok := existing.ToolResultID(); ok && id == toolUseID {
				// Already resolved; a late progress message is superseded.
				if _, isProgress := msg.(*ProgressMessage); isProgress {
					return out
				}
			}
		}
	}

	out = append(out, nil)
	copy(out[pos+1:], out[pos:])
	out[pos] = msg
	return out
}
