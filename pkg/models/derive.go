package models

// ToolUseSets is the resolution state of every tool-use in a message list,
// recomputed from scratch on each call rather than stored.
type ToolUseSets struct {
	// Unresolved holds tool-use ids with no terminal result yet.
	Unresolved map[string]bool

	// InProgress holds the subset of unresolved ids that are either the
	// earliest unresolved id or have a progress message. The
	// earliest-counts-as-in-progress rule is a display heuristic for serial
	// batches; nothing in the engine depends on it.
	InProgress map[string]bool

	// Errored holds tool-use ids whose result carried the error flag.
	Errored map[string]bool
}

// DeriveToolUseSets scans a message list and classifies every tool-use id.
func DeriveToolUseSets(msgs []Message) ToolUseSets {
	sets := ToolUseSets{
		Unresolved: make(map[string]bool),
		InProgress: make(map[string]bool),
		Errored:    make(map[string]bool),
	}

	var order []string
	progress := make(map[string]bool)

	for _, m := range msgs {
		switch v := m.(type) {
		case *AssistantMessage:
			for _, b := range v.Content {
				if b.Type == BlockToolUse {
					order = append(order, b.ID)
					sets.Unresolved[b.ID] = true
				}
			}
		case *UserMessage:
			for _, b := range v.Content {
				if b.Type != BlockToolResult {
					continue
				}
				delete(sets.Unresolved, b.ToolUseID)
				delete(progress, b.ToolUseID)
				if b.IsError {
					sets.Errored[b.ToolUseID] = true
				}
			}
		case *ProgressMessage:
			if sets.Unresolved[v.ToolUseID] {
				progress[v.ToolUseID] = true
			}
		}
	}

	for id := range progress {
		sets.InProgress[id] = true
	}
	for _, id := range order {
		if sets.Unresolved[id] {
			sets.InProgress[id] = true
			break
		}
	}
	return sets
}
