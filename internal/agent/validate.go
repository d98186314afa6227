package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache holds compiled tool schemas keyed by their source text, so a
// tool's schema compiles once per process.
var schemaCache sync.Map

// ValidateToolInput checks raw tool input against the tool's declared JSON
// Schema. Empty input validates as an empty object, matching how models emit
// parameterless calls.
func ValidateToolInput(schema json.RawMessage, input json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("decode tool input: %w", err)
	}
	if decoded == nil {
		decoded = map[string]any{}
	}

	return compiled.Validate(decoded)
}

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
