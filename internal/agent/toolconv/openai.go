package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/praxis/internal/agent"
)

// ToOpenAITools converts the catalog to OpenAI function declarations. A
// schema that does not decode degrades to an empty object schema rather
// than failing the whole call.
func ToOpenAITools(tools []agent.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var params map[string]any
		if err := json.Unmarshal(tool.Schema(), &params); err != nil || params == nil {
			params = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  params,
			},
		}
	}
	return result
}
