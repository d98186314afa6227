package toolconv

import (
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/praxis/internal/agent"
)

// ToBedrockTools converts the catalog to a Converse tool configuration. A
// schema that does not decode degrades to an empty object schema rather
// than failing the whole call.
func ToBedrockTools(tools []agent.Tool) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]types.Tool, len(tools))
	for i, tool := range tools {
		var schema any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil || schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name()),
				Description: aws.String(tool.Description()),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: specs}
}
