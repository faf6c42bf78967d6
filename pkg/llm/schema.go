package llm

import (
	"encoding/json"
	"fmt"

	"github.com/swaggest/jsonschema-go"
)

// SchemaFromStruct generates a JSON Schema from a Go struct using the
// swaggest/jsonschema-go library. This is the Go-idiomatic way to declare
// tool parameter schemas.
//
// Example:
//
//	type WeatherArgs struct {
//	    Location string `json:"location" jsonschema:"required" description:"City name"`
//	    Units    string `json:"units,omitempty"`
//	}
//	params, err := SchemaFromStruct(WeatherArgs{})
func SchemaFromStruct(structType any) (map[string]any, error) {
	reflector := jsonschema.Reflector{}

	schema, err := reflector.Reflect(structType)
	if err != nil {
		return nil, fmt.Errorf("failed to reflect struct to JSON schema: %w", err)
	}

	jsonBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema to JSON: %w", err)
	}

	var schemaMap map[string]any
	if err := json.Unmarshal(jsonBytes, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema JSON to map: %w", err)
	}

	return schemaMap, nil
}

// ToolFromStruct builds a function Tool whose parameter schema is reflected
// from the given struct type.
func ToolFromStruct(name, description string, structType any) (Tool, error) {
	params, err := SchemaFromStruct(structType)
	if err != nil {
		return Tool{}, err
	}
	return Tool{
		Type: "function",
		Function: ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}, nil
}
