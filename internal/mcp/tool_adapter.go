package mcp

import (
	"context"
	"fmt"
	"strings"

	"aria/internal/agent/ports"
	"aria/internal/logging"
)

// BridgeClient defines the client surface the adapter needs.
type BridgeClient interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error)
	ListTools(ctx context.Context) ([]ToolSchema, error)
}

// schemaTypes are the JSON Schema property types the local parameter schema
// can represent.
var schemaTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// ToolAdapter exposes a remote MCP tool as a local ToolExecutor.
type ToolAdapter struct {
	serverName string
	client     BridgeClient
	toolSchema ToolSchema
	params     ports.ParameterSchema
	logger     logging.Logger
}

// DiscoverTools lists the server's tools and wraps each in an adapter. A tool
// whose input schema cannot be translated fails discovery for the whole
// server; partial tool sets would leave the model calling tools it cannot
// describe.
func DiscoverTools(ctx context.Context, serverName string, client BridgeClient) ([]*ToolAdapter, error) {
	schemas, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	adapters := make([]*ToolAdapter, 0, len(schemas))
	for _, schema := range schemas {
		adapter, err := NewToolAdapter(serverName, client, schema)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

// NewToolAdapter creates a new tool adapter. The input schema is translated
// eagerly so registration fails before the model ever sees the tool.
func NewToolAdapter(serverName string, client BridgeClient, toolSchema ToolSchema) (*ToolAdapter, error) {
	params, err := translateInputSchema(toolSchema)
	if err != nil {
		return nil, err
	}
	return &ToolAdapter{
		serverName: serverName,
		client:     client,
		toolSchema: toolSchema,
		params:     params,
		logger:     logging.NewComponentLogger(fmt.Sprintf("ToolAdapter[%s/%s]", serverName, toolSchema.Name)),
	}, nil
}

// Execute implements ports.ToolExecutor.Execute
func (t *ToolAdapter) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	t.logger.Debug("Executing bridged tool: %s with args: %v", call.Name, call.Arguments)

	result, err := t.client.CallTool(ctx, t.toolSchema.Name, call.Arguments)
	if err != nil {
		t.logger.Error("Bridged tool call failed: %v", err)
		return &ports.ToolResult{
			CallID: call.ID,
			Error:  fmt.Errorf("bridged tool call failed: %w", err),
		}, nil
	}

	// The server executed the tool but the tool itself reported a failure.
	if result.IsError {
		errMsg := t.formatContent(result.Content)
		t.logger.Warn("Bridged tool returned error: %s", errMsg)
		return &ports.ToolResult{
			CallID: call.ID,
			Error:  fmt.Errorf("tool error: %s", errMsg),
		}, nil
	}

	content := t.formatContent(result.Content)
	t.logger.Debug("Bridged tool succeeded: content_length=%d", len(content))

	return &ports.ToolResult{
		CallID:  call.ID,
		Content: content,
		Metadata: map[string]any{
			"mcp_server": t.serverName,
			"tool_name":  t.toolSchema.Name,
		},
	}, nil
}

// Definition implements ports.ToolExecutor.Definition
func (t *ToolAdapter) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        t.getPrefixedName(),
		Description: t.formatDescription(),
		Parameters:  t.params,
	}
}

// Metadata implements ports.ToolExecutor.Metadata
func (t *ToolAdapter) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:     t.getPrefixedName(),
		Version:  "1.0.0",
		Category: "mcp_tools",
		Tags:     []string{"mcp", t.serverName},
	}
}

// getPrefixedName returns the tool name prefixed with server name
func (t *ToolAdapter) getPrefixedName() string {
	return fmt.Sprintf("mcp__%s__%s", t.serverName, t.toolSchema.Name)
}

// formatDescription adds server context to the tool description
func (t *ToolAdapter) formatDescription() string {
	return fmt.Sprintf("[MCP:%s] %s", t.serverName, t.toolSchema.Description)
}

// translateInputSchema converts an MCP JSON schema into the local parameter
// schema, rejecting property types the local schema cannot express.
func translateInputSchema(toolSchema ToolSchema) (ports.ParameterSchema, error) {
	schema := ports.ParameterSchema{
		Type:       "object",
		Properties: make(map[string]ports.Property),
		Required:   []string{},
	}

	if properties, ok := toolSchema.InputSchema["properties"].(map[string]any); ok {
		for propName, propValue := range properties {
			propMap, ok := propValue.(map[string]any)
			if !ok {
				return schema, fmt.Errorf("%w: tool %s: property %s is not an object",
					ErrSchemaTranslation, toolSchema.Name, propName)
			}

			prop := ports.Property{}

			typeVal, ok := propMap["type"].(string)
			if !ok || typeVal == "" {
				return schema, fmt.Errorf("%w: tool %s: property %s has no type",
					ErrSchemaTranslation, toolSchema.Name, propName)
			}
			if !schemaTypes[typeVal] {
				return schema, fmt.Errorf("%w: tool %s: property %s has unsupported type %q",
					ErrSchemaTranslation, toolSchema.Name, propName, typeVal)
			}
			prop.Type = typeVal

			if descVal, ok := propMap["description"].(string); ok {
				prop.Description = descVal
			}
			if enumVal, ok := propMap["enum"].([]any); ok {
				prop.Enum = enumVal
			}
			if defaultVal, ok := propMap["default"]; ok {
				prop.Default = defaultVal
			}

			schema.Properties[propName] = prop
		}
	}

	if required, ok := toolSchema.InputSchema["required"].([]any); ok {
		for _, req := range required {
			reqStr, ok := req.(string)
			if !ok {
				return schema, fmt.Errorf("%w: tool %s: required entry is not a string",
					ErrSchemaTranslation, toolSchema.Name)
			}
			if _, exists := schema.Properties[reqStr]; !exists {
				return schema, fmt.Errorf("%w: tool %s: required field %q is not a declared property",
					ErrSchemaTranslation, toolSchema.Name, reqStr)
			}
			schema.Required = append(schema.Required, reqStr)
		}
	}

	return schema, nil
}

// formatContent converts MCP content blocks to a single string
func (t *ToolAdapter) formatContent(blocks []ContentBlock) string {
	var parts []string

	for _, block := range blocks {
		switch block.Type {
		case "text":
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case "image":
			if block.MimeType != "" {
				parts = append(parts, fmt.Sprintf("[Image: %s]", block.MimeType))
			} else {
				parts = append(parts, "[Image]")
			}
			if block.Data != "" {
				preview := block.Data
				if len(preview) > 100 {
					preview = preview[:100] + "..."
				}
				parts = append(parts, fmt.Sprintf("Data: %s", preview))
			}
		case "resource":
			parts = append(parts, fmt.Sprintf("[Resource: %s]", block.Text))
		default:
			t.logger.Warn("Unknown content block type: %s", block.Type)
			parts = append(parts, fmt.Sprintf("[%s]", block.Type))
		}
	}

	return strings.Join(parts, "\n\n")
}

// ValidateArguments validates tool arguments against the schema
func (t *ToolAdapter) ValidateArguments(args map[string]any) error {
	for _, field := range t.params.Required {
		if _, exists := args[field]; !exists {
			return fmt.Errorf("missing required argument: %s", field)
		}
	}
	return nil
}

var _ ports.ToolExecutor = (*ToolAdapter)(nil)
