package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	"aria/internal/agent/ports"
)

type stubBridge struct {
	tools      []ToolSchema
	listErr    error
	callResult *ToolCallResult
	callErr    error
	lastName   string
	lastArgs   map[string]any
}

func (s *stubBridge) ListTools(ctx context.Context) ([]ToolSchema, error) {
	return s.tools, s.listErr
}

func (s *stubBridge) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	s.lastName = name
	s.lastArgs = arguments
	return s.callResult, s.callErr
}

func weatherSchema() ToolSchema {
	return ToolSchema{
		Name:        "get_weather",
		Description: "Current conditions for a city",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{
					"type":        "string",
					"description": "City name",
				},
				"units": map[string]any{
					"type":    "string",
					"enum":    []any{"metric", "imperial"},
					"default": "metric",
				},
			},
			"required": []any{"city"},
		},
	}
}

func TestNewToolAdapterTranslatesSchema(t *testing.T) {
	adapter, err := NewToolAdapter("weather", &stubBridge{}, weatherSchema())
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}

	def := adapter.Definition()
	if def.Name != "mcp__weather__get_weather" {
		t.Fatalf("unexpected prefixed name: %s", def.Name)
	}
	if !strings.HasPrefix(def.Description, "[MCP:weather]") {
		t.Fatalf("description missing server prefix: %s", def.Description)
	}

	city, ok := def.Parameters.Properties["city"]
	if !ok || city.Type != "string" || city.Description != "City name" {
		t.Fatalf("unexpected city property: %+v", city)
	}
	units := def.Parameters.Properties["units"]
	if len(units.Enum) != 2 || units.Default != "metric" {
		t.Fatalf("enum/default not carried over: %+v", units)
	}
	if len(def.Parameters.Required) != 1 || def.Parameters.Required[0] != "city" {
		t.Fatalf("unexpected required list: %v", def.Parameters.Required)
	}
}

func TestNewToolAdapterRejectsUnsupportedType(t *testing.T) {
	schema := ToolSchema{
		Name: "bad_tool",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"blob": map[string]any{"type": "binary"},
			},
		},
	}
	_, err := NewToolAdapter("weather", &stubBridge{}, schema)
	if !errors.Is(err, ErrSchemaTranslation) {
		t.Fatalf("expected ErrSchemaTranslation, got %v", err)
	}
}

func TestNewToolAdapterRejectsUntypedProperty(t *testing.T) {
	schema := ToolSchema{
		Name: "bad_tool",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"x": map[string]any{"description": "no type"},
			},
		},
	}
	_, err := NewToolAdapter("weather", &stubBridge{}, schema)
	if !errors.Is(err, ErrSchemaTranslation) {
		t.Fatalf("expected ErrSchemaTranslation, got %v", err)
	}
}

func TestNewToolAdapterRejectsDanglingRequired(t *testing.T) {
	schema := ToolSchema{
		Name: "bad_tool",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []any{"country"},
		},
	}
	_, err := NewToolAdapter("weather", &stubBridge{}, schema)
	if !errors.Is(err, ErrSchemaTranslation) {
		t.Fatalf("expected ErrSchemaTranslation, got %v", err)
	}
}

func TestDiscoverToolsFailsOnAnyBadSchema(t *testing.T) {
	bridge := &stubBridge{tools: []ToolSchema{
		weatherSchema(),
		{Name: "bad", InputSchema: map[string]any{
			"properties": map[string]any{"x": map[string]any{"type": "tuple"}},
		}},
	}}
	_, err := DiscoverTools(context.Background(), "weather", bridge)
	if !errors.Is(err, ErrSchemaTranslation) {
		t.Fatalf("expected ErrSchemaTranslation, got %v", err)
	}
}

func TestDiscoverToolsWrapsEveryTool(t *testing.T) {
	bridge := &stubBridge{tools: []ToolSchema{weatherSchema()}}
	adapters, err := DiscoverTools(context.Background(), "weather", bridge)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(adapters) != 1 {
		t.Fatalf("expected 1 adapter, got %d", len(adapters))
	}
	if adapters[0].Metadata().Name != "mcp__weather__get_weather" {
		t.Fatalf("unexpected metadata name: %s", adapters[0].Metadata().Name)
	}
}

func TestToolAdapterExecuteFormatsTextBlocks(t *testing.T) {
	bridge := &stubBridge{callResult: &ToolCallResult{
		Content: []ContentBlock{
			{Type: "text", Text: "Oslo: partly cloudy"},
			{Type: "text", Text: "12C"},
		},
	}}
	adapter, err := NewToolAdapter("weather", bridge, weatherSchema())
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}

	result, err := adapter.Execute(context.Background(), ports.ToolCall{
		ID:        "call-1",
		Name:      "mcp__weather__get_weather",
		Arguments: map[string]any{"city": "Oslo"},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Error != nil {
		t.Fatalf("unexpected tool error: %v", result.Error)
	}
	if result.Content != "Oslo: partly cloudy\n\n12C" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
	if bridge.lastName != "get_weather" {
		t.Fatalf("adapter must call the unprefixed remote name, got %s", bridge.lastName)
	}
	if result.Metadata["mcp_server"] != "weather" {
		t.Fatalf("missing server metadata: %+v", result.Metadata)
	}
}

func TestToolAdapterExecuteMapsIsErrorToToolError(t *testing.T) {
	bridge := &stubBridge{callResult: &ToolCallResult{
		IsError: true,
		Content: []ContentBlock{{Type: "text", Text: "city not found"}},
	}}
	adapter, err := NewToolAdapter("weather", bridge, weatherSchema())
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}

	result, err := adapter.Execute(context.Background(), ports.ToolCall{ID: "call-1"})
	if err != nil {
		t.Fatalf("tool failures must not surface as execution errors: %v", err)
	}
	if result.Error == nil || !strings.Contains(result.Error.Error(), "city not found") {
		t.Fatalf("expected tool error in result, got %v", result.Error)
	}
}

func TestToolAdapterExecuteMapsClientErrors(t *testing.T) {
	bridge := &stubBridge{callErr: newInvocationError("get_weather", ReasonTimeout, context.DeadlineExceeded)}
	adapter, err := NewToolAdapter("weather", bridge, weatherSchema())
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}

	result, err := adapter.Execute(context.Background(), ports.ToolCall{ID: "call-1"})
	if err != nil {
		t.Fatalf("bridge failures surface in the result, not the error return: %v", err)
	}
	var invErr *InvocationError
	if !errors.As(result.Error, &invErr) || invErr.Reason != ReasonTimeout {
		t.Fatalf("expected wrapped invocation error, got %v", result.Error)
	}
}

func TestToolAdapterValidateArguments(t *testing.T) {
	adapter, err := NewToolAdapter("weather", &stubBridge{}, weatherSchema())
	if err != nil {
		t.Fatalf("adapter: %v", err)
	}
	if err := adapter.ValidateArguments(map[string]any{"city": "Oslo"}); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if err := adapter.ValidateArguments(map[string]any{"units": "metric"}); err == nil {
		t.Fatalf("expected missing required argument error")
	}
}
