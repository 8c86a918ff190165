package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"aria/internal/agent/ports"
	"aria/internal/logging"

	"github.com/google/uuid"
)

// Server answers MCP requests over newline-delimited JSON-RPC, serving tools
// out of a local registry. It is the other half of Client: any registry can
// be exported to a foreign agent runtime by running it behind a Server on
// stdio.
type Server struct {
	name     string
	version  string
	registry ports.ToolRegistry
	logger   logging.Logger
	in       io.Reader
	out      io.Writer
	writeMu  sync.Mutex
}

// NewServer creates a server that reads requests from in and writes responses
// to out. For a stdio server pass os.Stdin and os.Stdout.
func NewServer(name, version string, registry ports.ToolRegistry, in io.Reader, out io.Writer) *Server {
	return &Server{
		name:     name,
		version:  version,
		registry: registry,
		logger:   logging.NewComponentLogger(fmt.Sprintf("MCPServer[%s]", name)),
		in:       in,
		out:      out,
	}
}

// Serve processes requests until the input stream closes or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		req, err := UnmarshalRequest(line)
		if err != nil {
			s.logger.Warn("Dropping unparseable frame: %v", err)
			s.writeResponse(NewErrorResponse(nil, ParseError, "parse error", err.Error()))
			continue
		}

		if req.IsNotification() {
			s.logger.Debug("Notification: %s", req.Method)
			continue
		}

		s.writeResponse(s.handle(ctx, req))
	}

	return scanner.Err()
}

func (s *Server) handle(ctx context.Context, req *Request) *Response {
	s.logger.Debug("Handling request: method=%s, id=%v", req.Method, req.ID)

	switch req.Method {
	case "initialize":
		return NewResponse(req.ID, InitializeResult{
			ProtocolVersion: MCPProtocolVersion,
			ServerInfo:      ServerInfo{Name: s.name, Version: s.version},
			Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		})
	case "ping":
		return NewResponse(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return NewErrorResponse(req.ID, MethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleToolsList(req *Request) *Response {
	defs := s.registry.List()
	schemas := make([]ToolSchema, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: exportParameterSchema(def.Parameters),
		})
	}
	return NewResponse(req.ID, map[string]any{"tools": schemas})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	name, _ := req.Params["name"].(string)
	if name == "" {
		return NewErrorResponse(req.ID, InvalidParams, "tool name is required", nil)
	}

	tool, err := s.registry.Get(name)
	if err != nil {
		return NewErrorResponse(req.ID, InvalidParams, fmt.Sprintf("unknown tool: %s", name), nil)
	}

	arguments, _ := req.Params["arguments"].(map[string]any)

	result, err := tool.Execute(ctx, ports.ToolCall{
		ID:        uuid.NewString(),
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return NewErrorResponse(req.ID, InternalError, err.Error(), nil)
	}

	// Tool-level failures travel as isError results, not protocol errors.
	if result != nil && result.Error != nil {
		return NewResponse(req.ID, ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result.Error.Error()}},
			IsError: true,
		})
	}

	content := ""
	if result != nil {
		content = result.Content
	}
	return NewResponse(req.ID, ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: content}},
	})
}

// exportParameterSchema renders a local parameter schema back into JSON
// Schema form for the wire.
func exportParameterSchema(params ports.ParameterSchema) map[string]any {
	properties := make(map[string]any, len(params.Properties))
	for name, prop := range params.Properties {
		p := map[string]any{"type": prop.Type}
		if prop.Description != "" {
			p["description"] = prop.Description
		}
		if len(prop.Enum) > 0 {
			p["enum"] = prop.Enum
		}
		if prop.Default != nil {
			p["default"] = prop.Default
		}
		properties[name] = p
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(params.Required) > 0 {
		schema["required"] = params.Required
	}
	return schema
}

func (s *Server) writeResponse(resp *Response) {
	data, err := Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to marshal response: %v", err)
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("Failed to write response: %v", err)
	}
}
