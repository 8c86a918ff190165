package mcp

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// scriptTransport runs an in-memory MCP server scripted per method. Frames
// written by the client are parsed and handed to the handler; the handler
// responds through respond / respondRaw.
type scriptTransport struct {
	handler func(t *scriptTransport, req *Request)

	pr *io.PipeReader
	pw *io.PipeWriter

	mu         sync.Mutex
	started    bool
	closeCount int
}

func newScriptTransport(handler func(t *scriptTransport, req *Request)) *scriptTransport {
	pr, pw := io.Pipe()
	return &scriptTransport{handler: handler, pr: pr, pw: pw}
}

func (t *scriptTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

func (t *scriptTransport) Write(data []byte) error {
	req, err := UnmarshalRequest(data)
	if err != nil || req.IsNotification() {
		return nil
	}
	go t.handler(t, req)
	return nil
}

func (t *scriptTransport) Reader() io.Reader {
	return t.pr
}

func (t *scriptTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCount++
	if t.closeCount == 1 {
		_ = t.pw.Close()
	}
	return nil
}

func (t *scriptTransport) respond(resp *Response) {
	data, err := Marshal(resp)
	if err != nil {
		return
	}
	_, _ = t.pw.Write(append(data, '\n'))
}

func (t *scriptTransport) respondRaw(frame string) {
	_, _ = t.pw.Write([]byte(frame + "\n"))
}

func initializeResponse(id any) *Response {
	return NewResponse(id, InitializeResult{
		ProtocolVersion: MCPProtocolVersion,
		ServerInfo:      ServerInfo{Name: "scripted", Version: "0.0.1"},
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
	})
}

// handshakeThen answers initialize and delegates everything else.
func handshakeThen(rest func(t *scriptTransport, req *Request)) func(t *scriptTransport, req *Request) {
	return func(t *scriptTransport, req *Request) {
		if req.Method == "initialize" {
			t.respond(initializeResponse(req.ID))
			return
		}
		rest(t, req)
	}
}

func connectedClient(t *testing.T, handler func(tr *scriptTransport, req *Request), opts ...ClientOption) *Client {
	t.Helper()
	transport := newScriptTransport(handshakeThen(handler))
	client := NewClient("scripted", transport, append([]ClientOption{WithLogger(nil)}, opts...)...)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientConnectHandshake(t *testing.T) {
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {})

	if !client.IsInitialized() {
		t.Fatalf("client must be initialized after Connect")
	}
	info := client.GetServerInfo()
	if info == nil || info.Name != "scripted" {
		t.Fatalf("unexpected server info: %+v", info)
	}
}

func TestClientConnectTimesOutWithoutHandshakeReply(t *testing.T) {
	transport := newScriptTransport(func(tr *scriptTransport, req *Request) {
		// Never answer initialize.
	})
	client := NewClient("silent", transport, WithLogger(nil), WithHandshakeTimeout(50*time.Millisecond))

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("expected ErrBridgeUnavailable, got %v", err)
	}
	if client.IsInitialized() {
		t.Fatalf("client must not be initialized after failed handshake")
	}
}

func TestClientCallToolBeforeConnect(t *testing.T) {
	client := NewClient("idle", newScriptTransport(func(tr *scriptTransport, req *Request) {}), WithLogger(nil))
	_, err := client.CallTool(context.Background(), "echo", nil)
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("expected ErrBridgeUnavailable, got %v", err)
	}
}

func TestClientCallToolSuccess(t *testing.T) {
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {
		if req.Method != "tools/call" {
			tr.respond(NewErrorResponse(req.ID, MethodNotFound, "nope", nil))
			return
		}
		tr.respond(NewResponse(req.ID, ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: "sunny, 21C"}},
		}))
	})

	result, err := client.CallTool(context.Background(), "get_weather", map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatalf("call tool: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "sunny, 21C" {
		t.Fatalf("unexpected content: %+v", result.Content)
	}
}

func TestClientCallToolBusy(t *testing.T) {
	callReceived := make(chan struct{}, 2)
	release := make(chan struct{})
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {
		callReceived <- struct{}{}
		<-release
		tr.respond(NewResponse(req.ID, ToolCallResult{Content: []ContentBlock{{Type: "text", Text: "done"}}}))
	})

	firstDone := make(chan error, 1)
	go func() {
		_, err := client.CallTool(context.Background(), "slow", nil)
		firstDone <- err
	}()

	<-callReceived

	_, err := client.CallTool(context.Background(), "second", nil)
	if !errors.Is(err, ErrBridgeBusy) {
		t.Fatalf("expected ErrBridgeBusy while another invocation is in flight, got %v", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first call should complete: %v", err)
	}

	// The slot frees once the first call returns.
	if _, err := client.CallTool(context.Background(), "slow", nil); err != nil {
		t.Fatalf("expected slot to be free after completion, got %v", err)
	}
}

func TestClientCallToolTimeout(t *testing.T) {
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {
		// Never respond to tools/call.
	}, WithCallTimeout(50*time.Millisecond))

	_, err := client.CallTool(context.Background(), "stuck", nil)

	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if invErr.Reason != ReasonTimeout {
		t.Fatalf("expected timeout reason, got %s", invErr.Reason)
	}
	if invErr.Tool != "stuck" {
		t.Fatalf("expected tool name in error, got %s", invErr.Tool)
	}
}

func TestClientCallToolRemoteError(t *testing.T) {
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {
		tr.respond(NewErrorResponse(req.ID, ServerError, "tool exploded", nil))
	})

	_, err := client.CallTool(context.Background(), "explode", nil)

	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if invErr.Reason != ReasonRemoteError {
		t.Fatalf("expected remote_error reason, got %s", invErr.Reason)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Message != "tool exploded" {
		t.Fatalf("expected wrapped RPC error, got %v", err)
	}
}

func TestClientCallToolMalformedFrame(t *testing.T) {
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {
		tr.respondRaw(`{"this is": not json`)
	})

	_, err := client.CallTool(context.Background(), "garbled", nil)

	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if invErr.Reason != ReasonMalformedResponse {
		t.Fatalf("expected malformed_response reason, got %s", invErr.Reason)
	}
}

func TestClientCallToolMalformedResult(t *testing.T) {
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {
		// Structurally valid JSON-RPC, but the result is not a tool result.
		tr.respond(NewResponse(req.ID, map[string]any{"content": "should be a list"}))
	})

	_, err := client.CallTool(context.Background(), "odd", nil)

	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if invErr.Reason != ReasonMalformedResponse {
		t.Fatalf("expected malformed_response reason, got %s", invErr.Reason)
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	transport := newScriptTransport(handshakeThen(func(tr *scriptTransport, req *Request) {}))
	client := NewClient("scripted", transport, WithLogger(nil))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
	if transport.closeCount != 1 {
		t.Fatalf("transport must be closed exactly once, got %d", transport.closeCount)
	}

	_, err := client.CallTool(context.Background(), "echo", nil)
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("expected ErrBridgeUnavailable after close, got %v", err)
	}
}

func TestClientServerExitFailsInFlightCall(t *testing.T) {
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {
		// Simulate the server dying mid-call.
		_ = tr.pw.Close()
	})

	_, err := client.CallTool(context.Background(), "dying", nil)
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("expected ErrBridgeUnavailable when server exits, got %v", err)
	}
	if client.IsInitialized() {
		t.Fatalf("client must mark itself unavailable after server exit")
	}
}

func TestClientListToolsRequiresConnection(t *testing.T) {
	client := NewClient("idle", newScriptTransport(func(tr *scriptTransport, req *Request) {}), WithLogger(nil))
	_, err := client.ListTools(context.Background())
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Fatalf("expected ErrBridgeUnavailable, got %v", err)
	}
}

func TestClientListTools(t *testing.T) {
	client := connectedClient(t, func(tr *scriptTransport, req *Request) {
		if req.Method != "tools/list" {
			tr.respond(NewErrorResponse(req.ID, MethodNotFound, "nope", nil))
			return
		}
		tr.respond(NewResponse(req.ID, map[string]any{
			"tools": []ToolSchema{
				{Name: "get_weather", Description: "Current conditions", InputSchema: map[string]any{"type": "object"}},
				{Name: "get_forecast", Description: "Daily forecast", InputSchema: map[string]any{"type": "object"}},
			},
		}))
	})

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "get_weather" || tools[1].Name != "get_forecast" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}
