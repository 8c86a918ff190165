package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"aria/internal/logging"
)

// MCP Protocol version
const MCPProtocolVersion = "2024-11-05"

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCallTimeout      = 30 * time.Second
)

// errMalformedFrame marks replies the client could not decode.
var errMalformedFrame = errors.New("malformed response frame")

// Client implements an MCP client over a newline-delimited JSON-RPC transport.
// One invocation may be in flight at a time; concurrent callers get
// ErrBridgeBusy instead of queueing.
type Client struct {
	serverName       string
	transport        Transport
	idGen            *RequestIDGenerator
	pending          map[string]chan pendingReply
	mu               sync.RWMutex
	logger           logging.Logger
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	initialized      atomic.Bool
	closed           atomic.Bool
	busy             atomic.Bool
	closeOnce        sync.Once
	closeErr         error
	serverInfo       *ServerInfo
	capabilities     *ServerCapabilities
}

// pendingReply carries either a routed response or a decode failure to the
// caller waiting on a request ID.
type pendingReply struct {
	resp *Response
	err  error
}

// ClientInfo represents the client information sent during initialize
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo represents the server information received during initialize
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities represents what the server supports
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
}

// ToolsCapability indicates the server supports tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability indicates the server supports resources
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability indicates the server supports prompts
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeResult is the result of the initialize handshake
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// ToolSchema represents an MCP tool definition
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolCallResult is the result of calling a tool
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a piece of content in the result
type ContentBlock struct {
	Type     string `json:"type"` // "text", "image", "resource"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ClientOption customizes client construction.
type ClientOption func(*Client)

// WithHandshakeTimeout bounds the initialize round trip during Connect.
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// WithCallTimeout bounds each tool invocation round trip.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// NewClient creates a new MCP client over the given transport.
func NewClient(serverName string, transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		serverName:       serverName,
		transport:        transport,
		idGen:            NewRequestIDGenerator(),
		pending:          make(map[string]chan pendingReply),
		logger:           logging.NewComponentLogger(fmt.Sprintf("MCPClient[%s]", serverName)),
		handshakeTimeout: defaultHandshakeTimeout,
		callTimeout:      defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect starts the transport and performs the initialize handshake. Any
// failure leaves the client unusable and reports ErrBridgeUnavailable.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %s: client closed", ErrBridgeUnavailable, c.serverName)
	}
	if c.initialized.Load() {
		return fmt.Errorf("client already connected: %s", c.serverName)
	}

	c.logger.Info("Connecting to MCP server: %s", c.serverName)

	if err := c.transport.Start(ctx); err != nil {
		return fmt.Errorf("%w: %s: start transport: %v", ErrBridgeUnavailable, c.serverName, err)
	}

	// Start reading responses in background
	logging.Go(c.logger, "mcp.client.readLoop", func() {
		c.readLoop()
	})

	hctx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()

	if err := c.initialize(hctx); err != nil {
		_ = c.transport.Close() // Best effort cleanup
		return fmt.Errorf("%w: %s: initialize handshake: %v", ErrBridgeUnavailable, c.serverName, err)
	}

	c.logger.Info("MCP client initialized successfully")
	return nil
}

// Close tears down the connection. Safe to call repeatedly; every call after
// the first returns the first call's result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Info("Stopping MCP client")
		c.closed.Store(true)
		c.initialized.Store(false)
		c.closeErr = c.transport.Close()
		c.failAllPending(fmt.Errorf("%w: %s: client closed", ErrBridgeUnavailable, c.serverName))
	})
	return c.closeErr
}

// initialize performs the MCP initialize handshake
func (c *Client) initialize(ctx context.Context) error {
	c.logger.Debug("Sending initialize request")

	params := map[string]any{
		"protocolVersion": MCPProtocolVersion,
		"clientInfo": ClientInfo{
			Name:    "aria",
			Version: "0.1.0",
		},
	}

	result, err := c.call(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize call failed: %w", err)
	}

	var initResult InitializeResult
	if err := unmarshalResult(result, &initResult); err != nil {
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}

	if initResult.ProtocolVersion != MCPProtocolVersion {
		c.logger.Warn("Protocol version mismatch: client=%s, server=%s",
			MCPProtocolVersion, initResult.ProtocolVersion)
	}

	c.mu.Lock()
	c.serverInfo = &initResult.ServerInfo
	c.capabilities = &initResult.Capabilities
	c.mu.Unlock()
	c.initialized.Store(true)

	c.logger.Info("Initialized with server: %s v%s", initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	// Send initialized notification
	if err := c.notify("notifications/initialized", nil); err != nil {
		c.logger.Warn("Failed to send initialized notification: %v", err)
	}

	return nil
}

// ListTools retrieves all available tools from the server
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if !c.initialized.Load() {
		return nil, fmt.Errorf("%w: %s: not connected", ErrBridgeUnavailable, c.serverName)
	}

	c.logger.Debug("Listing tools from server")

	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list call failed: %w", err)
	}

	var response struct {
		Tools []ToolSchema `json:"tools"`
	}
	if err := unmarshalResult(result, &response); err != nil {
		return nil, newInvocationError("tools/list", ReasonMalformedResponse, err)
	}

	c.logger.Info("Retrieved %d tools from server", len(response.Tools))
	return response.Tools, nil
}

// CallTool executes a tool on the MCP server. At most one invocation may be
// in flight; concurrent calls fail fast with ErrBridgeBusy.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	if !c.initialized.Load() {
		return nil, fmt.Errorf("%w: %s: not connected", ErrBridgeUnavailable, c.serverName)
	}

	if !c.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s: invocation already in flight", ErrBridgeBusy, c.serverName)
	}
	defer c.busy.Store(false)

	c.logger.Debug("Calling tool: %s", name)

	params := map[string]any{
		"name":      name,
		"arguments": arguments,
	}

	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := c.call(cctx, "tools/call", params)
	if err != nil {
		return nil, c.classifyCallError(name, err)
	}

	var toolResult ToolCallResult
	if err := unmarshalResult(result, &toolResult); err != nil {
		return nil, newInvocationError(name, ReasonMalformedResponse, err)
	}

	c.logger.Debug("Tool %s executed, content blocks: %d", name, len(toolResult.Content))
	return &toolResult, nil
}

// classifyCallError maps transport and protocol failures onto the invocation
// error taxonomy.
func (c *Client) classifyCallError(tool string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newInvocationError(tool, ReasonTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("tool invocation cancelled: %s: %w", tool, err)
	case errors.Is(err, errMalformedFrame):
		return newInvocationError(tool, ReasonMalformedResponse, err)
	case errors.Is(err, ErrBridgeUnavailable):
		return err
	default:
		return newInvocationError(tool, ReasonRemoteError, err)
	}
}

// call sends a JSON-RPC request and waits for the matching response.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (any, error) {
	id := c.idGen.Next()
	req := NewRequest(id, method, params)

	data, err := Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Newline delimiter for stdio transport
	data = append(data, '\n')

	replyChan := make(chan pendingReply, 1)
	c.mu.Lock()
	c.pending[id] = replyChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.logger.Debug("Sending request: method=%s, id=%v", method, id)
	if err := c.transport.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %s: write failed: %v", ErrBridgeUnavailable, c.serverName, err)
	}

	select {
	case reply := <-replyChan:
		if reply.err != nil {
			return nil, reply.err
		}
		if reply.resp.IsError() {
			return nil, reply.resp.Error
		}
		return reply.resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// notify sends a JSON-RPC notification (no response expected)
func (c *Client) notify(method string, params map[string]any) error {
	notif := NewNotification(method, params)

	data, err := Marshal(notif)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	data = append(data, '\n')

	c.logger.Debug("Sending notification: method=%s", method)
	return c.transport.Write(data)
}

// readLoop continuously reads and routes frames from the server.
func (c *Client) readLoop() {
	c.logger.Debug("Starting read loop")
	scanner := bufio.NewScanner(c.transport.Reader())

	// Increase buffer size for large responses
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024) // 1MB max

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		c.logger.Debug("Received frame: %d bytes", len(line))

		resp, err := UnmarshalResponse(line)
		if err != nil {
			// The caller sequences requests, so a frame that cannot be
			// decoded belongs to whichever call is waiting.
			c.logger.Error("Failed to unmarshal response: %v", err)
			c.failAllPending(fmt.Errorf("%w: %v", errMalformedFrame, err))
			continue
		}

		// Server-initiated notifications carry no ID and no result.
		if resp.ID == nil && resp.Result == nil && resp.Error == nil {
			continue
		}

		c.mu.RLock()
		ch, ok := c.pending[idKey(resp.ID)]
		c.mu.RUnlock()

		if ok {
			select {
			case ch <- pendingReply{resp: resp}:
			default:
				c.logger.Warn("Reply channel full, dropping response: id=%v", resp.ID)
			}
		} else {
			c.logger.Warn("No pending call found for response: id=%v", resp.ID)
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("Read loop error: %v", err)
	}
	c.logger.Debug("Read loop exited")

	// EOF means the server went away mid-conversation.
	c.initialized.Store(false)
	c.failAllPending(fmt.Errorf("%w: %s: connection closed", ErrBridgeUnavailable, c.serverName))
}

// failAllPending delivers err to every waiting caller.
func (c *Client) failAllPending(err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.pending {
		select {
		case ch <- pendingReply{err: err}:
		default:
		}
	}
}

// IsInitialized checks if the client has completed initialization
func (c *Client) IsInitialized() bool {
	return c.initialized.Load()
}

// ServerName returns the configured server name.
func (c *Client) ServerName() string {
	return c.serverName
}

// GetServerInfo returns information about the connected server
func (c *Client) GetServerInfo() *ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// GetCapabilities returns the server's capabilities
func (c *Client) GetCapabilities() *ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities
}

// unmarshalResult is a helper to unmarshal the result field
func unmarshalResult(result any, target any) error {
	data, err := Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
