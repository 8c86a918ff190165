package ports

import "context"

// LLMClient represents any LLM provider
type LLMClient interface {
	// Complete sends messages and returns a response (non-streaming)
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier
	Model() string
}

// StreamingLLMClient extends LLMClient with incremental content delivery.
type StreamingLLMClient interface {
	LLMClient

	// StreamComplete behaves like Complete but invokes callbacks as content
	// arrives. The returned response contains the fully accumulated result.
	StreamComplete(ctx context.Context, req CompletionRequest, callbacks CompletionStreamCallbacks) (*CompletionResponse, error)
}

// CompletionRequest contains all parameters for LLM completion
type CompletionRequest struct {
	Messages      []Message        `json:"messages"`
	Tools         []ToolDefinition `json:"tools,omitempty"`
	Temperature   float64          `json:"temperature,omitempty"`
	MaxTokens     int              `json:"max_tokens,omitempty"`
	TopP          float64          `json:"top_p,omitempty"`
	StopSequences []string         `json:"stop,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
}

// CompletionResponse is the LLM's response
type CompletionResponse struct {
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	StopReason string         `json:"stop_reason"`
	Usage      TokenUsage     `json:"usage"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ContentDelta represents a streamed assistant content fragment.
type ContentDelta struct {
	Delta string
	Final bool
}

// CompletionStreamCallbacks captures optional hooks invoked while streaming an
// LLM response. All callbacks are optional; nil functions are ignored.
type CompletionStreamCallbacks struct {
	OnContentDelta func(ContentDelta)
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// MessageSource tags where a conversation message originated.
type MessageSource string

const (
	MessageSourceUnknown        MessageSource = ""
	MessageSourceSystemPrompt   MessageSource = "system_prompt"
	MessageSourceUserInput      MessageSource = "user_input"
	MessageSourceAssistantReply MessageSource = "assistant_reply"
	MessageSourceToolResult     MessageSource = "tool_result"
)

// Message represents a conversation message
type Message struct {
	Role        string         `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Source      MessageSource  `json:"source,omitempty"`
}
