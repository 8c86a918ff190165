package llm

import (
	"context"
	"fmt"
	"sync"

	"aria/internal/agent/ports"
)

// MockStep scripts one completion round for MockClient. Chunks are emitted as
// streaming deltas before the aggregated response is returned.
type MockStep struct {
	Chunks    []string
	Content   string
	ToolCalls []ports.ToolCall
	Err       error
}

// MockClient replays a scripted sequence of completions. Each call to
// Complete or StreamComplete consumes the next step.
type MockClient struct {
	mu       sync.Mutex
	steps    []MockStep
	calls    int
	Requests []ports.CompletionRequest
}

// NewMockClient creates a client that replays the given steps in order.
func NewMockClient(steps ...MockStep) *MockClient {
	return &MockClient{steps: steps}
}

func (m *MockClient) Model() string {
	return "mock-model"
}

// Calls reports how many completions have been consumed.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) next(req ports.CompletionRequest) (MockStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.calls >= len(m.steps) {
		return MockStep{}, fmt.Errorf("mock client exhausted after %d calls", m.calls)
	}
	step := m.steps[m.calls]
	m.calls++
	return step, nil
}

func (m *MockClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	return m.StreamComplete(ctx, req, ports.CompletionStreamCallbacks{})
}

func (m *MockClient) StreamComplete(ctx context.Context, req ports.CompletionRequest, callbacks ports.CompletionStreamCallbacks) (*ports.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step, err := m.next(req)
	if err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}

	content := step.Content
	if len(step.Chunks) > 0 {
		content = ""
		for _, chunk := range step.Chunks {
			content += chunk
			if callbacks.OnContentDelta != nil {
				callbacks.OnContentDelta(ports.ContentDelta{Delta: chunk})
			}
		}
	}
	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ports.ContentDelta{Final: true})
	}

	stopReason := "stop"
	if len(step.ToolCalls) > 0 {
		stopReason = "tool_calls"
	}

	return &ports.CompletionResponse{
		Content:    content,
		ToolCalls:  append([]ports.ToolCall(nil), step.ToolCalls...),
		StopReason: stopReason,
		Usage: ports.TokenUsage{
			PromptTokens:     10,
			CompletionTokens: 5,
			TotalTokens:      15,
		},
	}, nil
}

var _ ports.StreamingLLMClient = (*MockClient)(nil)
