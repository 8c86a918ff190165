package react

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"aria/internal/agent/ports"
	"aria/internal/llm"
	"aria/internal/toolregistry"
)

type calcTool struct {
	calls int
	fail  bool
}

func (c *calcTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	c.calls++
	if c.fail {
		return &ports.ToolResult{
			CallID:  call.ID,
			Content: "Error: division by zero",
			Error:   errors.New("division by zero"),
		}, nil
	}
	a, _ := call.Arguments["a"].(float64)
	b, _ := call.Arguments["b"].(float64)
	return &ports.ToolResult{CallID: call.ID, Content: fmt.Sprintf("%g", a+b)}, nil
}

func (c *calcTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "add",
		Description: "Adds two numbers",
		Parameters: ports.ParameterSchema{
			Type: "object",
			Properties: map[string]ports.Property{
				"a": {Type: "number"},
				"b": {Type: "number"},
			},
			Required: []string{"a", "b"},
		},
	}
}

func (c *calcTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "add", Version: "test"}
}

func registryWith(t *testing.T, tools ...ports.ToolExecutor) ports.ToolRegistry {
	t.Helper()
	registry := toolregistry.NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return registry
}

// recorder collects every event for later assertions.
type recorder struct {
	events []AgentEvent
}

func (r *recorder) OnEvent(event AgentEvent) {
	r.events = append(r.events, event)
}

func (r *recorder) types() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

func TestRunTurnDirectAnswer(t *testing.T) {
	client := llm.NewMockClient(MockAnswer("Paris is the capital of France."))
	engine := NewEngine(WithEngineLogger(nil))
	rec := &recorder{}

	result, err := engine.RunTurn(context.Background(), "capital of France?", nil, Services{
		LLM:      client,
		Registry: registryWith(t),
	}, rec)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}

	if result.FinalAnswer != "Paris is the capital of France." {
		t.Fatalf("unexpected answer: %q", result.FinalAnswer)
	}
	if result.Iterations != 1 {
		t.Fatalf("expected single iteration, got %d", result.Iterations)
	}
	if result.StopReason != "final_answer" {
		t.Fatalf("unexpected stop reason: %s", result.StopReason)
	}

	// The committed transcript is user input plus assistant reply.
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}
	if result.Messages[0].Role != "user" || result.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected roles: %s, %s", result.Messages[0].Role, result.Messages[1].Role)
	}

	last := rec.events[len(rec.events)-1]
	if _, ok := last.(*TurnCompletedEvent); !ok {
		t.Fatalf("expected TurnCompletedEvent last, got %T", last)
	}
}

func TestRunTurnToolRoundTrip(t *testing.T) {
	tool := &calcTool{}
	client := llm.NewMockClient(
		MockToolCall("call_1", "add", map[string]any{"a": float64(2), "b": float64(3)}),
		MockAnswer("2 + 3 = 5"),
	)
	engine := NewEngine(WithEngineLogger(nil))
	rec := &recorder{}

	result, err := engine.RunTurn(context.Background(), "what is 2+3?", nil, Services{
		LLM:      client,
		Registry: registryWith(t, tool),
	}, rec)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}

	if result.FinalAnswer != "2 + 3 = 5" {
		t.Fatalf("unexpected answer: %q", result.FinalAnswer)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}
	if tool.calls != 1 {
		t.Fatalf("expected single tool execution, got %d", tool.calls)
	}

	// user, assistant(tool_calls), tool, assistant(final)
	if len(result.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(result.Messages), result.Messages)
	}
	toolMsg := result.Messages[2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" || toolMsg.Content != "5" {
		t.Fatalf("unexpected tool observation: %+v", toolMsg)
	}

	// The second completion request must carry the tool observation.
	second := client.Requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == "tool" && msg.Content == "5" {
			found = true
		}
	}
	if !found {
		t.Fatalf("tool result not fed back to the model: %+v", second.Messages)
	}
}

func TestRunTurnEmitsPairedToolEvents(t *testing.T) {
	client := llm.NewMockClient(
		MockToolCall("call_1", "add", map[string]any{"a": float64(1), "b": float64(1)}),
		MockAnswer("2"),
	)
	engine := NewEngine(WithEngineLogger(nil))
	rec := &recorder{}

	if _, err := engine.RunTurn(context.Background(), "1+1?", nil, Services{
		LLM:      client,
		Registry: registryWith(t, &calcTool{}),
	}, rec); err != nil {
		t.Fatalf("run turn: %v", err)
	}

	startIdx, endIdx := -1, -1
	for i, event := range rec.events {
		switch ev := event.(type) {
		case *ToolStartedEvent:
			if ev.CallID == "call_1" {
				startIdx = i
			}
		case *ToolEndedEvent:
			if ev.CallID == "call_1" {
				endIdx = i
			}
		}
	}
	if startIdx == -1 || endIdx == -1 {
		t.Fatalf("missing tool events: %v", rec.types())
	}
	if startIdx >= endIdx {
		t.Fatalf("tool_started must precede tool_ended: %v", rec.types())
	}

	terminals := 0
	for _, event := range rec.events {
		if IsTerminal(event) {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
	if !IsTerminal(rec.events[len(rec.events)-1]) {
		t.Fatalf("terminal event must be last: %v", rec.types())
	}
}

func TestRunTurnToolErrorIsRecoverable(t *testing.T) {
	tool := &calcTool{fail: true}
	client := llm.NewMockClient(
		MockToolCall("call_1", "add", map[string]any{"a": float64(1), "b": float64(0)}),
		MockAnswer("That calculation failed: division by zero."),
	)
	engine := NewEngine(WithEngineLogger(nil))

	result, err := engine.RunTurn(context.Background(), "divide", nil, Services{
		LLM:      client,
		Registry: registryWith(t, tool),
	}, nil)
	if err != nil {
		t.Fatalf("tool errors must not fail the turn: %v", err)
	}

	// The model saw the error as an observation.
	second := client.Requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == "tool" && strings.Contains(msg.Content, "division by zero") {
			found = true
		}
	}
	if !found {
		t.Fatalf("error observation not fed back: %+v", second.Messages)
	}
	if result.StopReason != "final_answer" {
		t.Fatalf("unexpected stop reason: %s", result.StopReason)
	}
}

func TestRunTurnUnknownToolIsRecoverable(t *testing.T) {
	client := llm.NewMockClient(
		MockToolCall("call_1", "no_such_tool", nil),
		MockAnswer("I don't have that tool."),
	)
	engine := NewEngine(WithEngineLogger(nil))

	result, err := engine.RunTurn(context.Background(), "use the imaginary tool", nil, Services{
		LLM:      client,
		Registry: registryWith(t),
	}, nil)
	if err != nil {
		t.Fatalf("unknown tools must not fail the turn: %v", err)
	}

	second := client.Requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == "tool" && strings.Contains(msg.Content, "tool not found") {
			found = true
		}
	}
	if !found {
		t.Fatalf("unknown-tool observation not fed back: %+v", second.Messages)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}
}

// slowTool blocks until its context expires.
type slowTool struct{}

func (slowTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{Name: "slow", Description: "Never finishes"}
}

func (slowTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{Name: "slow", Version: "test"}
}

func TestRunTurnToolTimeoutIsRecoverable(t *testing.T) {
	client := llm.NewMockClient(
		MockToolCall("call_1", "slow", nil),
		MockAnswer("The tool timed out."),
	)
	engine := NewEngine(WithEngineLogger(nil), WithToolTimeout(20*time.Millisecond))

	result, err := engine.RunTurn(context.Background(), "be slow", nil, Services{
		LLM:      client,
		Registry: registryWith(t, slowTool{}),
	}, nil)
	if err != nil {
		t.Fatalf("tool timeouts must not fail the turn: %v", err)
	}

	second := client.Requests[1]
	found := false
	for _, msg := range second.Messages {
		if msg.Role == "tool" && strings.Contains(msg.Content, "deadline") {
			found = true
		}
	}
	if !found {
		t.Fatalf("timeout observation not fed back: %+v", second.Messages)
	}
	if result.FinalAnswer != "The tool timed out." {
		t.Fatalf("unexpected answer: %q", result.FinalAnswer)
	}
}

func TestRunTurnLoopBound(t *testing.T) {
	// The model calls tools forever; the engine must stop at the bound.
	steps := make([]llm.MockStep, 0, 8)
	for i := 0; i < 8; i++ {
		steps = append(steps, MockToolCall(fmt.Sprintf("call_%d", i), "add", map[string]any{"a": float64(1), "b": float64(1)}))
	}
	client := llm.NewMockClient(steps...)
	tool := &calcTool{}
	engine := NewEngine(WithEngineLogger(nil), WithMaxIterations(3))
	rec := &recorder{}

	_, err := engine.RunTurn(context.Background(), "loop forever", nil, Services{
		LLM:      client,
		Registry: registryWith(t, tool),
	}, rec)

	if !errors.Is(err, ErrLoopExceeded) {
		t.Fatalf("expected ErrLoopExceeded, got %v", err)
	}
	var turnErr *TurnError
	if !errors.As(err, &turnErr) || turnErr.Iteration != 3 {
		t.Fatalf("expected failure at iteration 3, got %v", err)
	}
	if client.Calls() != 3 {
		t.Fatalf("the model must be consulted exactly maxIterations times, got %d", client.Calls())
	}
	if tool.calls != 3 {
		t.Fatalf("expected 3 tool executions, got %d", tool.calls)
	}

	last := rec.events[len(rec.events)-1]
	failed, ok := last.(*TurnFailedEvent)
	if !ok {
		t.Fatalf("expected TurnFailedEvent last, got %T", last)
	}
	if !errors.Is(failed.Error, ErrLoopExceeded) {
		t.Fatalf("terminal event must carry the loop error, got %v", failed.Error)
	}
}

func TestRunTurnFatalLLMErrorLeavesNoResult(t *testing.T) {
	client := llm.NewMockClient(llm.MockStep{Err: errors.New("upstream 500")})
	engine := NewEngine(WithEngineLogger(nil))
	rec := &recorder{}

	history := []ports.Message{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "reply"}}
	result, err := engine.RunTurn(context.Background(), "hi", history, Services{
		LLM:      client,
		Registry: registryWith(t),
	}, rec)

	if err == nil {
		t.Fatalf("expected fatal error")
	}
	if result != nil {
		t.Fatalf("no result may be returned on failure")
	}
	var turnErr *TurnError
	if !errors.As(err, &turnErr) || turnErr.Iteration != 1 {
		t.Fatalf("expected TurnError at iteration 1, got %v", err)
	}

	// The input history slice is untouched, so the caller can retry.
	if len(history) != 2 || history[1].Content != "reply" {
		t.Fatalf("history mutated on failure: %+v", history)
	}

	last := rec.events[len(rec.events)-1]
	if _, ok := last.(*TurnFailedEvent); !ok {
		t.Fatalf("expected TurnFailedEvent last, got %T", last)
	}
}

func TestRunTurnStreamsTextChunks(t *testing.T) {
	client := llm.NewMockClient(llm.MockStep{Chunks: []string{"Hel", "lo"}})
	engine := NewEngine(WithEngineLogger(nil))
	rec := &recorder{}

	result, err := engine.RunTurn(context.Background(), "hi", nil, Services{
		LLM:      client,
		Registry: registryWith(t),
	}, rec)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}

	var streamed strings.Builder
	for _, event := range rec.events {
		if chunk, ok := event.(*TextChunkEvent); ok && !chunk.Final {
			streamed.WriteString(chunk.Delta)
		}
	}
	if streamed.String() != result.FinalAnswer {
		t.Fatalf("streamed chunks %q do not reassemble the answer %q", streamed.String(), result.FinalAnswer)
	}
}

func TestRunTurnPrependsSystemPrompt(t *testing.T) {
	client := llm.NewMockClient(MockAnswer("ok"))
	engine := NewEngine(WithEngineLogger(nil), WithSystemPrompt("You are terse."))

	result, err := engine.RunTurn(context.Background(), "hi", nil, Services{
		LLM:      client,
		Registry: registryWith(t),
	}, nil)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}

	req := client.Requests[0]
	if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
		t.Fatalf("system prompt missing from request: %+v", req.Messages)
	}

	// The system prompt is request-only; it never enters committed history.
	for _, msg := range result.Messages {
		if msg.Role == "system" {
			t.Fatalf("system prompt leaked into history: %+v", result.Messages)
		}
	}
}

// MockAnswer scripts a plain assistant reply.
func MockAnswer(content string) llm.MockStep {
	return llm.MockStep{Content: content}
}

// MockToolCall scripts an assistant reply that requests one tool call.
func MockToolCall(id, name string, args map[string]any) llm.MockStep {
	return llm.MockStep{ToolCalls: []ports.ToolCall{{ID: id, Name: name, Arguments: args}}}
}
