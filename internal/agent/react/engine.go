package react

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aria/internal/agent/ports"
	"aria/internal/logging"
	"aria/internal/observability"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMaxIterations = 10
	defaultToolTimeout   = 60 * time.Second
)

// ErrLoopExceeded is returned when a turn burns through its iteration budget
// without the model producing a final answer.
var ErrLoopExceeded = errors.New("iteration limit exceeded")

// TurnError wraps a fatal turn failure with the iteration it happened on.
type TurnError struct {
	Iteration int
	Err       error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// Services are the collaborators a turn runs against.
type Services struct {
	LLM      ports.LLMClient
	Registry ports.ToolRegistry
}

// TurnResult is the outcome of a successful turn. Messages holds the full
// conversation including this turn's additions; the caller decides whether to
// commit it.
type TurnResult struct {
	TurnID      string
	FinalAnswer string
	Iterations  int
	StopReason  string
	Usage       ports.TokenUsage
	Messages    []ports.Message
	Duration    time.Duration
}

// Engine drives the think-act-observe loop. It is stateless across turns;
// conversation history lives with the caller and is only extended through
// TurnResult.Messages on success.
type Engine struct {
	maxIterations int
	toolTimeout   time.Duration
	systemPrompt  string
	logger        logging.Logger
	metrics       *observability.Metrics
}

// Option customizes engine construction.
type Option func(*Engine)

// WithMaxIterations bounds the loop. Values below 1 keep the default.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.maxIterations = n
		}
	}
}

// WithToolTimeout bounds each tool execution.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.toolTimeout = d
		}
	}
}

// WithSystemPrompt sets the system message prepended to every request.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		e.systemPrompt = prompt
	}
}

// WithEngineLogger overrides the default component logger.
func WithEngineLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.OrNop(logger)
	}
}

// WithMetrics attaches Prometheus collectors. Nil is fine.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine creates an engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		maxIterations: defaultMaxIterations,
		toolTimeout:   defaultToolTimeout,
		logger:        logging.NewComponentLogger("ReactEngine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxIterations reports the configured loop bound.
func (e *Engine) MaxIterations() int {
	return e.maxIterations
}

// RunTurn executes one user turn to completion. On success the returned
// result carries the messages to commit; on failure the caller's history is
// untouched and the turn can simply be retried.
//
// listener may be nil. When set it receives the turn's event stream and is
// guaranteed exactly one terminal event (TurnCompletedEvent or
// TurnFailedEvent), after all other events.
func (e *Engine) RunTurn(ctx context.Context, input string, history []ports.Message, services Services, listener EventListener) (*TurnResult, error) {
	if services.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if services.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	turnID := uuid.NewString()
	started := time.Now()
	emit := func(event AgentEvent) {
		if listener != nil {
			listener.OnEvent(event)
		}
	}

	e.logger.Info("Turn %s started: %d history messages", turnID, len(history))

	// The turn works on a pending copy. Nothing is visible to the caller
	// until the turn succeeds.
	pending := make([]ports.Message, 0, len(history)+2)
	pending = append(pending, history...)
	pending = append(pending, ports.Message{
		Role:    "user",
		Content: input,
		Source:  ports.MessageSourceUserInput,
	})

	tools := services.Registry.List()
	usage := ports.TokenUsage{}

	fail := func(iteration int, err error) (*TurnResult, error) {
		duration := time.Since(started)
		e.logger.Error("Turn %s failed at iteration %d: %v", turnID, iteration, err)
		e.metrics.ObserveTurn("failed", iteration, duration)
		emit(&TurnFailedEvent{
			BaseEvent:  newBaseEvent(turnID),
			Iterations: iteration,
			Error:      err,
			Duration:   duration,
		})
		return nil, &TurnError{Iteration: iteration, Err: err}
	}

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		e.logger.Debug("Turn %s iteration %d/%d", turnID, iteration, e.maxIterations)

		resp, err := e.think(ctx, pending, tools, services.LLM, listener, turnID, iteration)
		if err != nil {
			return fail(iteration, err)
		}

		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		pending = append(pending, ports.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Source:    ports.MessageSourceAssistantReply,
		})

		// No tool calls means the model is done.
		if len(resp.ToolCalls) == 0 {
			duration := time.Since(started)
			e.logger.Info("Turn %s completed after %d iteration(s)", turnID, iteration)
			e.metrics.ObserveTurn("completed", iteration, duration)
			emit(&TurnCompletedEvent{
				BaseEvent:   newBaseEvent(turnID),
				FinalAnswer: resp.Content,
				Iterations:  iteration,
				StopReason:  "final_answer",
				Usage:       usage,
				Duration:    duration,
			})
			return &TurnResult{
				TurnID:      turnID,
				FinalAnswer: resp.Content,
				Iterations:  iteration,
				StopReason:  "final_answer",
				Usage:       usage,
				Messages:    pending,
				Duration:    duration,
			}, nil
		}

		results := e.executeTools(ctx, resp.ToolCalls, services.Registry, emit, turnID, iteration)
		pending = append(pending, buildToolMessages(resp.ToolCalls, results)...)
	}

	return fail(e.maxIterations, fmt.Errorf("%w: no final answer after %d iterations", ErrLoopExceeded, e.maxIterations))
}

// think runs one completion, streaming text chunks to the listener when the
// client supports it.
func (e *Engine) think(ctx context.Context, pending []ports.Message, tools []ports.ToolDefinition, client ports.LLMClient, listener EventListener, turnID string, iteration int) (*ports.CompletionResponse, error) {
	req := ports.CompletionRequest{
		Messages: e.buildRequestMessages(pending),
		Tools:    tools,
	}

	streaming, ok := client.(ports.StreamingLLMClient)
	if !ok || listener == nil {
		return client.Complete(ctx, req)
	}

	return streaming.StreamComplete(ctx, req, ports.CompletionStreamCallbacks{
		OnContentDelta: func(delta ports.ContentDelta) {
			listener.OnEvent(&TextChunkEvent{
				BaseEvent: newBaseEvent(turnID),
				Iteration: iteration,
				Delta:     delta.Delta,
				Final:     delta.Final,
			})
		},
	})
}

func (e *Engine) buildRequestMessages(pending []ports.Message) []ports.Message {
	if e.systemPrompt == "" {
		return pending
	}
	if len(pending) > 0 && pending[0].Role == "system" {
		return pending
	}
	messages := make([]ports.Message, 0, len(pending)+1)
	messages = append(messages, ports.Message{
		Role:    "system",
		Content: e.systemPrompt,
		Source:  ports.MessageSourceSystemPrompt,
	})
	return append(messages, pending...)
}

// executeTools runs the iteration's tool calls in parallel. Every call gets a
// ToolStartedEvent before any ToolEndedEvent is emitted, and results come
// back in call order. Tool failures are recoverable: they surface as error
// results for the model to read, never as turn failures.
func (e *Engine) executeTools(ctx context.Context, calls []ports.ToolCall, registry ports.ToolRegistry, emit func(AgentEvent), turnID string, iteration int) []*ports.ToolResult {
	for _, call := range calls {
		emit(&ToolStartedEvent{
			BaseEvent: newBaseEvent(turnID),
			Iteration: iteration,
			CallID:    call.ID,
			ToolName:  call.Name,
			Arguments: call.Arguments,
		})
	}

	results := make([]*ports.ToolResult, len(calls))
	durations := make([]time.Duration, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			callStarted := time.Now()
			results[i] = e.executeOne(gctx, call, registry)
			durations[i] = time.Since(callStarted)
			return nil
		})
	}
	_ = g.Wait()

	for i, call := range calls {
		result := results[i]
		outcome := "ok"
		if result.Error != nil {
			outcome = "error"
		}
		e.metrics.ObserveToolInvocation(call.Name, outcome, durations[i])
		emit(&ToolEndedEvent{
			BaseEvent: newBaseEvent(turnID),
			Iteration: iteration,
			CallID:    call.ID,
			ToolName:  call.Name,
			Result:    result.Content,
			Error:     result.Error,
			Duration:  durations[i],
		})
	}

	return results
}

func (e *Engine) executeOne(ctx context.Context, call ports.ToolCall, registry ports.ToolRegistry) *ports.ToolResult {
	tool, err := registry.Get(call.Name)
	if err != nil {
		e.logger.Warn("Model requested unknown tool: %s", call.Name)
		return &ports.ToolResult{CallID: call.ID, Error: err}
	}

	tctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	result, err := tool.Execute(tctx, call)
	if err != nil {
		return &ports.ToolResult{CallID: call.ID, Error: err}
	}
	if result == nil {
		return &ports.ToolResult{CallID: call.ID, Error: fmt.Errorf("tool returned no result: %s", call.Name)}
	}
	return result
}

// buildToolMessages converts tool results into role:"tool" observations the
// model reads on the next iteration.
func buildToolMessages(calls []ports.ToolCall, results []*ports.ToolResult) []ports.Message {
	messages := make([]ports.Message, 0, len(calls))
	for i, call := range calls {
		result := results[i]
		content := result.Content
		if result.Error != nil {
			content = fmt.Sprintf("Error: %v", result.Error)
		}
		messages = append(messages, ports.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: call.ID,
			Source:     ports.MessageSourceToolResult,
		})
	}
	return messages
}
