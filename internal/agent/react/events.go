package react

import (
	"time"

	"aria/internal/agent/ports"
)

// AgentEvent is implemented by every event the engine emits. The event set is
// closed: consumers may exhaustively switch on the concrete types below.
type AgentEvent interface {
	EventType() string
	Timestamp() time.Time
	TurnID() string
}

// EventListener receives engine events in emission order.
type EventListener interface {
	OnEvent(event AgentEvent)
}

// EventListenerFunc is a function adapter for EventListener
type EventListenerFunc func(AgentEvent)

func (f EventListenerFunc) OnEvent(event AgentEvent) {
	f(event)
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	timestamp time.Time
	turnID    string
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

func (e *BaseEvent) TurnID() string {
	return e.turnID
}

func newBaseEvent(turnID string) BaseEvent {
	return BaseEvent{timestamp: time.Now(), turnID: turnID}
}

// TextChunkEvent - emitted for each streamed fragment of assistant text
type TextChunkEvent struct {
	BaseEvent
	Iteration int
	Delta     string
	Final     bool
}

func (e *TextChunkEvent) EventType() string { return "text_chunk" }

// ToolStartedEvent - emitted when tool execution begins
type ToolStartedEvent struct {
	BaseEvent
	Iteration int
	CallID    string
	ToolName  string
	Arguments map[string]any
}

func (e *ToolStartedEvent) EventType() string { return "tool_started" }

// ToolEndedEvent - emitted when tool execution finishes, after its
// ToolStartedEvent
type ToolEndedEvent struct {
	BaseEvent
	Iteration int
	CallID    string
	ToolName  string
	Result    string
	Error     error
	Duration  time.Duration
}

func (e *ToolEndedEvent) EventType() string { return "tool_ended" }

// TurnCompletedEvent - terminal event for a successful turn
type TurnCompletedEvent struct {
	BaseEvent
	FinalAnswer string
	Iterations  int
	StopReason  string
	Usage       ports.TokenUsage
	Duration    time.Duration
}

func (e *TurnCompletedEvent) EventType() string { return "turn_completed" }

// TurnFailedEvent - terminal event for a failed turn
type TurnFailedEvent struct {
	BaseEvent
	Iterations int
	Error      error
	Duration   time.Duration
}

func (e *TurnFailedEvent) EventType() string { return "turn_failed" }

// IsTerminal reports whether the event ends its turn's stream. Every turn
// emits exactly one terminal event, and nothing after it.
func IsTerminal(event AgentEvent) bool {
	switch event.(type) {
	case *TurnCompletedEvent, *TurnFailedEvent:
		return true
	default:
		return false
	}
}
