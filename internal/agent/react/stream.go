package react

// defaultStreamBuffer keeps a fast engine from stalling on a slightly slow
// consumer without letting events pile up unbounded.
const defaultStreamBuffer = 64

// TurnStream adapts the EventListener contract to a receive channel. The
// engine is the single producer; the channel closes right after the turn's
// terminal event so consumers can range over Events.
type TurnStream struct {
	events chan AgentEvent
	closed bool
}

// NewTurnStream creates a stream with the default buffer.
func NewTurnStream() *TurnStream {
	return NewTurnStreamSize(defaultStreamBuffer)
}

// NewTurnStreamSize creates a stream with an explicit buffer size.
func NewTurnStreamSize(buffer int) *TurnStream {
	if buffer < 0 {
		buffer = 0
	}
	return &TurnStream{events: make(chan AgentEvent, buffer)}
}

// OnEvent implements EventListener. A full buffer blocks the producer, which
// is the backpressure the engine wants. Events arriving after the terminal
// event are dropped.
func (s *TurnStream) OnEvent(event AgentEvent) {
	if s.closed {
		return
	}
	s.events <- event
	if IsTerminal(event) {
		s.closed = true
		close(s.events)
	}
}

// Close ends the stream without a terminal event. The producer calls it when
// a turn aborts before the engine runs, so consumers ranging over Events are
// not left waiting. Closing after the terminal event is a no-op.
func (s *TurnStream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Events returns the receive side of the stream.
func (s *TurnStream) Events() <-chan AgentEvent {
	return s.events
}

var _ EventListener = (*TurnStream)(nil)
