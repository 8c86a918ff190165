package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"aria/internal/agent/ports"
	"aria/internal/agent/react"
	"aria/internal/logging"

	"github.com/google/uuid"
)

// ErrTurnInFlight is returned when a turn is started while another is still
// running on the same session.
var ErrTurnInFlight = errors.New("turn already in flight")

// Record is the persistent form of a session.
type Record struct {
	ID        string          `json:"id"`
	Messages  []ports.Message `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store persists session records.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// Session owns one conversation. It serializes turns: a second turn started
// while one is running fails fast with ErrTurnInFlight. History only advances
// when a turn succeeds, so a failed turn can simply be retried.
type Session struct {
	id        string
	engine    *react.Engine
	services  react.Services
	store     Store
	logger    logging.Logger
	inFlight  atomic.Bool
	mu        sync.RWMutex
	history   []ports.Message
	createdAt time.Time
	updatedAt time.Time
}

// SessionOption customizes session construction.
type SessionOption func(*Session)

// WithStore persists history after every committed turn.
func WithStore(store Store) SessionOption {
	return func(s *Session) {
		s.store = store
	}
}

// WithSessionLogger overrides the default component logger.
func WithSessionLogger(logger logging.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logging.OrNop(logger)
	}
}

// New creates an empty session.
func New(engine *react.Engine, services react.Services, opts ...SessionOption) *Session {
	now := time.Now()
	s := &Session{
		id:        uuid.NewString(),
		engine:    engine,
		services:  services,
		logger:    logging.NewComponentLogger("Session"),
		createdAt: now,
		updatedAt: now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resume rebuilds a session from a persisted record.
func Resume(record *Record, engine *react.Engine, services react.Services, opts ...SessionOption) *Session {
	s := New(engine, services, opts...)
	s.id = record.ID
	s.history = append([]ports.Message(nil), record.Messages...)
	s.createdAt = record.CreatedAt
	s.updatedAt = record.UpdatedAt
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// History returns a copy of the committed conversation.
func (s *Session) History() []ports.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ports.Message(nil), s.history...)
}

// RunTurn executes one user turn against the session's history. listener may
// be nil.
func (s *Session) RunTurn(ctx context.Context, input string, listener react.EventListener) (*react.TurnResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrTurnInFlight
	}
	defer s.inFlight.Store(false)

	result, err := s.engine.RunTurn(ctx, input, s.History(), s.services, listener)
	if err != nil {
		// History stays as it was; the caller can retry the turn.
		return nil, err
	}

	s.commit(result.Messages)

	if s.store != nil {
		if err := s.store.Save(ctx, s.record()); err != nil {
			// Persistence is best effort; the in-memory session is the truth.
			s.logger.Warn("Failed to persist session %s: %v", s.id, err)
		}
	}

	return result, nil
}

func (s *Session) commit(messages []ports.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]ports.Message(nil), messages...)
	s.updatedAt = time.Now()
}

func (s *Session) record() *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Record{
		ID:        s.id,
		Messages:  append([]ports.Message(nil), s.history...),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}
