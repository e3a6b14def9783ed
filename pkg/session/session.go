package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/harun/mcpgate/pkg/toolregistry"
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrSessionClosed  = errors.New("session closed")
	ErrStreamBound    = errors.New("push stream already open for session")
)

// CloseReason says why a session ended.
type CloseReason string

const (
	ReasonClient    CloseReason = "client"
	ReasonTransport CloseReason = "transport"
	ReasonIdle      CloseReason = "idle"
	ReasonShutdown  CloseReason = "shutdown"
)

// Stream is a server push channel bound to a session.
type Stream interface {
	Close() error
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Session is one client's protocol session and the conversation it serves.
type Session struct {
	id        string
	store     *conversation.Store
	createdAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool
	reason   CloseReason
	action   *toolregistry.Action
	stream   Stream
}

func newSession(id string, store *conversation.Store, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		store:     store,
		createdAt: now,
		lastSeen:  now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Session) ID() string                       { return s.id }
func (s *Session) Conversation() *conversation.Store { return s.store }
func (s *Session) CreatedAt() time.Time             { return s.createdAt }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
}

// LastSeen returns when the session was last looked up or created.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Closed reports whether the session has been closed, and why.
func (s *Session) Closed() (bool, CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.reason
}

// StashAction keeps a follow-up hint until TakeAction hands it out.
// A later hint replaces an earlier one.
func (s *Session) StashAction(action *toolregistry.Action) {
	if action == nil {
		return
	}
	a := *action
	s.mu.Lock()
	s.action = &a
	s.mu.Unlock()
}

// TakeAction returns the stashed hint and clears it.
func (s *Session) TakeAction() *toolregistry.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.action
	s.action = nil
	return a
}

// BindStream attaches a push stream. It fails with ErrStreamBound while
// another stream is attached and ErrSessionClosed after close.
func (s *Session) BindStream(stream Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.stream != nil:
		return ErrStreamBound
	}
	s.stream = stream
	return nil
}

// UnbindStream detaches stream if it is the one bound.
func (s *Session) UnbindStream(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == stream {
		s.stream = nil
	}
}

// HasStream reports whether a push stream is attached.
func (s *Session) HasStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// close marks the session closed and releases its stream. Only the first
// call does anything.
func (s *Session) close(reason CloseReason) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, nil
	}
	s.closed = true
	s.reason = reason
	stream := s.stream
	s.stream = nil
	s.action = nil
	s.cancel()
	s.mu.Unlock()

	if stream != nil {
		return true, stream.Close()
	}
	return true, nil
}
