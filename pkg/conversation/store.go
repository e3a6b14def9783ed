package conversation

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultGreeting      = "Hello there! I'm an AI assistant. How can I help you today?"
	DefaultResetGreeting = "Chat history cleared. How can I help you start fresh?"
)

var ErrUnmatchedResult = errors.New("tool result does not answer the pending request")

// Config configures a Store.
type Config struct {
	Greeting      string // seed at creation
	ResetGreeting string // seed after Reset
	Now           func() time.Time
}

// Store is the append-only turn log of one conversation.
type Store struct {
	mu            sync.RWMutex
	turns         []Turn
	greeting      string
	resetGreeting string
	now           func() time.Time
}

// NewStore creates a store seeded with the greeting.
func NewStore(cfg Config) *Store {
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.ResetGreeting == "" {
		cfg.ResetGreeting = DefaultResetGreeting
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Store{
		greeting:      cfg.Greeting,
		resetGreeting: cfg.ResetGreeting,
		now:           cfg.Now,
	}
	s.seed(s.greeting)
	return s
}

// Append validates and commits turn. A tool result must answer the request
// that is currently pending; any other turn is refused while a request is
// pending.
func (s *Store) Append(turn Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pending, hasPending := s.pendingLocked()
	switch {
	case turn.Kind == KindToolResult:
		if !hasPending || pending.CallID != turn.CallID || pending.ToolName != turn.ToolName {
			return fmt.Errorf("%w: %s/%s", ErrUnmatchedResult, turn.ToolName, turn.CallID)
		}
	case hasPending:
		return fmt.Errorf("tool request %s/%s is still pending", pending.ToolName, pending.CallID)
	}

	turn = turn.clone()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}
	s.turns = append(s.turns, turn)
	return nil
}

// Reset discards every turn and leaves the reset greeting as the only turn.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.seed(s.resetGreeting)
}

// Snapshot returns a copy of the log in append order.
func (s *Store) Snapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.clone()
	}
	return out
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Pending returns the last turn when it is an unanswered tool request.
func (s *Store) Pending() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.pendingLocked()
	if !ok {
		return Turn{}, false
	}
	return t.clone(), true
}

func (s *Store) pendingLocked() (Turn, bool) {
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	last := s.turns[len(s.turns)-1]
	return last, last.Kind == KindToolRequest
}

func (s *Store) seed(text string) {
	s.turns = append(s.turns, Turn{Kind: KindModelText, Text: text, Timestamp: s.now()})
}
