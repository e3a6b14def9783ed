package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/mcpgate/internal/observability"
	"github.com/harun/mcpgate/internal/tracing"
	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const maxIDAttempts = 5

// CloseHook runs once after a session has been removed and closed.
type CloseHook func(s *Session, reason CloseReason)

// CreateHook runs after a session has been stored.
type CreateHook func(s *Session)

// Config configures a Multiplexer.
type Config struct {
	Conversation conversation.Config
	Logger       zerolog.Logger
	Now          func() time.Time
	NewID        func() string
	// CloseConcurrency bounds CloseAll fan-out.
	CloseConcurrency int
}

// Multiplexer maps session IDs to live sessions.
type Multiplexer struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	hooksMu sync.RWMutex
	hooks   []CloseHook
	created []CreateHook

	convCfg          conversation.Config
	now              func() time.Time
	newID            func() string
	closeConcurrency int
	logger           zerolog.Logger
}

// NewMultiplexer creates an empty Multiplexer.
func NewMultiplexer(cfg Config) *Multiplexer {
	observability.EnsureRegistered()

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = NewID
	}
	if cfg.CloseConcurrency <= 0 {
		cfg.CloseConcurrency = 16
	}
	return &Multiplexer{
		sessions:         make(map[string]*Session),
		convCfg:          cfg.Conversation,
		now:              cfg.Now,
		newID:            cfg.NewID,
		closeConcurrency: cfg.CloseConcurrency,
		logger:           cfg.Logger.With().Str("component", "session_multiplexer").Logger(),
	}
}

// OnCreate registers a hook run after every create.
func (m *Multiplexer) OnCreate(hook CreateHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.created = append(m.created, hook)
}

// OnClose registers a hook run after every close.
func (m *Multiplexer) OnClose(hook CloseHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Create registers a new session under a fresh ID.
func (m *Multiplexer) Create(ctx context.Context) (*Session, error) {
	ctx, span := tracing.StartSpan(ctx, "mcpgate.session", "session.create")
	defer span.End()

	convCfg := m.convCfg
	if convCfg.Now == nil {
		convCfg.Now = m.now
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := m.newID()
		if id == "" {
			continue
		}
		s := newSession(id, conversation.NewStore(convCfg), m.now())

		m.mu.Lock()
		if _, taken := m.sessions[id]; taken {
			m.mu.Unlock()
			m.logger.Warn().Msg("Session ID collision, regenerating")
			continue
		}
		m.sessions[id] = s
		count := len(m.sessions)
		m.mu.Unlock()

		span.SetAttributes(attribute.String("session_id", id))
		ctx = tracing.WithSessionID(ctx, id)
		observability.RecordSessionCreated()
		observability.SetActiveSessions(count)
		observability.RecordSessionAudit(ctx, "session.create", id, "success", nil)
		logger := tracing.LoggerFromContext(ctx, m.logger)
		logger.Info().Int("active", count).Msg("Session created")

		m.hooksMu.RLock()
		created := append([]CreateHook(nil), m.created...)
		m.hooksMu.RUnlock()
		for _, hook := range created {
			hook(s)
		}
		return s, nil
	}

	err := fmt.Errorf("could not allocate a unique session id after %d attempts", maxIDAttempts)
	tracing.FailSpan(span, err)
	return nil, err
}

// Get returns the live session for id and marks it as seen.
func (m *Multiplexer) Get(id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidSession
	}
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, id)
	}
	if closed, _ := s.Closed(); closed {
		return nil, fmt.Errorf("%w: %s", ErrSessionClosed, id)
	}
	s.touch(m.now())
	return s, nil
}

// Close removes and closes the session. Later calls for the same id, from
// any caller, return false.
func (m *Multiplexer) Close(ctx context.Context, id string, reason CloseReason) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	return m.finishClose(ctx, s, reason, count)
}

func (m *Multiplexer) finishClose(ctx context.Context, s *Session, reason CloseReason, count int) bool {
	ctx = tracing.WithSessionID(ctx, s.ID())
	ctx, span := tracing.StartSpan(ctx, "mcpgate.session", "session.close",
		attribute.String("session_id", s.ID()),
		attribute.String("reason", string(reason)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	closed, err := s.close(reason)
	if !closed {
		return false
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Push stream close failed")
	}

	m.hooksMu.RLock()
	hooks := append([]CloseHook(nil), m.hooks...)
	m.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(s, reason)
	}

	observability.RecordSessionClosed(string(reason))
	observability.SetActiveSessions(count)
	observability.RecordSessionAudit(ctx, "session.close", s.ID(), "success", map[string]interface{}{
		"reason": string(reason),
		"turns":  s.Conversation().Len(),
	})
	logger.Info().Str("reason", string(reason)).Int("active", count).Msg("Session closed")
	return true
}

// CloseAll closes every session concurrently and returns the number closed.
func (m *Multiplexer) CloseAll(ctx context.Context, reason CloseReason) (int, error) {
	m.mu.Lock()
	victims := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		victims = append(victims, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var (
		mu     sync.Mutex
		closed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.closeConcurrency)
	for _, s := range victims {
		s := s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if m.finishClose(gctx, s, reason, 0) {
				mu.Lock()
				closed++
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return closed, err
}

// CloseIdle closes sessions not seen within ttl and returns how many it
// closed. Sessions with an open push stream are left alone.
func (m *Multiplexer) CloseIdle(ctx context.Context, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) && !s.HasStream() {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	closed := 0
	for _, s := range idle {
		if m.finishClose(ctx, s, ReasonIdle, count) {
			closed++
		}
	}
	return closed
}

// Len returns the number of live sessions.
func (m *Multiplexer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// IDs returns the live session IDs in no particular order.
func (m *Multiplexer) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
