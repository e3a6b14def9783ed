package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSweepSchedule = "@every 1m"

// Sweeper periodically closes idle sessions.
type Sweeper struct {
	mux      *Multiplexer
	ttl      time.Duration
	schedule string
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewSweeper validates schedule and creates a stopped Sweeper.
func NewSweeper(mux *Multiplexer, ttl time.Duration, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if mux == nil {
		return nil, fmt.Errorf("multiplexer is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("idle ttl must be positive")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &Sweeper{
		mux:      mux,
		ttl:      ttl,
		schedule: schedule,
		logger:   logger.With().Str("component", "session_sweeper").Logger(),
	}, nil
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper is already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true

	s.logger.Info().Str("schedule", s.schedule).Dur("ttl", s.ttl).Msg("Session sweeper started")
	return nil
}

// Sweep closes idle sessions once.
func (s *Sweeper) Sweep(ctx context.Context) int {
	closed := s.mux.CloseIdle(ctx, s.ttl)
	if closed > 0 {
		s.logger.Info().Int("closed", closed).Msg("Closed idle sessions")
	}
	return closed
}

// Stop unschedules the sweep and waits for a running one to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
		s.logger.Info().Msg("Session sweeper stopped")
	}
}
