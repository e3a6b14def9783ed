package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/mcpgate/internal/config"
	"github.com/harun/mcpgate/internal/logger"
	"github.com/harun/mcpgate/internal/observability"
	"github.com/harun/mcpgate/internal/tracing"
	"github.com/harun/mcpgate/pkg/agent"
	"github.com/harun/mcpgate/pkg/commandqueue"
	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/harun/mcpgate/pkg/gateway"
	"github.com/harun/mcpgate/pkg/hooks"
	"github.com/harun/mcpgate/pkg/session"
	"github.com/harun/mcpgate/pkg/toolregistry"
)

// Version is reported in serverInfo and to upstream tool servers.
const Version = "0.1.0"

// Daemon owns every long-lived component of the server process.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	registry *toolregistry.Registry
	remotes  []io.Closer
	model    agent.ModelGateway
	queue    *commandqueue.CommandQueue
	sessions *session.Multiplexer
	sweeper  *session.Sweeper
	server   *gateway.Server
	hooks    *hooks.Manager

	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status is a snapshot of the daemon state.
type Status struct {
	Running   bool
	StartTime time.Time
	Uptime    time.Duration
	Sessions  int
	Tools     int
	Addr      string
}

var newModelGateway = func(ctx context.Context, cfg agent.GatewayConfig) (agent.ModelGateway, error) {
	return agent.NewGateway(ctx, cfg)
}

var dialRemote = func(ctx context.Context, url string) (toolregistry.RemoteClient, io.Closer, error) {
	c, err := toolregistry.DialMCP(ctx, url, "mcpgate", Version)
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

// New wires the daemon from cfg. Nothing listens until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize audit logger, audit events are discarded")
		} else {
			log.Info().Str("path", cfg.Logging.AuditFile).Msg("Audit logger initialized")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Agent.RequestTimeout+30*time.Second)
	defer cancel()

	registry, err := BuildRegistry(ctx, d.config, d.logger)
	if err != nil {
		return err
	}
	d.registry = registry.Registry
	d.remotes = registry.Closers
	d.logger.Info().Int("tools", d.registry.Len()).Msg("Tool registry initialized")

	model, err := newModelGateway(ctx, GatewayConfig(d.config, d.logger))
	if err != nil {
		return fmt.Errorf("failed to create model gateway: %w", err)
	}
	d.model = model
	d.logger.Info().
		Str("provider", model.Provider()).
		Str("model", d.config.Agent.Model).
		Msg("Model gateway initialized")

	d.queue = commandqueue.New()
	d.logger.Info().Msg("Command queue initialized")

	d.sessions = session.NewMultiplexer(session.Config{
		Conversation: conversation.Config{
			Greeting:      d.config.Session.Greeting,
			ResetGreeting: d.config.Session.ResetGreeting,
		},
		Logger: d.logger.Zerolog(),
	})
	d.logger.Info().Msg("Session multiplexer initialized")

	return nil
}

// GatewayConfig maps the agent section of cfg to a model gateway config.
func GatewayConfig(cfg *config.Config, log *logger.Logger) agent.GatewayConfig {
	return agent.GatewayConfig{
		Provider:       cfg.Agent.Provider,
		Model:          cfg.Agent.Model,
		APIKey:         cfg.Agent.APIKey,
		BaseURL:        cfg.Agent.BaseURL,
		SystemPrompt:   cfg.Agent.SystemPrompt,
		Temperature:    cfg.Agent.Temperature,
		MaxTokens:      cfg.Agent.MaxTokens,
		RequestTimeout: cfg.Agent.RequestTimeout,
		Logger:         log.Zerolog(),
	}
}

func (d *Daemon) initializeServices() error {
	hookManager, err := newHookManager(d.config.Hooks, d.logger)
	if err != nil {
		return err
	}
	d.hooks = hookManager
	d.bindSessionHooks()

	if d.config.Session.IdleTTL > 0 {
		sweeper, err := session.NewSweeper(d.sessions, d.config.Session.IdleTTL, d.config.Session.SweepSchedule, d.logger.Zerolog())
		if err != nil {
			return fmt.Errorf("failed to create session sweeper: %w", err)
		}
		d.sweeper = sweeper
	}

	server, err := gateway.NewServer(gateway.Config{
		Listen:         d.config.Server.Listen,
		Endpoint:       d.config.Server.Endpoint,
		MaxBodyBytes:   d.config.Server.MaxBodyBytes,
		MetricsEnabled: d.config.Server.MetricsEnabled,
		Version:        Version,
		Sessions:       d.sessions,
		Queue:          d.queue,
		Tools:          d.registry,
		Model:          d.model,
		MaxIterations:  d.config.Agent.MaxIterations,
		Logger:         d.logger.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.server = server
	return nil
}

// Start writes the PID file, starts listening and schedules idle sweeps.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting mcpgate")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.server.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.server.Addr()).Msg("Gateway server started")

	if d.sweeper != nil {
		if err := d.sweeper.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start session sweeper, idle sessions are not reaped")
		}
	}

	if err := d.hooks.Trigger(context.Background(), hooks.EventServerStartup, map[string]interface{}{
		"addr": d.server.Addr(),
	}); err != nil {
		logger.Warn().Err(err).Msg("Startup hook failed")
	}

	logger.Info().Msg("mcpgate started")
	return nil
}

// Stop closes every session, drains the server and releases resources.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.Zerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping mcpgate")

	if d.sweeper != nil {
		d.sweeper.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.config.Server.ShutdownTimeout)
	defer cancel()

	var stopErr error
	if err := d.server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
		stopErr = err
	}

	if err := d.hooks.Trigger(ctx, hooks.EventServerShutdown, nil); err != nil {
		logger.Warn().Err(err).Msg("Shutdown hook failed")
	}
	d.hooks.Wait()

	d.release()

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	logger.Info().Msg("mcpgate stopped")
	return stopErr
}

// release closes upstream clients, the model gateway, the audit file and the
// tracer provider.
func (d *Daemon) release() {
	for _, c := range d.remotes {
		if err := c.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close upstream tool server")
		}
	}
	d.remotes = nil

	if closer, ok := d.model.(io.Closer); ok {
		_ = closer.Close()
	}

	_ = observability.GetAuditLogger().Close()

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to shutdown tracing")
		}
		d.tracingEnabled = false
	}
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon status.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:  d.running,
		Sessions: d.sessions.Len(),
		Tools:    d.registry.Len(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.server.Addr()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM and then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetSessions returns the session multiplexer
func (d *Daemon) GetSessions() *session.Multiplexer {
	return d.sessions
}

// GetRegistry returns the tool registry
func (d *Daemon) GetRegistry() *toolregistry.Registry {
	return d.registry
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.server
}
