package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/mcpgate/internal/observability"
	"github.com/harun/mcpgate/internal/tracing"
	"github.com/harun/mcpgate/pkg/agent"
	"github.com/harun/mcpgate/pkg/commandqueue"
	"github.com/harun/mcpgate/pkg/session"
	"github.com/rs/zerolog"
)

const (
	DefaultEndpoint     = "/mcp"
	DefaultMaxBodyBytes = 1 << 20
	DefaultKeepAlive    = 25 * time.Second
)

// Config holds server configuration
type Config struct {
	Listen         string
	Endpoint       string
	MaxBodyBytes   int64
	KeepAlive      time.Duration
	MetricsEnabled bool
	Name           string
	Version        string

	Sessions      *session.Multiplexer
	Queue         *commandqueue.CommandQueue // created when nil
	Tools         agent.Tools
	Model         agent.ModelGateway
	MaxIterations int
	Logger        zerolog.Logger
}

// Server serves the session endpoint over HTTP.
type Server struct {
	listen       string
	endpoint     string
	maxBodyBytes int64
	keepAlive    time.Duration
	metrics      bool
	name         string
	version      string

	sessions *session.Multiplexer
	queue    *commandqueue.CommandQueue
	tools    agent.Tools
	loop     *agent.Loop
	router   *RPCRouter
	bus      *EventBus
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	server       *http.Server
	listener     net.Listener
	shuttingDown atomic.Bool
	streams      sync.WaitGroup
	stopOnce     sync.Once
	stopErr      error
}

// NewServer wires a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session multiplexer is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tools are required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("model gateway is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.Name == "" {
		cfg.Name = "mcpgate"
	}
	if cfg.Queue == nil {
		cfg.Queue = commandqueue.New()
	}

	s := &Server{
		listen:       cfg.Listen,
		endpoint:     cfg.Endpoint,
		maxBodyBytes: cfg.MaxBodyBytes,
		keepAlive:    cfg.KeepAlive,
		metrics:      cfg.MetricsEnabled,
		name:         cfg.Name,
		version:      cfg.Version,
		sessions:     cfg.Sessions,
		queue:        cfg.Queue,
		tools:        cfg.Tools,
		router:       NewRPCRouter(),
		bus:          NewEventBus(cfg.Logger),
		logger:       cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	loop, err := agent.NewLoop(agent.Config{
		Gateway:       cfg.Model,
		Tools:         observedTools{Tools: cfg.Tools, server: s},
		MaxIterations: cfg.MaxIterations,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	s.loop = loop

	s.sessions.OnClose(func(sess *session.Session, reason session.CloseReason) {
		s.queue.RemoveLane(commandqueue.SessionLane(sess.ID()))
	})
	s.registerBuiltinMethods()

	return s, nil
}

// Handler returns the HTTP handler serving the endpoint, /healthz and
// optionally /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.endpoint, s.handleEndpoint)
	if s.metrics {
		mux.Handle("/metrics", observability.MetricsHandler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"sessions": s.sessions.Len(),
			"queue":    s.queue.GetStats(),
		})
	})
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Str("endpoint", s.endpoint).Msg("Starting gateway server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every session, drains HTTP requests, waits for in-flight agent
// runs and releases the queue and event bus.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.shuttingDown.Store(true)
		s.logger.Info().Msg("Shutting down gateway server")

		closed, err := s.sessions.CloseAll(ctx, session.ReasonShutdown)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Not all sessions closed cleanly")
		}
		s.logger.Info().Int("sessions", closed).Msg("Sessions closed")

		if s.server != nil {
			if err := s.server.Shutdown(ctx); err != nil {
				s.stopErr = fmt.Errorf("failed to shutdown server: %w", err)
			}
		}

		done := make(chan struct{})
		go func() {
			s.streams.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn().Msg("Push streams still open at shutdown deadline")
		}

		if !s.queue.WaitForActive(ctx) {
			s.logger.Warn().Msg("Agent runs still active at shutdown deadline, cancelling")
		}
		_ = s.queue.Close()
		if err := s.bus.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close event bus")
		}
		s.logger.Info().Msg("Gateway server stopped")
	})
	return s.stopErr
}

func (s *Server) publish(ctx context.Context, sessionID, event string, data interface{}) {
	_ = s.bus.Publish(ctx, sessionID, event, data)
}

// handleEndpoint routes the three verbs of the session endpoint.
func (s *Server) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		observability.RecordHTTPRequest(r.Method, rec.status)
	}()

	if s.shuttingDown.Load() {
		http.Error(rec, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ctx := tracing.NewRequestContext(r.Context())
	switch r.Method {
	case http.MethodPost:
		s.handlePost(ctx, rec, r)
	case http.MethodGet:
		s.handleGet(ctx, rec, r)
	case http.MethodDelete:
		s.handleDelete(ctx, rec, r)
	default:
		rec.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(rec, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePost(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	logger := tracing.LoggerFromContext(ctx, s.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(nil, InvalidRequest, "Request body too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse(nil, ParseError, "failed to read request body"))
		return
	}

	req, rpcErr := ParseRequest(body)
	if rpcErr != nil {
		writeJSON(w, http.StatusBadRequest, &RPCResponse{JSONRPC: jsonrpcVersion, ID: nullID, Error: rpcErr})
		return
	}

	var sess *session.Session
	if sid := r.Header.Get(SessionHeader); sid != "" {
		sess, err = s.sessions.Get(sid)
		if err != nil {
			logger.Debug().Err(err).Str("method", req.Method).Msg("Rejected request for unknown session")
			s.rejectPost(w)
			return
		}
	} else {
		if !isInitializeRequest(req) {
			logger.Debug().Str("method", req.Method).Msg("Rejected request without session")
			s.rejectPost(w)
			return
		}
		sess, err = s.sessions.Create(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create session")
			writeJSON(w, http.StatusInternalServerError, errorResponse(req.ID, InternalError, "failed to create session"))
			return
		}
	}

	ctx = tracing.WithSessionID(ctx, sess.ID())
	w.Header().Set(SessionHeader, sess.ID())

	logger = tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("method", req.Method).Msg("Dispatching request")
	resp := s.router.Dispatch(ctx, sess, req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) rejectPost(w http.ResponseWriter) {
	observability.RecordSessionRejected("post")
	writeJSON(w, http.StatusBadRequest, errorResponse(nil, InvalidSession, invalidSessionMessage))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, verb string) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.Header.Get(SessionHeader))
	if err != nil {
		observability.RecordSessionRejected(verb)
		http.Error(w, invalidSessionText, http.StatusBadRequest)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGet(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r, "get")
	if !ok {
		return
	}
	ctx = tracing.WithSessionID(ctx, sess.ID())

	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(ctx, w, r, sess)
		return
	}
	s.serveSSE(ctx, w, sess)
}

func (s *Server) handleDelete(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r, "delete")
	if !ok {
		return
	}
	s.sessions.Close(tracing.WithSessionID(ctx, sess.ID()), sess.ID(), session.ReasonClient)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
