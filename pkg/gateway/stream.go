package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/harun/mcpgate/internal/observability"
	"github.com/harun/mcpgate/internal/tracing"
	"github.com/harun/mcpgate/pkg/session"
)

const wsWriteTimeout = 10 * time.Second

// statusRecorder keeps the response status for metrics while still letting
// streams flush and upgrade.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// pushStream is the session's handle on an open push channel. Closing it
// ends the channel.
type pushStream struct {
	once sync.Once
	done chan struct{}
}

func newPushStream() *pushStream {
	return &pushStream{done: make(chan struct{})}
}

func (p *pushStream) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// openStream binds a push stream to sess and subscribes to its events. The
// returned context ends when the client goes away or the session closes.
func (s *Server) openStream(ctx context.Context, w http.ResponseWriter, sess *session.Session) (context.Context, <-chan *message.Message, func(), bool) {
	stream := newPushStream()
	if err := sess.BindStream(stream); err != nil {
		if errors.Is(err, session.ErrStreamBound) {
			http.Error(w, "push stream already open for this session", http.StatusConflict)
		} else {
			http.Error(w, invalidSessionText, http.StatusBadRequest)
		}
		return nil, nil, nil, false
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-stream.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	msgs, err := s.bus.Subscribe(ctx, sess.ID())
	if err != nil {
		cancel()
		sess.UnbindStream(stream)
		http.Error(w, "failed to subscribe to session events", http.StatusInternalServerError)
		return nil, nil, nil, false
	}

	s.streams.Add(1)
	release := func() {
		cancel()
		sess.UnbindStream(stream)
		s.streams.Done()
	}
	return ctx, msgs, release, true
}

func closingEvent(sess *session.Session) (EventMessage, bool) {
	closed, reason := sess.Closed()
	if !closed {
		return EventMessage{}, false
	}
	return EventMessage{
		Event:     EventSessionClosed,
		SessionID: sess.ID(),
		Data:      map[string]interface{}{"reason": string(reason)},
		Timestamp: time.Now().UnixMilli(),
	}, true
}

// serveSSE streams session events as text/event-stream.
func (s *Server) serveSSE(ctx context.Context, w http.ResponseWriter, sess *session.Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx, msgs, release, ok := s.openStream(ctx, w, sess)
	if !ok {
		return
	}
	defer release()

	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("transport", "sse").Logger()
	observability.AddPushStream("sse", 1)
	defer observability.AddPushStream("sse", -1)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(SessionHeader, sess.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	logger.Debug().Msg("Push stream opened")

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				s.finishSSE(w, flusher, sess)
				return
			}
			ev, err := decodeEvent(msg)
			msg.Ack()
			if err != nil {
				continue
			}
			if err := writeSSE(w, ev.ID, ev.Event, msg.Payload); err != nil {
				logger.Debug().Err(err).Msg("Push stream write failed")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			s.finishSSE(w, flusher, sess)
			logger.Debug().Msg("Push stream closed")
			return
		}
	}
}

func (s *Server) finishSSE(w http.ResponseWriter, flusher http.Flusher, sess *session.Session) {
	ev, ok := closingEvent(sess)
	if !ok {
		return
	}
	payload, err := jsonBytes(ev)
	if err != nil {
		return
	}
	if writeSSE(w, "", ev.Event, payload) == nil {
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, id, event string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// wsConn serializes writes to a websocket connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (c *wsConn) close(code int, text string) {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteTimeout))
	c.mu.Unlock()
	_ = c.conn.Close()
}

// serveWebSocket streams session events as JSON frames and accepts JSON-RPC
// requests for the same session on the socket. A clean close from the client
// ends the session.
func (s *Server) serveWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *session.Session) {
	ctx, msgs, release, ok := s.openStream(ctx, w, sess)
	if !ok {
		return
	}
	defer release()

	raw, err := s.upgrader.Upgrade(w, r, http.Header{SessionHeader: []string{sess.ID()}})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection")
		return
	}
	conn := &wsConn{conn: raw}

	logger := tracing.LoggerFromContext(ctx, s.logger).With().Str("transport", "websocket").Logger()
	observability.AddPushStream("websocket", 1)
	defer observability.AddPushStream("websocket", -1)
	logger.Debug().Msg("Push stream opened")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		for {
			_, data, err := raw.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.sessions.Close(ctx, sess.ID(), session.ReasonTransport)
				} else if websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure) {
					logger.Warn().Err(err).Msg("WebSocket error")
				}
				return
			}
			go s.handleSocketMessage(ctx, conn, sess, data)
		}
	}()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				s.finishSocket(conn, sess)
				return
			}
			ev, err := decodeEvent(msg)
			msg.Ack()
			if err != nil {
				continue
			}
			if err := conn.writeJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("Push stream write failed")
				_ = raw.Close()
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = raw.Close()
				return
			}
		case <-ctx.Done():
			s.finishSocket(conn, sess)
			logger.Debug().Msg("Push stream closed")
			return
		}
	}
}

func (s *Server) finishSocket(conn *wsConn, sess *session.Session) {
	if ev, ok := closingEvent(sess); ok {
		_ = conn.writeJSON(ev)
		conn.close(websocket.CloseNormalClosure, "session closed")
		return
	}
	conn.close(websocket.CloseNormalClosure, "")
}

func (s *Server) handleSocketMessage(ctx context.Context, conn *wsConn, sess *session.Session, data []byte) {
	req, rpcErr := ParseRequest(data)
	if rpcErr != nil {
		_ = conn.writeJSON(&RPCResponse{JSONRPC: jsonrpcVersion, ID: nullID, Error: rpcErr})
		return
	}
	if closed, _ := sess.Closed(); closed {
		_ = conn.writeJSON(errorResponse(req.ID, InvalidSession, invalidSessionMessage))
		return
	}
	resp := s.router.Dispatch(ctx, sess, req)
	if resp == nil {
		return
	}
	if err := conn.writeJSON(resp); err != nil {
		s.logger.Debug().Err(err).Str("method", req.Method).Msg("Failed to send response")
	}
}
