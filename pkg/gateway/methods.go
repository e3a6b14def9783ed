package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/harun/mcpgate/internal/tracing"
	"github.com/harun/mcpgate/pkg/agent"
	"github.com/harun/mcpgate/pkg/commandqueue"
	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/harun/mcpgate/pkg/session"
	"github.com/harun/mcpgate/pkg/toolregistry"
	"github.com/mark3labs/mcp-go/mcp"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("initialize", s.handleInitialize)
	_ = s.router.RegisterMethod("notifications/initialized", s.handleInitialized)
	_ = s.router.RegisterMethod("ping", s.handlePing)
	_ = s.router.RegisterMethod("tools/list", s.handleToolsList)
	_ = s.router.RegisterMethod("tools/call", s.handleToolsCall)
	_ = s.router.RegisterMethod("agent/ask", s.handleAgentAsk)
	_ = s.router.RegisterMethod("agent/reset", s.handleAgentReset)
	_ = s.router.RegisterMethod("agent/history", s.handleAgentHistory)
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// isInitializeRequest reports whether req may open a session: an initialize
// call carrying an id and params that name a protocol version.
func isInitializeRequest(req *RPCRequest) bool {
	if req.Method != "initialize" || req.IsNotification() {
		return false
	}
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return false
	}
	var p initializeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return false
	}
	return strings.TrimSpace(p.ProtocolVersion) != ""
}

func (s *Server) handleInitialize(ctx context.Context, sess *session.Session, params json.RawMessage) (interface{}, error) {
	var p initializeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	version := p.ProtocolVersion
	if !supportedProtocol(version) {
		version = mcp.LATEST_PROTOCOL_VERSION
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("client", p.ClientInfo.Name).
		Str("client_version", p.ClientInfo.Version).
		Str("protocol", version).
		Msg("Session initialized")

	return map[string]interface{}{
		"protocolVersion": version,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    s.name,
			"version": s.version,
		},
	}, nil
}

var protocolVersions = []string{mcp.LATEST_PROTOCOL_VERSION, "2025-03-26", "2024-11-05"}

func supportedProtocol(version string) bool {
	for _, v := range protocolVersions {
		if v == version {
			return true
		}
	}
	return false
}

func (s *Server) handleInitialized(ctx context.Context, sess *session.Session, params json.RawMessage) (interface{}, error) {
	return nil, nil
}

func (s *Server) handlePing(ctx context.Context, sess *session.Session, params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{}, nil
}

func (s *Server) handleToolsList(ctx context.Context, sess *session.Session, params json.RawMessage) (interface{}, error) {
	specs := s.tools.List()
	tools := make([]mcp.Tool, 0, len(specs))
	for _, spec := range specs {
		schema := spec.InputSchema()
		props, _ := schema["properties"].(map[string]interface{})
		tools = append(tools, mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: mcp.ToolInputSchema{
				Type:       "object",
				Properties: props,
				Required:   spec.Required(),
			},
		})
	}
	return map[string]interface{}{"tools": tools}, nil
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, sess *session.Session, params json.RawMessage) (interface{}, error) {
	var p toolCallParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params: name is required"}
	}
	if p.Arguments == nil {
		p.Arguments = map[string]interface{}{}
	}

	outcome := s.tools.Invoke(tracing.WithSessionID(ctx, sess.ID()), p.Name, p.Arguments)
	if outcome.Success && outcome.Action != nil {
		s.publish(ctx, sess.ID(), EventAction, outcome.Action)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(outcome.Content())},
		IsError: !outcome.Success,
	}, nil
}

func (s *Server) handleAgentAsk(ctx context.Context, sess *session.Session, params json.RawMessage) (interface{}, error) {
	var p AskParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	value, err := s.inSessionLane(ctx, sess, func(runCtx context.Context) (interface{}, error) {
		res := s.loop.Run(runCtx, sess.Conversation(), p.Text)
		sess.StashAction(res.Action)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	res := value.(agent.Result)

	// The hint is handed out once, on this response and the push stream.
	action := sess.TakeAction()
	if action != nil {
		s.publish(ctx, sess.ID(), EventAction, action)
	}
	s.publish(ctx, sess.ID(), EventAgentAnswer, map[string]interface{}{
		"text":       res.Text,
		"reason":     string(res.Reason),
		"iterations": res.Iterations,
	})

	return AskResult{
		Text:       res.Text,
		Action:     action,
		Iterations: res.Iterations,
		Reason:     string(res.Reason),
	}, nil
}

func (s *Server) handleAgentReset(ctx context.Context, sess *session.Session, params json.RawMessage) (interface{}, error) {
	value, err := s.inSessionLane(ctx, sess, func(context.Context) (interface{}, error) {
		store := sess.Conversation()
		store.Reset()
		sess.TakeAction()
		return store.Snapshot()[0].Text, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, sess.ID(), EventSessionReset, nil)
	return map[string]interface{}{"text": value}, nil
}

func (s *Server) handleAgentHistory(ctx context.Context, sess *session.Session, params json.RawMessage) (interface{}, error) {
	turns := sess.Conversation().Snapshot()
	views := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		views = append(views, turnView(t))
	}
	return map[string]interface{}{"turns": views}, nil
}

// inSessionLane runs fn after every earlier agent call of the session has
// finished. The run itself is detached from the caller's connection so a
// dropped client cannot cut a turn in half; closing the session cancels it.
// A session closed while the call waited is left untouched.
func (s *Server) inSessionLane(ctx context.Context, sess *session.Session, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	value, err := s.queue.Enqueue(ctx, commandqueue.SessionLane(sess.ID()), func(taskCtx context.Context) (interface{}, error) {
		if closed, _ := sess.Closed(); closed {
			return nil, session.ErrSessionClosed
		}
		runCtx, cancel := context.WithCancel(tracing.Detach(taskCtx))
		defer cancel()
		stop := context.AfterFunc(sess.Context(), cancel)
		defer stop()
		return fn(runCtx)
	})

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, commandqueue.ErrQueueClosed), errors.Is(err, session.ErrSessionClosed):
		return nil, &RPCError{Code: InvalidSession, Message: invalidSessionMessage}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, &RPCError{Code: InternalError, Message: "request cancelled"}
	default:
		return nil, err
	}
}

func turnView(t conversation.Turn) TurnView {
	v := TurnView{
		Kind:      string(t.Kind),
		Text:      t.Text,
		ToolName:  t.ToolName,
		CallID:    t.CallID,
		Args:      t.Args,
		Timestamp: t.Timestamp,
	}
	if t.Outcome != nil {
		ok := t.Outcome.Success
		v.Success = &ok
		v.Output = t.Outcome.Content()
	}
	return v
}

// observedTools publishes every tool outcome to the calling session's stream.
type observedTools struct {
	agent.Tools
	server *Server
}

func (o observedTools) Invoke(ctx context.Context, name string, args map[string]interface{}) toolregistry.Outcome {
	outcome := o.Tools.Invoke(ctx, name, args)
	if id := tracing.GetSessionID(ctx); id != "" {
		o.server.publish(ctx, id, EventToolResult, map[string]interface{}{
			"tool":    name,
			"success": outcome.Success,
			"output":  outcome.Content(),
		})
	}
	return outcome
}
