package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/mcpgate/internal/tracing"
	"github.com/harun/mcpgate/pkg/session"
	"go.opentelemetry.io/otel/attribute"
)

// MethodHandler handles one JSON-RPC method for a session.
type MethodHandler func(ctx context.Context, s *session.Session, params json.RawMessage) (interface{}, error)

// RPCRouter handles RPC method registration and request routing
type RPCRouter struct {
	mu      sync.RWMutex
	methods map[string]MethodHandler
}

// NewRPCRouter creates a new RPC router
func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		methods: make(map[string]MethodHandler),
	}
}

// RegisterMethod registers an RPC method handler
func (r *RPCRouter) RegisterMethod(name string, handler MethodHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[name]; exists {
		return fmt.Errorf("method %s already registered", name)
	}
	r.methods[name] = handler
	return nil
}

// HasMethod checks if a method is registered
func (r *RPCRouter) HasMethod(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.methods[name]
	return exists
}

// Methods returns the registered method names, sorted.
func (r *RPCRouter) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.methods))
	for name := range r.methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)
	return methods
}

// ParseRequest parses and validates a JSON-RPC request
func ParseRequest(data []byte) (*RPCRequest, *RPCError) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &RPCError{
			Code:    ParseError,
			Message: "Parse error",
			Data:    err.Error(),
		}
	}

	if req.JSONRPC != jsonrpcVersion {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: jsonrpc must be \"2.0\"",
		}
	}
	if req.Method == "" {
		return nil, &RPCError{
			Code:    InvalidRequest,
			Message: "Invalid request: missing method field",
		}
	}
	return &req, nil
}

// Dispatch runs the handler for req. It returns nil for notifications.
func (r *RPCRouter) Dispatch(ctx context.Context, s *session.Session, req *RPCRequest) *RPCResponse {
	ctx, span := tracing.StartSpan(ctx, "mcpgate.gateway", "gateway.dispatch",
		attribute.String("method", req.Method),
		attribute.String("session_id", s.ID()),
	)
	defer span.End()

	r.mu.RLock()
	handler, exists := r.methods[req.Method]
	r.mu.RUnlock()

	var (
		result interface{}
		err    error
	)
	if exists {
		result, err = handler(ctx, s, req.Params)
	} else {
		err = &RPCError{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
	}

	if err != nil {
		tracing.FailSpan(span, err)
	}
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		return &RPCResponse{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rpcErr}
	}
	return &RPCResponse{JSONRPC: jsonrpcVersion, ID: req.ID, Result: result}
}

// decodeParams unmarshals params into v, treating absent params as empty.
func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	return nil
}
