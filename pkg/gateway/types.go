package gateway

import (
	"encoding/json"
	"time"

	"github.com/harun/mcpgate/pkg/toolregistry"
)

// SessionHeader carries the session ID on requests and responses.
const SessionHeader = "Mcp-Session-Id"

const jsonrpcVersion = "2.0"

// RPCRequest is a JSON-RPC 2.0 request or notification. A request without
// an id is a notification.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *RPCRequest) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// RPCResponse represents a JSON-RPC 2.0 response
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return e.Message
}

// RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	InvalidSession = -32000
)

const (
	invalidSessionMessage = "Bad Request: No valid session ID provided"
	invalidSessionText    = "Invalid or missing session ID"
)

var nullID = json.RawMessage("null")

func errorResponse(id json.RawMessage, code int, message string) *RPCResponse {
	if len(id) == 0 {
		id = nullID
	}
	return &RPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}

// EventMessage is one server push event for a session.
type EventMessage struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	SessionID string      `json:"session_id"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// Push event names.
const (
	EventToolResult    = "tool.result"
	EventAgentAnswer   = "agent.answer"
	EventAction        = "agent.action"
	EventSessionClosed = "session.closed"
	EventSessionReset  = "session.reset"
)

// AskParams are the params of agent/ask.
type AskParams struct {
	Text string `json:"text"`
}

// AskResult is the result of agent/ask.
type AskResult struct {
	Text       string               `json:"text"`
	Action     *toolregistry.Action `json:"action,omitempty"`
	Iterations int                  `json:"iterations"`
	Reason     string               `json:"reason"`
}

// TurnView is the wire form of a conversation turn.
type TurnView struct {
	Kind      string                 `json:"kind"`
	Text      string                 `json:"text,omitempty"`
	ToolName  string                 `json:"toolName,omitempty"`
	CallID    string                 `json:"callId,omitempty"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Success   *bool                  `json:"success,omitempty"`
	Output    string                 `json:"output,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
