package agent

import (
	"context"

	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/harun/mcpgate/pkg/toolregistry"
)

// ModelGateway produces the next turn for a conversation. A nil turn with a
// nil error means the model produced nothing usable.
type ModelGateway interface {
	Generate(ctx context.Context, turns []conversation.Turn, tools []toolregistry.ToolSpec) (*conversation.Turn, error)
	Provider() string
}

// Tools is the registry surface the loop needs.
type Tools interface {
	List() []toolregistry.ToolSpec
	Invoke(ctx context.Context, name string, args map[string]interface{}) toolregistry.Outcome
}

// ToolCall represents a tool invocation requested by a provider.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message roles used between the gateway and providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// AgentMessage is the provider-neutral form of a turn.
type AgentMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}
