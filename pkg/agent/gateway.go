package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/mcpgate/internal/observability"
	"github.com/harun/mcpgate/internal/tracing"
	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/harun/mcpgate/pkg/toolregistry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrGateway wraps every failure to reach or understand the model.
var ErrGateway = errors.New("model gateway failure")

// GatewayConfig configures a ProviderGateway.
type GatewayConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	SystemPrompt   string
	Temperature    float64
	MaxTokens      int
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// ProviderGateway adapts an LLMProvider to ModelGateway.
type ProviderGateway struct {
	provider LLMProvider
	cfg      GatewayConfig
	logger   zerolog.Logger
}

// NewGateway builds the provider named in cfg and wraps it.
func NewGateway(ctx context.Context, cfg GatewayConfig) (*ProviderGateway, error) {
	provider, err := NewProvider(ctx, ProviderConfig{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return NewProviderGateway(provider, cfg)
}

// NewProviderGateway wraps an existing provider.
func NewProviderGateway(provider LLMProvider, cfg GatewayConfig) (*ProviderGateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &ProviderGateway{
		provider: provider,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "model_gateway").Str("provider", provider.Provider()).Logger(),
	}, nil
}

// Provider returns the provider name
func (g *ProviderGateway) Provider() string {
	return g.provider.Provider()
}

// Close releases the provider client when it holds one.
func (g *ProviderGateway) Close() error {
	if c, ok := g.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Generate calls the provider once. Only the first tool call of a response
// is returned; the rest are dropped so each request gets its own result.
func (g *ProviderGateway) Generate(ctx context.Context, turns []conversation.Turn, tools []toolregistry.ToolSpec) (*conversation.Turn, error) {
	ctx, span := tracing.StartSpan(ctx, "mcpgate.agent", "agent.generate",
		attribute.String("provider", g.Provider()),
		attribute.String("model", g.cfg.Model),
		attribute.Int("turns", len(turns)),
	)
	defer span.End()

	if g.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
		defer cancel()
	}

	resp, err := g.provider.Call(ctx, LLMRequest{
		Model:        g.cfg.Model,
		Messages:     BuildMessages(turns),
		Tools:        BuildToolDeclarations(tools),
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxTokens,
		SystemPrompt: g.cfg.SystemPrompt,
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrGateway, g.Provider(), err)
		tracing.FailSpan(span, err)
		observability.RecordGatewayError(g.Provider())
		return nil, err
	}

	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("usage.input_tokens", resp.Usage.InputTokens),
			attribute.Int("usage.output_tokens", resp.Usage.OutputTokens),
		)
	}
	if len(resp.ToolCalls) > 1 {
		g.logger.Debug().Int("tool_calls", len(resp.ToolCalls)).Msg("Dropping extra tool calls")
	}

	return ResponseTurn(resp), nil
}

// BuildMessages converts the conversation log to provider-neutral messages.
func BuildMessages(turns []conversation.Turn) []AgentMessage {
	messages := make([]AgentMessage, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case conversation.KindUserText:
			messages = append(messages, AgentMessage{Role: RoleUser, Content: t.Text})
		case conversation.KindModelText:
			messages = append(messages, AgentMessage{Role: RoleAssistant, Content: t.Text})
		case conversation.KindToolRequest:
			args := t.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			messages = append(messages, AgentMessage{
				Role:      RoleAssistant,
				ToolCalls: []ToolCall{{ID: t.CallID, Name: t.ToolName, Parameters: args}},
			})
		case conversation.KindToolResult:
			msg := AgentMessage{Role: RoleTool, ToolCallID: t.CallID, ToolName: t.ToolName}
			if t.Outcome != nil {
				msg.Content = t.Outcome.Content()
				msg.IsError = !t.Outcome.Success
			}
			messages = append(messages, msg)
		}
	}
	return messages
}

// BuildToolDeclarations converts registry specs to provider declarations.
func BuildToolDeclarations(specs []toolregistry.ToolSpec) []ToolDeclaration {
	decls := make([]ToolDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, ToolDeclaration{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: s.InputSchema(),
			Required:    s.Required(),
		})
	}
	return decls
}

// ResponseTurn maps a provider response to a turn, or nil when it carries
// neither a tool call nor text.
func ResponseTurn(resp *LLMResponse) *conversation.Turn {
	if resp == nil {
		return nil
	}
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0]
		if tc.Name == "" {
			return nil
		}
		args := tc.Parameters
		if args == nil {
			args = map[string]interface{}{}
		}
		turn := conversation.ToolRequest(tc.ID, tc.Name, args)
		return &turn
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil
	}
	turn := conversation.ModelText(resp.Content)
	return &turn
}
