package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/generative-ai-go/genai"
	"github.com/harun/mcpgate/pkg/conversation"
	"github.com/harun/mcpgate/pkg/toolregistry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	resp    *LLMResponse
	err     error
	request LLMRequest
	block   bool
}

func (p *stubProvider) Provider() string { return "stub" }

func (p *stubProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	p.request = request
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.resp, p.err
}

func sampleLog() []conversation.Turn {
	return []conversation.Turn{
		conversation.ModelText("Hello there!"),
		conversation.UserText("add 2 and 3"),
		conversation.ToolRequest("c1", "addTwoNumbers", map[string]interface{}{"a": 2.0, "b": 3.0}),
		conversation.ToolResult("c1", "addTwoNumbers", toolregistry.Outcome{Success: true, Text: "5"}),
		conversation.ModelText("Sum is 5"),
		conversation.UserText("now open it"),
		conversation.ToolRequest("c2", "openLink", nil),
		conversation.ToolResult("c2", "openLink", toolregistry.Outcome{Failure: toolregistry.FailureExecution, Error: "bad url"}),
	}
}

func TestBuildMessages(t *testing.T) {
	t.Run("should map every turn kind", func(t *testing.T) {
		msgs := BuildMessages(sampleLog())
		require.Len(t, msgs, 8)

		assert.Equal(t, RoleAssistant, msgs[0].Role)
		assert.Equal(t, RoleUser, msgs[1].Role)

		require.Len(t, msgs[2].ToolCalls, 1)
		assert.Equal(t, "c1", msgs[2].ToolCalls[0].ID)
		assert.Equal(t, "addTwoNumbers", msgs[2].ToolCalls[0].Name)

		assert.Equal(t, RoleTool, msgs[3].Role)
		assert.Equal(t, "c1", msgs[3].ToolCallID)
		assert.Equal(t, "5", msgs[3].Content)
		assert.False(t, msgs[3].IsError)

		assert.NotNil(t, msgs[6].ToolCalls[0].Parameters)
		assert.Equal(t, "Error: bad url", msgs[7].Content)
		assert.True(t, msgs[7].IsError)
	})
}

func TestBuildToolDeclarations(t *testing.T) {
	t.Run("should carry schema and required names", func(t *testing.T) {
		decls := BuildToolDeclarations([]toolregistry.ToolSpec{{
			Name:        "addTwoNumbers",
			Description: "Add",
			Parameters: []toolregistry.Parameter{
				{Name: "a", Type: "number", Required: true},
				{Name: "b", Type: "number"},
			},
		}})
		require.Len(t, decls, 1)
		assert.Equal(t, "addTwoNumbers", decls[0].Name)
		assert.Equal(t, []string{"a"}, decls[0].Required)
		assert.Contains(t, decls[0].InputSchema, "properties")
	})
}

func TestResponseTurn(t *testing.T) {
	t.Run("should return nil for empty responses", func(t *testing.T) {
		assert.Nil(t, ResponseTurn(nil))
		assert.Nil(t, ResponseTurn(&LLMResponse{}))
		assert.Nil(t, ResponseTurn(&LLMResponse{Content: "  \n"}))
		assert.Nil(t, ResponseTurn(&LLMResponse{ToolCalls: []ToolCall{{ID: "x"}}}))
	})

	t.Run("should prefer the first tool call", func(t *testing.T) {
		turn := ResponseTurn(&LLMResponse{
			Content: "let me check",
			ToolCalls: []ToolCall{
				{ID: "a", Name: "currentTime"},
				{ID: "b", Name: "addTwoNumbers"},
			},
		})
		require.NotNil(t, turn)
		assert.Equal(t, conversation.KindToolRequest, turn.Kind)
		assert.Equal(t, "currentTime", turn.ToolName)
		assert.Equal(t, "a", turn.CallID)
		assert.NotNil(t, turn.Args)
	})

	t.Run("should return text", func(t *testing.T) {
		turn := ResponseTurn(&LLMResponse{Content: "hi"})
		require.NotNil(t, turn)
		assert.Equal(t, conversation.KindModelText, turn.Kind)
		assert.Equal(t, "hi", turn.Text)
	})
}

func TestProviderGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("should validate construction", func(t *testing.T) {
		_, err := NewProviderGateway(nil, GatewayConfig{Model: "m"})
		assert.Error(t, err)
		_, err = NewProviderGateway(&stubProvider{}, GatewayConfig{})
		assert.Error(t, err)
	})

	t.Run("should pass the request through", func(t *testing.T) {
		p := &stubProvider{resp: &LLMResponse{Content: "hi"}}
		gw, err := NewProviderGateway(p, GatewayConfig{Model: "m", SystemPrompt: "be brief"})
		require.NoError(t, err)

		turn, err := gw.Generate(ctx, sampleLog(), []toolregistry.ToolSpec{{Name: "currentTime"}})
		require.NoError(t, err)
		require.NotNil(t, turn)
		assert.Equal(t, "hi", turn.Text)

		assert.Equal(t, "m", p.request.Model)
		assert.Equal(t, "be brief", p.request.SystemPrompt)
		assert.Equal(t, 4096, p.request.MaxTokens)
		assert.Len(t, p.request.Messages, 8)
		assert.Len(t, p.request.Tools, 1)
		assert.Equal(t, "stub", gw.Provider())
	})

	t.Run("should wrap provider errors", func(t *testing.T) {
		gw, err := NewProviderGateway(&stubProvider{err: errors.New("boom")}, GatewayConfig{Model: "m"})
		require.NoError(t, err)

		turn, err := gw.Generate(ctx, nil, nil)
		assert.Nil(t, turn)
		assert.ErrorIs(t, err, ErrGateway)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("should apply the request timeout", func(t *testing.T) {
		gw, err := NewProviderGateway(&stubProvider{block: true}, GatewayConfig{Model: "m", RequestTimeout: 20 * time.Millisecond})
		require.NoError(t, err)

		_, err = gw.Generate(ctx, nil, nil)
		assert.ErrorIs(t, err, ErrGateway)
	})
}

func TestNewProvider(t *testing.T) {
	t.Run("should reject a missing key", func(t *testing.T) {
		_, err := NewProvider(context.Background(), ProviderConfig{Provider: "openai"})
		assert.Error(t, err)
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		_, err := NewProvider(context.Background(), ProviderConfig{Provider: "mystery", APIKey: "k"})
		assert.Error(t, err)
	})

	t.Run("should build anthropic and openai", func(t *testing.T) {
		p, err := NewProvider(context.Background(), ProviderConfig{Provider: "anthropic", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Provider())

		p, err = NewProvider(context.Background(), ProviderConfig{Provider: "openai", APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Provider())
	})
}

func TestAnthropicMessages(t *testing.T) {
	t.Run("should start with the user", func(t *testing.T) {
		out := anthropicMessages(BuildMessages(sampleLog()))
		require.Len(t, out, 7)
		assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
		assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
		assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	})
}

func TestOpenAIMessages(t *testing.T) {
	t.Run("should prepend the system prompt", func(t *testing.T) {
		out, err := openaiMessages("be brief", BuildMessages(sampleLog()))
		require.NoError(t, err)
		assert.Len(t, out, 9)
	})
}

func TestGeminiHistory(t *testing.T) {
	t.Run("should send the trailing tool result", func(t *testing.T) {
		history, last := geminiHistory(BuildMessages(sampleLog()))
		require.Len(t, history, 7)
		assert.Equal(t, "model", history[0].Role)
		assert.Equal(t, "model", history[2].Role)
		assert.Equal(t, "user", history[3].Role)

		require.Len(t, last, 1)
		resp, ok := last[0].(genai.FunctionResponse)
		require.True(t, ok)
		assert.Equal(t, "openLink", resp.Name)
		assert.Equal(t, "Error: bad url", resp.Response["error"])
	})

	t.Run("should ask to continue after a model message", func(t *testing.T) {
		history, last := geminiHistory([]AgentMessage{{Role: RoleAssistant, Content: "hi"}})
		assert.Len(t, history, 1)
		assert.Equal(t, []genai.Part{genai.Text("Continue.")}, last)
	})
}

func TestGeminiSchema(t *testing.T) {
	t.Run("should map json schema types", func(t *testing.T) {
		s := geminiSchema(map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "integer"},
		})
		assert.Equal(t, genai.TypeArray, s.Type)
		assert.Equal(t, genai.TypeInteger, s.Items.Type)

		s = geminiSchema(map[string]interface{}{"type": "string", "enum": []interface{}{"a", "b"}})
		assert.Equal(t, []string{"a", "b"}, s.Enum)

		assert.Equal(t, genai.TypeString, geminiSchema(nil).Type)
	})

	t.Run("should declare required parameters", func(t *testing.T) {
		tool := geminiTool([]ToolDeclaration{{
			Name:        "addTwoNumbers",
			InputSchema: map[string]interface{}{"properties": map[string]interface{}{"a": map[string]interface{}{"type": "number"}}},
			Required:    []string{"a"},
		}})
		require.Len(t, tool.FunctionDeclarations, 1)
		params := tool.FunctionDeclarations[0].Parameters
		assert.Equal(t, []string{"a"}, params.Required)
		assert.Equal(t, genai.TypeNumber, params.Properties["a"].Type)
	})
}
