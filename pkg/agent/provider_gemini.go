package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey, baseURL string) (*GeminiProvider, error) {
	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithEndpoint(baseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// Call sends the conversation as chat history plus a final message.
func (p *GeminiProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	model := p.client.GenerativeModel(request.Model)

	if request.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(request.SystemPrompt)}}
	}
	if request.Temperature > 0 {
		model.SetTemperature(float32(request.Temperature))
	}
	if request.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(request.MaxTokens))
	}
	if len(request.Tools) > 0 {
		model.Tools = []*genai.Tool{geminiTool(request.Tools)}
	}

	history, last := geminiHistory(request.Messages)

	chat := model.StartChat()
	chat.History = history

	resp, err := chat.SendMessage(ctx, last...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini: empty response")
	}

	var text strings.Builder
	toolCalls := []ToolCall{}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			text.WriteString(string(v))
		case genai.FunctionCall:
			toolCalls = append(toolCalls, ToolCall{Name: v.Name, Parameters: v.Args})
		case *genai.FunctionCall:
			toolCalls = append(toolCalls, ToolCall{Name: v.Name, Parameters: v.Args})
		}
	}

	out := &LLMResponse{Content: text.String(), ToolCalls: toolCalls}
	if resp.UsageMetadata != nil {
		out.Usage = &TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// geminiHistory splits messages into chat history and the parts of the
// final user-side message. When the log ends on a model message the final
// message asks the model to continue.
func geminiHistory(messages []AgentMessage) ([]*genai.Content, []genai.Part) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			contents = append(contents, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		case RoleAssistant:
			parts := []genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: tc.Parameters})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		case RoleTool:
			response := map[string]any{"content": msg.Content}
			if msg.IsError {
				response = map[string]any{"error": msg.Content}
			}
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.FunctionResponse{Name: msg.ToolName, Response: response}},
			})
		}
	}

	if n := len(contents); n > 0 && contents[n-1].Role == "user" {
		return contents[:n-1], contents[n-1].Parts
	}
	return contents, []genai.Part{genai.Text("Continue.")}
}

func geminiTool(decls []ToolDeclaration) *genai.Tool {
	tool := &genai.Tool{}
	for _, d := range decls {
		props, _ := d.InputSchema["properties"].(map[string]interface{})
		tool.FunctionDeclarations = append(tool.FunctionDeclarations, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: geminiProperties(props),
				Required:   d.Required,
			},
		})
	}
	return tool
}

func geminiProperties(props map[string]interface{}) map[string]*genai.Schema {
	out := make(map[string]*genai.Schema, len(props))
	for name, raw := range props {
		prop, _ := raw.(map[string]interface{})
		out[name] = geminiSchema(prop)
	}
	return out
}

func geminiSchema(prop map[string]interface{}) *genai.Schema {
	s := &genai.Schema{Type: genai.TypeString}
	if prop == nil {
		return s
	}
	s.Description, _ = prop["description"].(string)

	switch prop["type"] {
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
		items, _ := prop["items"].(map[string]interface{})
		s.Items = geminiSchema(items)
	case "object":
		s.Type = genai.TypeObject
		nested, _ := prop["properties"].(map[string]interface{})
		s.Properties = geminiProperties(nested)
	}

	if enum, ok := prop["enum"].([]interface{}); ok && s.Type == genai.TypeString {
		for _, e := range enum {
			if str, ok := e.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	return s
}
