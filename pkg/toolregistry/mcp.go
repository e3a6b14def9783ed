package toolregistry

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// RemoteClient is the subset of the MCP client used to proxy upstream tools.
type RemoteClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Source yields tool definitions to register.
type Source interface {
	Definitions(ctx context.Context) ([]Definition, error)
}

// DialMCP connects to an upstream MCP server over streamable HTTP and
// completes the initialize handshake.
func DialMCP(ctx context.Context, serverURL, clientName, clientVersion string) (*client.Client, error) {
	c, err := client.NewStreamableHttpClient(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp client for %s: %w", serverURL, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start mcp client for %s: %w", serverURL, err)
	}

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, req); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize mcp session with %s: %w", serverURL, err)
	}
	return c, nil
}

// MCPSource exposes the tools of one upstream MCP server.
type MCPSource struct {
	name   string
	prefix string
	client RemoteClient
	logger zerolog.Logger
}

// NewMCPSource wraps c. Local tool names are prefix + remote name.
func NewMCPSource(name, prefix string, c RemoteClient, logger zerolog.Logger) *MCPSource {
	return &MCPSource{
		name:   name,
		prefix: prefix,
		client: c,
		logger: logger.With().Str("component", "mcp_source").Str("server", name).Logger(),
	}
}

// Definitions lists every upstream tool, following pagination cursors.
func (s *MCPSource) Definitions(ctx context.Context) ([]Definition, error) {
	var defs []Definition

	req := mcp.ListToolsRequest{}
	for {
		res, err := s.client.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("list tools from %s: %w", s.name, err)
		}
		for _, tool := range res.Tools {
			defs = append(defs, s.definition(tool))
		}
		if res.NextCursor == "" {
			break
		}
		req.Params.Cursor = res.NextCursor
	}

	s.logger.Info().Int("tools", len(defs)).Msg("Upstream tools discovered")
	return defs, nil
}

func (s *MCPSource) definition(tool mcp.Tool) Definition {
	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
	}

	params := make([]Parameter, 0, len(tool.InputSchema.Properties))
	for _, name := range sortedKeys(tool.InputSchema.Properties) {
		p := Parameter{Name: name, Required: required[name]}
		if prop, ok := tool.InputSchema.Properties[name].(map[string]interface{}); ok {
			p.Schema = prop
			p.Type, _ = prop["type"].(string)
			p.Description, _ = prop["description"].(string)
		} else {
			p.Schema = map[string]interface{}{}
		}
		params = append(params, p)
	}

	remoteName := tool.Name
	return Definition{
		Spec: ToolSpec{
			Name:        s.prefix + tool.Name,
			Description: tool.Description,
			Parameters:  params,
		},
		AllowAdditional: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (Output, error) {
			return s.call(ctx, remoteName, args)
		},
	}
}

func (s *MCPSource) call(ctx context.Context, name string, args map[string]interface{}) (Output, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return Output{}, fmt.Errorf("call %s on %s: %w", name, s.name, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "remote tool reported an error"
		}
		return Output{}, fmt.Errorf("%s", text)
	}
	return Output{Text: text}, nil
}

// contentText joins the text parts of an MCP result.
func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", v.MIMEType))
		}
	}
	return strings.Join(parts, "\n")
}

// RegisterSource registers every definition from src and returns how many
// were added.
func (r *Registry) RegisterSource(ctx context.Context, src Source) (int, error) {
	defs, err := src.Definitions(ctx)
	if err != nil {
		return 0, err
	}
	for i, def := range defs {
		if err := r.Register(def); err != nil {
			return i, err
		}
	}
	return len(defs), nil
}
