// Package mcpsource registers tools exposed by remote MCP servers into a
// tools.Registry, alongside the builtin tool set. Each server is listed
// at startup; its tools register with source="mcp" and a handler that
// proxies calls back over the MCP session.
package mcpsource

import (
	"context"
	"fmt"
	"log/slog"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/waddadaa/gpagent/internal/config"
	"github.com/waddadaa/gpagent/internal/errkind"
	"github.com/waddadaa/gpagent/internal/llm"
	"github.com/waddadaa/gpagent/internal/tools"
)

const source = "mcp"

// Server holds one connected MCP server and the client session
// registered tool handlers proxy calls through.
type Server struct {
	name   string
	client mcpclient.MCPClient
	logger *slog.Logger
}

// Connect starts (stdio) or dials (SSE) an MCP server per cfg and
// performs the MCP initialize handshake. cfg.URL selects an SSE
// transport; cfg.Command selects a stdio subprocess transport.
func Connect(ctx context.Context, cfg config.MCPServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var c mcpclient.MCPClient
	var err error
	switch {
	case cfg.URL != "":
		c, err = mcpclient.NewSSEMCPClient(cfg.URL)
	case cfg.Command != "":
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, nil, cfg.Args...)
	default:
		return nil, errkind.New(errkind.MCPConnectionFailed).WithContext(fmt.Sprintf("mcp server %q: neither url nor command configured", cfg.Name))
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.MCPConnectionFailed, err).WithContext(cfg.Name)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "gpagent", Version: "1"}

	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, errkind.Wrap(errkind.MCPProtocolError, err).WithContext(cfg.Name)
	}

	return &Server{name: cfg.Name, client: c, logger: logger}, nil
}

// Close shuts down the underlying MCP session.
func (s *Server) Close() error {
	closer, ok := s.client.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

// RegisterTools lists the server's tools and registers each against
// reg, each one's handler proxying its call back over this session.
func (s *Server) RegisterTools(ctx context.Context, reg *tools.Registry) (int, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, errkind.Wrap(errkind.MCPProtocolError, err).WithContext(s.name)
	}

	registered := 0
	for _, t := range result.Tools {
		spec := convertSpec(s.name, t)
		if err := reg.Register(spec, s.handlerFor(t.Name), source); err != nil {
			s.logger.Warn("mcpsource: skipping tool registration", "server", s.name, "tool", t.Name, "error", err)
			continue
		}
		registered++
	}
	return registered, nil
}

func (s *Server) handlerFor(name string) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		req := mcp.CallToolRequest{}
		req.Params.Name = name
		req.Params.Arguments = args

		result, err := s.client.CallTool(ctx, req)
		if err != nil {
			return "", errkind.Wrap(errkind.ToolExecutionFailed, err).WithContext(fmt.Sprintf("%s/%s", s.name, name))
		}
		if result.IsError {
			return "", errkind.New(errkind.ToolExecutionFailed).WithContext(fmt.Sprintf("%s/%s: %s", s.name, name, contentText(result.Content)))
		}
		return contentText(result.Content), nil
	}
}

// contentText concatenates every text content block an MCP tool result
// carries; non-text blocks (images, resources) are dropped, since the
// Handler contract returns plain text.
func contentText(blocks []mcp.Content) string {
	var out string
	for _, b := range blocks {
		if tc, ok := b.(mcp.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	return out
}

// convertSpec maps an MCP tool's JSON-schema input shape to a
// llm.ToolSpec. MCP tool schemas are arbitrary JSON Schema objects;
// this function extracts only the flat, top-level "properties" shape
// the Registry's validateArguments understands — nested schemas pass
// through with type "object" and no further validation.
func convertSpec(serverName string, t mcp.Tool) llm.ToolSpec {
	spec := llm.ToolSpec{
		Name:        fmt.Sprintf("%s__%s", serverName, t.Name),
		Description: t.Description,
		Keywords:    []string{serverName, "mcp"},
	}

	required := make(map[string]bool, len(t.InputSchema.Required))
	for _, r := range t.InputSchema.Required {
		required[r] = true
	}

	for name, raw := range t.InputSchema.Properties {
		p := llm.Parameter{Name: name, Required: required[name]}
		if m, ok := raw.(map[string]any); ok {
			if desc, ok := m["description"].(string); ok {
				p.Description = desc
			}
			if typ, ok := m["type"].(string); ok {
				p.Type = jsonSchemaType(typ)
			}
		}
		if p.Type == "" {
			p.Type = llm.ParamString
		}
		spec.Parameters = append(spec.Parameters, p)
	}

	return spec
}

func jsonSchemaType(t string) llm.ParamType {
	switch t {
	case "integer":
		return llm.ParamInteger
	case "number":
		return llm.ParamNumber
	case "boolean":
		return llm.ParamBoolean
	case "array":
		return llm.ParamArray
	case "object":
		return llm.ParamObject
	default:
		return llm.ParamString
	}
}
