// Package mcp exposes the auxiliary tool registry over the Model Context
// Protocol, for stdio clients and for the HTTP server's /mcp endpoints.
package mcp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/tordrt/revolve/internal/llm"
	"github.com/tordrt/revolve/internal/tools"
)

// Server wraps an MCP server whose tools are backed by a registry
type Server struct {
	mcpServer *server.MCPServer
	registry  *tools.Registry
	logger    *zap.Logger
}

// NewServer registers every tool of the registry
func NewServer(registry *tools.Registry, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"revolve",
			version,
			server.WithToolCapabilities(true),
		),
		registry: registry,
		logger:   logger,
	}

	for _, spec := range registry.Specs() {
		s.mcpServer.AddTool(toMCPTool(spec), s.handle(spec.Name))
	}
	return s
}

// GetMCPServer returns the underlying server
func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the protocol on stdin/stdout until the input closes
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handle(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, ok := request.Params.Arguments.(map[string]any)
		if !ok && request.Params.Arguments != nil {
			return mcp.NewToolResultError("Invalid arguments type"), nil
		}

		out, err := s.registry.Call(ctx, name, args)
		if err != nil {
			s.logger.Warn("mcp tool call failed", zap.String("tool", name), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("%s failed: %v", name, err)), nil
		}
		return mcp.NewToolResultText(out), nil
	}
}

func toMCPTool(spec llm.ToolSpec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}
	for _, p := range spec.Params {
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch p.Type {
		case "integer", "number":
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(spec.Name, opts...)
}

// MountHTTPHandlers serves the SSE transport under /mcp
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
