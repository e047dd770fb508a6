// Package mcp provides an MCP (Model Context Protocol) server exposing
// read-only identity and agreement lookups to agents.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/accord/pkg/identity"
	"github.com/papercomputeco/accord/pkg/timeline"
	"github.com/papercomputeco/accord/pkg/utils"
)

type Config struct {
	// Identity resolves and verifies DIDs.
	Identity *identity.Service

	// Timeline reads agreement journals.
	Timeline timeline.Reader

	// Now judges proposal expiry. Defaults to time.Now.
	Now func() time.Time

	// Logger is the configured logger
	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the identity and timeline tools.
func NewServer(c Config) (*Server, error) {
	if c.Identity == nil {
		return nil, errors.New("identity service is required")
	}
	if c.Timeline == nil {
		return nil, errors.New("timeline reader is required")
	}
	if c.Logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "accord",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        verifyToolName,
		Description: verifyDescription,
	}, s.handleVerifyIdentity)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        timelineToolName,
		Description: timelineDescription,
	}, s.handleTimeline)

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// jsonResult returns structured output alongside its JSON text for clients
// that only read text content.
func jsonResult[T any](out T) (*mcp.CallToolResult, T, error) {
	b, err := json.Marshal(out)
	if err != nil {
		var zero T
		return toolError("Failed to serialize result: %v", err), zero, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}, out, nil
}
