// Package mcp provides an MCP (Model Context Protocol) server exposing context
// assembly and job status to agents.
package mcp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/stacks/pkg/pipeline"
	"github.com/papercomputeco/stacks/pkg/retrieval"
	"github.com/papercomputeco/stacks/pkg/utils"
)

type Config struct {
	// Service answers context and job status requests.
	Service *pipeline.Service

	// Retrieval holds the bounds used when a tool call omits them.
	// Zero means retrieval.DefaultOptions.
	Retrieval retrieval.Options

	// Noop for empty MCP server
	Noop bool

	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the assemble_context and
// job_status tools.
func NewServer(c Config) (*Server, error) {
	if c.Retrieval == (retrieval.Options{}) {
		c.Retrieval = retrieval.DefaultOptions()
	}

	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "stacks",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Service == nil {
			return nil, errors.New("pipeline service is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        assembleContextToolName,
			Description: assembleContextDescription,
		}, s.handleAssembleContext)

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        jobStatusToolName,
			Description: jobStatusDescription,
		}, s.handleJobStatus)
	}

	s.mcpServer = mcpServer
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

// toolError builds the error result returned to the calling agent. Tool
// failures are reported in-band so the agent can read them.
func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}
