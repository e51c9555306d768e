package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/lexreview/lexreview/internal/explain"
	"github.com/lexreview/lexreview/internal/letters"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes template and law tools.
type Server struct {
	letters *letters.Generator
	laws    *explain.Chain
	mcp     *server.MCPServer
}

// NewServer creates an MCP server. Tools for a nil dependency are not
// registered.
func NewServer(gen *letters.Generator, laws *explain.Chain) *Server {
	s := &Server{letters: gen, laws: laws}

	s.mcp = server.NewMCPServer(
		"lexreview",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	if s.letters != nil {
		s.mcp.AddTool(searchTemplatesTool, s.handleSearchTemplates)
		s.mcp.AddTool(fillTemplateTool, s.handleFillTemplate)
	}
	if s.laws != nil {
		s.mcp.AddTool(searchLawsTool, s.handleSearchLaws)
		s.mcp.AddTool(explainLawTool, s.handleExplainLaw)
	}
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
