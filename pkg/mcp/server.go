package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/chartforge/chartforge/internal/pipeline"
	"github.com/chartforge/chartforge/internal/store"
	"github.com/chartforge/chartforge/pkg/schema"
)

// ChartforgeServerDeps holds the dependencies for creating a ChartforgeServer.
type ChartforgeServerDeps struct {
	Orchestrator *pipeline.Orchestrator
	Store        store.Store
	Logger       *slog.Logger
}

// ChartforgeServer wraps an MCP server with chartforge-specific tool handlers.
type ChartforgeServer struct {
	orchestrator *pipeline.Orchestrator
	store        store.Store
	logger       *slog.Logger
	mcpServer    *server.MCPServer
}

// NewChartforgeServer creates a new ChartforgeServer with all 4 tools registered.
func NewChartforgeServer(deps ChartforgeServerDeps) *ChartforgeServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ChartforgeServer{
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		logger:       logger,
	}

	mcpSrv := server.NewMCPServer(
		"chartforge",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Chartforge turns natural-language descriptions into validated Mermaid diagrams. Use chartforge.generate to produce markup for one chart, chartforge.repair to fix markup that failed to render, chartforge.session_get to fetch a session with its full version history, and chartforge.session_list to browse recent sessions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ChartforgeServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ChartforgeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *ChartforgeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: generateTool(), Handler: s.handleGenerate},
		{Tool: repairTool(), Handler: s.handleRepair},
		{Tool: sessionGetTool(), Handler: s.handleSessionGet},
		{Tool: sessionListTool(), Handler: s.handleSessionList},
	}
}

// --- Tool definitions ---

func generateTool() mcp.Tool {
	return mcp.NewTool("chartforge.generate",
		mcp.WithDescription("Generate Mermaid markup for a single chart"),
		mcp.WithString("chart_type", mcp.Required(),
			mcp.Enum(schema.ChartTypeStrings()...),
			mcp.Description("Which Mermaid dialect to produce"),
		),
		mcp.WithString("description", mcp.Description("What the chart should show")),
		mcp.WithString("original_user_message", mcp.Description("The user's own words, for tone and emphasis")),
	)
}

func repairTool() mcp.Tool {
	return mcp.NewTool("chartforge.repair",
		mcp.WithDescription("Repair Mermaid markup that failed to render, preserving its structure"),
		mcp.WithString("chart_type", mcp.Required(),
			mcp.Enum(schema.ChartTypeStrings()...),
			mcp.Description("The chart's Mermaid dialect"),
		),
		mcp.WithString("chart", mcp.Required(), mcp.Description("The broken markup")),
		mcp.WithString("error", mcp.Required(), mcp.Description("The render error the markup produced")),
		mcp.WithString("description", mcp.Description("What the chart should show")),
		mcp.WithString("original_user_message", mcp.Description("The user's own words")),
		mcp.WithArray("previous_attempts", mcp.Description("Earlier repair attempts, oldest first, each with chart/error/explanation")),
	)
}

func sessionGetTool() mcp.Tool {
	return mcp.NewTool("chartforge.session_get",
		mcp.WithDescription("Fetch a session with its results, charts and full version history"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("ID of the session to fetch")),
	)
}

func sessionListTool() mcp.Tool {
	return mcp.NewTool("chartforge.session_list",
		mcp.WithDescription("List recent sessions, most recently updated first"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return (default: 10)")),
	)
}
