package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/seanchatmangpt/wrkflo/internal/service"
)

// ServerDeps holds the dependencies for creating a WrkfloServer.
type ServerDeps struct {
	Service *service.Service
	Logger  *slog.Logger
	Version string
}

// WrkfloServer wraps an MCP server with workflow tool handlers.
type WrkfloServer struct {
	svc       *service.Service
	logger    *slog.Logger
	notifier  *RunNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a WrkfloServer with its 3 tools registered.
func NewServer(deps ServerDeps) *WrkfloServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	svc := deps.Service
	if svc == nil {
		svc = service.New(service.Deps{Logger: logger})
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &WrkfloServer{
		svc:    svc,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"wrkflo",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("wrkflo runs Arazzo API workflows. Use wrkflo.validate to check a document, wrkflo.run to execute one of its workflows, and wrkflo.history to inspect past runs and their event logs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewRunNotifier(logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *WrkfloServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *WrkfloServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *WrkfloServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("wrkflo.run",
		mcp.WithDescription("Run a workflow from an Arazzo document"),
		mcp.WithString("path", mcp.Description("Path or http(s) URL of the document")),
		mcp.WithString("document", mcp.Description("Inline document as YAML or JSON text, used when path is empty")),
		mcp.WithString("workflow_id", mcp.Description("Workflow to run (default: the first workflow)")),
		mcp.WithObject("inputs", mcp.Description("Workflow inputs")),
		mcp.WithString("query", mcp.Description("jq program applied to the run result")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("wrkflo.validate",
		mcp.WithDescription("Validate an Arazzo document"),
		mcp.WithString("path", mcp.Description("Path or http(s) URL of the document")),
		mcp.WithString("document", mcp.Description("Inline document as YAML or JSON text, used when path is empty")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("wrkflo.history",
		mcp.WithDescription("List recorded runs, or show one run with its events"),
		mcp.WithString("run_id", mcp.Description("Run to show; omit to list runs")),
		mcp.WithString("status", mcp.Enum("running", "succeeded", "failed", "cancelled"), mcp.Description("Only list runs with this status")),
		mcp.WithString("workflow_id", mcp.Description("Only list runs of this workflow")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to list (default 20)")),
	)
}
