// Package mcpserver exposes the fuzzing engine to MCP clients: tools to start,
// stop and inspect a scan, and read-only resources describing the server.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/engine"
	"github.com/waftester/webfuzzer/pkg/jsonutil"
	"github.com/waftester/webfuzzer/pkg/scoring"
	"github.com/waftester/webfuzzer/pkg/wordlist"
)

const (
	logInfo    mcp.LoggingLevel = "info"
	logWarning mcp.LoggingLevel = "warning"
)

// Config holds MCP server configuration.
type Config struct {
	// Engine runs the scans. Required.
	Engine *engine.Engine

	// Words resolves wordlist sources (default: a new Manager).
	Words *wordlist.Manager

	// Wordlist is the source used when start_scan names none.
	Wordlist string

	// DatasetPath is read by analyze_dataset.
	DatasetPath string

	// Scorer enables anomaly scores in analyze_dataset.
	Scorer scoring.Capability

	Logger *slog.Logger
}

// Server wraps the MCP server with webfuzzer functionality.
type Server struct {
	mcp    *mcp.Server
	config *Config
	logger *slog.Logger
}

// New creates an MCP server with all tools and resources registered.
func New(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("mcpserver: engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Words == nil {
		cfg.Words = wordlist.NewManager(&wordlist.Config{Logger: cfg.Logger})
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    defaults.ToolName,
			Title:   "Web Fuzzer MCP Server",
			Version: defaults.Version,
		},
		&mcp.ServerOptions{
			Instructions: serverInstructions,
		},
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server for direct access (e.g., testing).
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// RunStdio serves MCP over stdin/stdout until ctx is done.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("mcp stdio transport started")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns the streamable HTTP transport handler.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return s.mcp },
		&mcp.StreamableHTTPOptions{Stateless: false},
	)
}

// textResult creates a CallToolResult with a single text content block.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// jsonResult marshals v to indented JSON and wraps it in a CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := jsonutil.MarshalIndent(v, "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return textResult(string(data)), nil
}

// errorResult creates an IsError CallToolResult so the client sees the error
// rather than a protocol-level failure.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

func boolPtr(b bool) *bool { return &b }

// parseArgs unmarshals the raw JSON arguments from a tool call into dst.
func parseArgs(req *mcp.CallToolRequest, dst any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := jsonutil.Unmarshal(req.Params.Arguments, dst); err != nil {
		return fmt.Errorf("parsing tool arguments: %w", err)
	}
	return nil
}

// notifyProgress sends a progress notification when the client asked for one.
func notifyProgress(ctx context.Context, req *mcp.CallToolRequest, progress, total float64, message string) {
	token := req.Params.GetProgressToken()
	if token == nil || req.Session == nil {
		return
	}
	_ = req.Session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// logToSession sends a structured log message to the MCP client.
func logToSession(ctx context.Context, req *mcp.CallToolRequest, level mcp.LoggingLevel, data any) {
	if req.Session == nil {
		return
	}
	_ = req.Session.Log(ctx, &mcp.LoggingMessageParams{
		Level:  level,
		Logger: defaults.ToolName,
		Data:   data,
	})
}

const serverInstructions = `You are operating webfuzzer, a single-target web endpoint fuzzer.

A scan sends every payload to one URL as a GET query parameter "fuzz" and as a
POST form field "fuzz", classifies each response and records it to a CSV dataset.
Only one scan runs at a time.

WORKFLOW:
1. start_scan with a target URL and optional payloads or wordlist.
2. scan_status to follow progress; get_results for findings.
3. stop_scan to cancel early.
4. analyze_dataset to see the label distribution of everything recorded so far.

Severity: critical (server error), high (reflected script marker), medium
(flagged by the scoring model), low (nothing of note or transport failure).

Only scan targets you are authorized to test.`
