package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/waftester/webfuzzer/pkg/api"
	"github.com/waftester/webfuzzer/pkg/dataset"
	"github.com/waftester/webfuzzer/pkg/engine"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/wordlist"
)

// progressInterval is how often a waiting start_scan reports progress.
const progressInterval = 500 * time.Millisecond

func (s *Server) registerTools() {
	s.addStartScanTool()
	s.addStopScanTool()
	s.addScanStatusTool()
	s.addGetResultsTool()
	s.addAnalyzeDatasetTool()
	s.addListWordlistsTool()
}

// ═══════════════════════════════════════════════════════════════════════════
// start_scan
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addStartScanTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "start_scan",
			Title: "Start Fuzzing Scan",
			Description: `Start a fuzzing scan against one URL. Sends live traffic to the target.

Each payload is sent as GET ?fuzz=<payload> and as a POST form field fuzz=<payload>.
Payload source, first non-empty wins: 'payloads', 'wordlist', the server's configured wordlist, the built-in default set.

Fails if a scan is already running; call stop_scan first or wait for it to finish.
With wait=true the call blocks until the scan ends (or the call is cancelled) and returns the final status.

EXAMPLE INPUTS:
• {"target": "https://app.example.com/search"}
• {"target": "app.example.com/search", "protocol": "http", "payloads": ["<script>alert(1)</script>", "' OR 1=1--"]}
• {"target": "https://app.example.com/q", "wordlist": "builtin:sqli", "wait": true}`,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"target"},
				"properties": map[string]any{
					"target": map[string]any{
						"type":        "string",
						"description": "Target URL. A bare host/path gets 'protocol' prepended.",
					},
					"protocol": map[string]any{
						"type":        "string",
						"description": "Scheme for a bare target (default https).",
						"enum":        []string{"http", "https"},
					},
					"payloads": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Explicit payload list.",
					},
					"wordlist": map[string]any{
						"type":        "string",
						"description": "Wordlist source: file path, http(s) URL or builtin:<name> (see list_wordlists). Join several with commas.",
					},
					"wait": map[string]any{
						"type":        "boolean",
						"description": "Block until the scan finishes.",
					},
				},
			},
			Annotations: &mcp.ToolAnnotations{
				DestructiveHint: boolPtr(false),
				OpenWorldHint:   boolPtr(true),
				Title:           "Start Fuzzing Scan",
			},
		},
		s.handleStartScan,
	)
}

type startScanArgs struct {
	Target   string   `json:"target"`
	Protocol string   `json:"protocol"`
	Payloads []string `json:"payloads"`
	Wordlist string   `json:"wordlist"`
	Wait     bool     `json:"wait"`
}

type startScanResponse struct {
	Message string        `json:"message"`
	Status  engine.Status `json:"status"`
}

func (s *Server) handleStartScan(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args startScanArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v. Expected 'target' (string) and optional 'protocol', 'payloads', 'wordlist', 'wait'.", err)), nil
	}

	target, err := api.TargetURL(args.Protocol, args.Target)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid target: %v", err)), nil
	}

	payloads := nonEmpty(args.Payloads)
	if len(payloads) == 0 {
		source := args.Wordlist
		if source == "" {
			source = s.config.Wordlist
		}
		payloads = s.config.Words.Payloads(source)
	}

	eng := s.config.Engine
	if err := eng.Start(target, payloads); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			return errorResult(api.MsgAlreadyRunning + ". Call stop_scan or poll scan_status until the state is idle."), nil
		}
		return errorResult(fmt.Sprintf("start failed: %v", err)), nil
	}
	logToSession(ctx, req, logInfo, fmt.Sprintf("scan started against %s with %d payloads", target, len(payloads)))

	msg := fmt.Sprintf("Fuzzing started against %s", target)
	if args.Wait && s.waitForScan(ctx, req) {
		msg = finishedMessage(target, eng.Status())
	}

	return jsonResult(startScanResponse{
		Message: msg,
		Status:  eng.Status(),
	})
}

// finishedMessage describes a run that is no longer running. A run that
// ended before its last payload was stopped.
func finishedMessage(target string, st engine.Status) string {
	if st.Processed < st.Payloads {
		return fmt.Sprintf("Fuzzing stopped against %s after %d of %d payloads", target, st.Processed, st.Payloads)
	}
	return fmt.Sprintf("Fuzzing finished against %s", target)
}

// waitForScan blocks until the engine finishes or ctx is done, reporting
// progress along the way. It reports whether the run ended.
func (s *Server) waitForScan(ctx context.Context, req *mcp.CallToolRequest) bool {
	eng := s.config.Engine
	done := make(chan struct{})
	go func() {
		eng.Wait()
		close(done)
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			st := eng.Status()
			notifyProgress(ctx, req, float64(st.Processed), float64(st.Payloads), "scan finished")
			return true
		case <-ctx.Done():
			logToSession(context.WithoutCancel(ctx), req, logWarning, "stopped waiting; the scan keeps running")
			return false
		case <-ticker.C:
			st := eng.Status()
			notifyProgress(ctx, req, float64(st.Processed), float64(st.Payloads),
				fmt.Sprintf("%d/%d payloads, %d results", st.Processed, st.Payloads, st.Results))
		}
	}
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// stop_scan
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addStopScanTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "stop_scan",
			Title:       "Stop Fuzzing Scan",
			Description: "Stop the running scan. Results gathered so far are kept. Fails when no scan is running.",
			InputSchema: map[string]any{"type": "object"},
			Annotations: &mcp.ToolAnnotations{
				DestructiveHint: boolPtr(false),
				OpenWorldHint:   boolPtr(false),
				Title:           "Stop Fuzzing Scan",
			},
		},
		s.handleStopScan,
	)
}

func (s *Server) handleStopScan(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eng := s.config.Engine
	if err := eng.Stop(); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			return errorResult(api.MsgNotRunning + "."), nil
		}
		return errorResult(fmt.Sprintf("stop failed: %v", err)), nil
	}
	return jsonResult(startScanResponse{Message: api.MsgStopped, Status: eng.Status()})
}

// ═══════════════════════════════════════════════════════════════════════════
// scan_status
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addScanStatusTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "scan_status",
			Title:       "Scan Status",
			Description: "Report the engine state (idle or running), target, progress and result count. Read-only.",
			InputSchema: map[string]any{"type": "object"},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "Scan Status",
			},
		},
		func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return jsonResult(s.config.Engine.Status())
		},
	)
}

// ═══════════════════════════════════════════════════════════════════════════
// get_results
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addGetResultsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "get_results",
			Title: "Get Scan Results",
			Description: `Return results of the current or last scan in probe order. Read-only.

EXAMPLE INPUTS:
• All results: {}
• Only findings worth a look: {"min_severity": "medium"}
• Last 20 results: {"limit": 20}`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"min_severity": map[string]any{
						"type":        "string",
						"description": "Only results at this severity or higher.",
						"enum":        []string{"critical", "high", "medium", "low"},
					},
					"limit": map[string]any{
						"type":        "integer",
						"minimum":     0,
						"description": "Return at most this many of the most recent matching results (0 = all).",
					},
				},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "Get Scan Results",
			},
		},
		s.handleGetResults,
	)
}

type getResultsArgs struct {
	MinSeverity string `json:"min_severity"`
	Limit       int    `json:"limit"`
}

type getResultsResponse struct {
	Total          int                      `json:"total"`
	Returned       int                      `json:"returned"`
	SeverityCounts map[finding.Severity]int `json:"severity_counts"`
	Results        []finding.Result         `json:"results"`
}

func (s *Server) handleGetResults(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args getResultsArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v. Expected optional 'min_severity' (string) and 'limit' (integer).", err)), nil
	}
	minScore := 0
	if args.MinSeverity != "" {
		sev := finding.Severity(args.MinSeverity)
		if !sev.IsValid() {
			return errorResult(fmt.Sprintf("unknown severity %q: use critical, high, medium or low", args.MinSeverity)), nil
		}
		minScore = sev.Score()
	}
	if args.Limit < 0 {
		return errorResult("limit must not be negative"), nil
	}

	all := s.config.Engine.Results()
	resp := getResultsResponse{
		Total:          len(all),
		SeverityCounts: make(map[finding.Severity]int, len(finding.Severities)),
		Results:        []finding.Result{},
	}
	for _, r := range all {
		resp.SeverityCounts[r.Severity]++
		if r.Severity.Score() >= minScore {
			resp.Results = append(resp.Results, r)
		}
	}
	if args.Limit > 0 && len(resp.Results) > args.Limit {
		resp.Results = resp.Results[len(resp.Results)-args.Limit:]
	}
	resp.Returned = len(resp.Results)
	return jsonResult(resp)
}

// ═══════════════════════════════════════════════════════════════════════════
// analyze_dataset
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addAnalyzeDatasetTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "analyze_dataset",
			Title: "Analyze Dataset",
			Description: `Summarize the recorded CSV dataset: label counts (malicious, suspicious, safe) and,
when a scoring model is configured, the anomalous share of the first five payloads. Read-only.`,
			InputSchema: map[string]any{"type": "object"},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "Analyze Dataset",
			},
		},
		s.handleAnalyzeDataset,
	)
}

func (s *Server) handleAnalyzeDataset(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.config.DatasetPath == "" {
		return errorResult(api.MsgNoDataset + ": dataset recording is disabled."), nil
	}
	records, err := dataset.ReadFile(s.config.DatasetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errorResult(api.MsgNoDataset + ". Run start_scan first."), nil
		}
		return errorResult(fmt.Sprintf("read dataset: %v", err)), nil
	}
	return jsonResult(api.Analyze(records, s.config.Scorer))
}

// ═══════════════════════════════════════════════════════════════════════════
// list_wordlists
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addListWordlistsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:        "list_wordlists",
			Title:       "List Built-in Wordlists",
			Description: "List the built-in payload wordlists usable as start_scan 'wordlist' values (builtin:<name>), with sizes. No network traffic.",
			InputSchema: map[string]any{"type": "object"},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "List Built-in Wordlists",
			},
		},
		s.handleListWordlists,
	)
}

type wordlistInfo struct {
	Source string `json:"source"`
	Size   int    `json:"size"`
	Sample string `json:"sample,omitempty"`
}

func (s *Server) handleListWordlists(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.wordlists())
}

func (s *Server) wordlists() []wordlistInfo {
	words := s.config.Words
	names := words.ListBuiltIn()
	out := make([]wordlistInfo, 0, len(names))
	for _, name := range names {
		wl, err := words.Load(wordlist.BuiltinPrefix + name)
		if err != nil {
			continue
		}
		info := wordlistInfo{Source: wl.Name, Size: wl.Size}
		if len(wl.Words) > 0 {
			info.Sample = wl.Words[0]
		}
		out = append(out, info)
	}
	return out
}
