// Package api serves the HTTP control plane: start and stop a scan, read its
// results and status, analyze the recorded dataset, and expose health and
// Prometheus metrics.
//
// Every /api response uses the envelope {"success": bool, "message": string}
// plus endpoint-specific fields. Rejected lifecycle operations answer 400.
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/waftester/webfuzzer/pkg/config"
	"github.com/waftester/webfuzzer/pkg/dataset"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/engine"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/jsonutil"
	"github.com/waftester/webfuzzer/pkg/metrics"
	"github.com/waftester/webfuzzer/pkg/scoring"
	"github.com/waftester/webfuzzer/pkg/wordlist"
)

// Messages returned in the response envelope.
const (
	MsgAlreadyRunning = "A fuzzing scan is already running"
	MsgNotRunning     = "No active fuzzing scan to stop"
	MsgStopped        = "Fuzzing scan stopped successfully"
	MsgNoDataset      = "No dataset available for analysis"
	msgStartedFmt     = "Fuzzing started against %s"
)

// maxRequestBody bounds start-fuzzing bodies, which carry payload text.
const maxRequestBody = 4 << 20

// StartRequest is the start-fuzzing body. TargetURL may omit the scheme, in
// which case Protocol (default https) is prepended. Payloads is
// newline-separated text; when empty the configured wordlist is used.
type StartRequest struct {
	TargetURL string `json:"targetUrl"`
	Protocol  string `json:"protocol"`
	Payloads  string `json:"payloads"`
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type startResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	RunID   string `json:"runId"`
	Target  string `json:"target"`
	Count   int    `json:"payloads"`
}

type stopResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Result  engine.Status `json:"result"`
}

type resultsResponse struct {
	Success bool             `json:"success"`
	Results []finding.Result `json:"results"`
}

type statusResponse struct {
	Success bool          `json:"success"`
	Status  engine.Status `json:"status"`
}

type analysisResponse struct {
	Success           bool           `json:"success"`
	AnomalyData       []AnomalyScore `json:"anomalyData"`
	VulnerabilityData []LabelCount   `json:"vulnerabilityData"`
}

// Server is the control plane for one Engine.
type Server struct {
	engine      *engine.Engine
	words       *wordlist.Manager
	wordlist    string
	datasetPath string
	scorer      scoring.Capability
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithWordlist sets the payload source used when a start request carries no
// payloads.
func WithWordlist(m *wordlist.Manager, source string) Option {
	return func(s *Server) {
		s.words = m
		s.wordlist = source
	}
}

// WithDatasetPath sets the CSV file read by anomaly-analysis.
func WithDatasetPath(path string) Option {
	return func(s *Server) { s.datasetPath = path }
}

// WithScorer enables per-payload anomaly scores in anomaly-analysis.
func WithScorer(c scoring.Capability) Option {
	return func(s *Server) { s.scorer = c }
}

// WithMetrics serves c at /metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// New creates a Server for e.
func New(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:      e,
		datasetPath: defaults.DatasetFile,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.words == nil {
		s.words = wordlist.NewManager(&wordlist.Config{Logger: s.logger})
	}
	return s
}

// Handler returns the routed handler with CORS, recovery and security
// headers applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/start-fuzzing", s.handleStart)
	mux.HandleFunc("POST /api/stop-fuzzing", s.handleStop)
	mux.HandleFunc("GET /api/fuzzing-results", s.handleResults)
	mux.HandleFunc("GET /api/anomaly-analysis", s.handleAnalysis)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+defaults.MetricsPath, s.metrics.Handler())
	}
	return corsMiddleware(recoveryMiddleware(s.logger, securityHeaders(mux)))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("read request: %w", err))
		return
	}
	var req StartRequest
	if len(body) > 0 {
		if err := jsonutil.Unmarshal(body, &req); err != nil {
			s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	target, err := TargetURL(req.Protocol, req.TargetURL)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	payloads := wordlist.FromText(req.Payloads)
	if len(payloads) == 0 {
		payloads = s.words.Payloads(s.wordlist)
	}

	if err := s.engine.Start(target, payloads); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			writeJSON(w, http.StatusBadRequest, envelope{Message: MsgAlreadyRunning})
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	st := s.engine.Status()
	s.logger.Info("scan requested",
		slog.String("run_id", st.RunID),
		slog.String("target", target),
		slog.Int("payloads", len(payloads)))
	writeJSON(w, http.StatusOK, startResponse{
		Success: true,
		Message: fmt.Sprintf(msgStartedFmt, target),
		RunID:   st.RunID,
		Target:  target,
		Count:   len(payloads),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			writeJSON(w, http.StatusBadRequest, envelope{Message: MsgNotRunning})
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stopResponse{
		Success: true,
		Message: MsgStopped,
		Result:  s.engine.Status(),
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, resultsResponse{Success: true, Results: s.engine.Results()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: s.engine.Status()})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.datasetPath == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Message: MsgNoDataset})
		return
	}
	records, err := dataset.ReadFile(s.datasetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusBadRequest, envelope{Message: MsgNoDataset})
			return
		}
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	a := Analyze(records, s.scorer)
	writeJSON(w, http.StatusOK, analysisResponse{
		Success:           true,
		AnomalyData:       a.AnomalyData,
		VulnerabilityData: a.VulnerabilityData,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": defaults.ToolName,
		"version": defaults.Version,
		"state":   string(s.engine.Status().State),
	})
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, envelope{Message: "Error: " + err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := jsonutil.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", defaults.ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// TargetURL joins protocol and target the way the start endpoint does.
// A target that already carries a scheme is used as is.
func TargetURL(protocol, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("%w: targetUrl", config.ErrMissingRequired)
	}
	if !strings.Contains(target, "://") {
		if protocol == "" {
			protocol = "https"
		}
		target = strings.ToLower(protocol) + "://" + target
	}
	if err := config.ValidateTarget(target); err != nil {
		return "", err
	}
	return target, nil
}
