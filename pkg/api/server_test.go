package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waftester/webfuzzer/pkg/dataset"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/engine"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/jsonutil"
	"github.com/waftester/webfuzzer/pkg/metrics"
	"github.com/waftester/webfuzzer/pkg/probe"
	"github.com/waftester/webfuzzer/pkg/scoring"
	"github.com/waftester/webfuzzer/pkg/wordlist"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gateProber holds every probe until release is closed or the run is cancelled.
type gateProber struct {
	mu       sync.Mutex
	release  chan struct{}
	payloads []string
}

func (g *gateProber) Probe(ctx context.Context, target, payload string, cancelled func() bool) []finding.Result {
	g.mu.Lock()
	g.payloads = append(g.payloads, payload)
	g.mu.Unlock()

	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil
		}
	}
	if cancelled() {
		return nil
	}
	return []finding.Result{{URL: target, Method: "GET", Payload: payload, Status: 200, Severity: finding.Low, Finding: finding.TextNone}}
}

func (g *gateProber) Reset() {}

func (g *gateProber) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.payloads...)
}

type envelopeBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelopeBody) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", defaults.ContentTypeJSON)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelopeBody
	if strings.HasPrefix(rec.Header().Get("Content-Type"), defaults.ContentTypeJSON) {
		require.NoError(t, jsonutil.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func newTestServer(t *testing.T, p engine.Prober, opts ...Option) (*Server, *engine.Engine) {
	t.Helper()
	e := engine.New(p, dataset.NewMemoryRecorder(), engine.WithLogger(quietLogger()))
	t.Cleanup(func() {
		_ = e.Stop()
		e.Wait()
	})
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(e, opts...), e
}

func TestStartFuzzing(t *testing.T) {
	p := &gateProber{}
	srv, e := newTestServer(t, p)
	h := srv.Handler()

	rec, env := do(t, h, http.MethodPost, "/api/start-fuzzing",
		`{"targetUrl":"example.test/search","payloads":"a\n\n  b  \n"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.Equal(t, "Fuzzing started against https://example.test/search", env.Message)

	e.Wait()
	assert.Equal(t, []string{"a", "b"}, p.seen())
	assert.Equal(t, "https://example.test/search", e.Status().Target)
}

func TestStartFuzzing_ProtocolAndDefaults(t *testing.T) {
	p := &gateProber{}
	words := wordlist.NewManager(&wordlist.Config{Logger: quietLogger()})
	srv, e := newTestServer(t, p, WithWordlist(words, "builtin:traversal"))

	rec, env := do(t, srv.Handler(), http.MethodPost, "/api/start-fuzzing",
		`{"TargetURL":"example.test","protocol":"HTTP"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Fuzzing started against http://example.test", env.Message)

	e.Wait()
	wl, err := words.Load("builtin:traversal")
	require.NoError(t, err)
	assert.Equal(t, wl.Words, p.seen(), "empty payloads use the configured wordlist")
}

func TestStartFuzzing_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &gateProber{})
	h := srv.Handler()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing target", `{"payloads":"x"}`, "targetUrl"},
		{"empty body", ``, "targetUrl"},
		{"malformed json", `{"targetUrl":`, "invalid request body"},
		{"bad scheme", `{"targetUrl":"ftp://example.test"}`, "scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, "/api/start-fuzzing", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, env.Success)
			assert.True(t, strings.HasPrefix(env.Message, "Error: "), env.Message)
			assert.Contains(t, env.Message, tt.want)
		})
	}
}

func TestLifecycleErrors(t *testing.T) {
	p := &gateProber{release: make(chan struct{})}
	srv, e := newTestServer(t, p)
	h := srv.Handler()

	rec, env := do(t, h, http.MethodPost, "/api/stop-fuzzing", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgNotRunning, env.Message)
	assert.False(t, env.Success)

	rec, _ = do(t, h, http.MethodPost, "/api/start-fuzzing", `{"targetUrl":"example.test","payloads":"x\ny"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, h, http.MethodPost, "/api/start-fuzzing", `{"targetUrl":"other.test","payloads":"z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgAlreadyRunning, env.Message)
	assert.Equal(t, "https://example.test", e.Status().Target, "running scan untouched")

	rec, env = do(t, h, http.MethodPost, "/api/stop-fuzzing", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, MsgStopped, env.Message)
	assert.Equal(t, engine.Idle, e.Status().State)

	rec, env = do(t, h, http.MethodPost, "/api/stop-fuzzing", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgNotRunning, env.Message)
}

func TestFuzzingResultsAndStatus(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		io.WriteString(w, "<script>alert(1)</script>")
	}))
	t.Cleanup(target.Close)

	d, err := probe.New(probe.WithLogger(quietLogger()))
	require.NoError(t, err)
	datasetPath := filepath.Join(t.TempDir(), "ds.csv")
	rec, err := dataset.NewCSVRecorder(datasetPath)
	require.NoError(t, err)
	mc, err := metrics.New()
	require.NoError(t, err)

	e := engine.New(d, rec, engine.WithLogger(quietLogger()), engine.WithMetrics(mc))
	h := New(e, WithLogger(quietLogger()), WithDatasetPath(datasetPath), WithMetrics(mc)).Handler()

	resp, _ := do(t, h, http.MethodPost, "/api/start-fuzzing",
		`{"targetUrl":"`+strings.TrimPrefix(target.URL, "http://")+`","protocol":"http","payloads":"p1"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	e.Wait()

	resp, _ = do(t, h, http.MethodGet, "/api/fuzzing-results", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var results struct {
		Success bool             `json:"success"`
		Results []finding.Result `json:"results"`
	}
	require.NoError(t, jsonutil.Unmarshal(resp.Body.Bytes(), &results))
	assert.True(t, results.Success)
	require.Len(t, results.Results, 2)
	assert.Equal(t, "GET", results.Results[0].Method)
	assert.Equal(t, finding.High, results.Results[0].Severity)
	assert.Equal(t, finding.Critical, results.Results[1].Severity)

	resp, _ = do(t, h, http.MethodGet, "/api/status", "")
	var status struct {
		Status engine.Status `json:"status"`
	}
	require.NoError(t, jsonutil.Unmarshal(resp.Body.Bytes(), &status))
	assert.Equal(t, engine.Idle, status.Status.State)
	assert.Equal(t, 1, status.Status.Processed)
	assert.Equal(t, 2, status.Status.Results)

	resp, _ = do(t, h, http.MethodGet, "/api/anomaly-analysis", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var analysis struct {
		Success           bool           `json:"success"`
		AnomalyData       []AnomalyScore `json:"anomalyData"`
		VulnerabilityData []LabelCount   `json:"vulnerabilityData"`
	}
	require.NoError(t, jsonutil.Unmarshal(resp.Body.Bytes(), &analysis))
	assert.True(t, analysis.Success)
	assert.Empty(t, analysis.AnomalyData, "no scorer configured")
	assert.ElementsMatch(t, []LabelCount{
		{Name: dataset.Suspicious, Value: 1},
		{Name: dataset.Malicious, Value: 1},
	}, analysis.VulnerabilityData)

	resp, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "webfuzzer_probes_total")
}

func TestAnomalyAnalysis_NoDataset(t *testing.T) {
	srv, _ := newTestServer(t, &gateProber{}, WithDatasetPath(filepath.Join(t.TempDir(), "missing.csv")))
	rec, env := do(t, srv.Handler(), http.MethodGet, "/api/anomaly-analysis", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgNoDataset, env.Message)

	srv, _ = newTestServer(t, &gateProber{}, WithDatasetPath(""))
	rec, env = do(t, srv.Handler(), http.MethodGet, "/api/anomaly-analysis", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, MsgNoDataset, env.Message)
}

func TestHealthAndRouting(t *testing.T) {
	srv, _ := newTestServer(t, &gateProber{})
	h := srv.Handler()

	rec, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, _ = do(t, h, http.MethodGet, "/api/start-fuzzing", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics not configured")
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, &gateProber{})
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/start-fuzzing", nil)
	req.Header.Set("Origin", "http://dashboard.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dashboard.test", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, h, http.MethodGet, "/health", "")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	records := []dataset.Record{
		{Payload: "<script>alert('a-long-payload')</script>", ResponseCode: 500, Label: dataset.Malicious},
		{Payload: "<script>alert('a-long-payload')</script>", ResponseCode: 200, Label: dataset.Suspicious},
		{Payload: "b", ResponseCode: 200, Label: dataset.Safe},
		{Payload: "b", ResponseCode: 200, Label: dataset.Safe},
		{Payload: "c", ResponseCode: 404, Label: dataset.Safe},
		{Payload: "d", ResponseCode: 200, Label: dataset.Safe},
		{Payload: "e", ResponseCode: 200, Label: dataset.Safe},
		{Payload: "f", ResponseCode: 500, Label: dataset.Malicious},
	}
	scorer := scoring.Funcs{Anomalous: func(f []float64) (bool, error) {
		if f[0] == 404 {
			panic("model exploded")
		}
		return f[0] >= 500, nil
	}}

	a := Analyze(records, scorer)

	assert.Equal(t, []LabelCount{
		{Name: dataset.Safe, Value: 5},
		{Name: dataset.Malicious, Value: 2},
		{Name: dataset.Suspicious, Value: 1},
	}, a.VulnerabilityData)

	assert.Equal(t, []AnomalyScore{
		{Name: "<script>alert('...", Score: 50},
		{Name: "b", Score: 0},
		{Name: "c", Score: 0},
		{Name: "d", Score: 0},
		{Name: "e", Score: 0},
	}, a.AnomalyData, "first five payloads; panicking rows are skipped")
}

func TestAnalyze_NoScorer(t *testing.T) {
	t.Parallel()

	a := Analyze(nil, nil)
	assert.NotNil(t, a.AnomalyData)
	assert.NotNil(t, a.VulnerabilityData)
	assert.Empty(t, a.VulnerabilityData)
}

func TestTargetURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		protocol, target, want string
		wantErr                bool
	}{
		{"", "example.test", "https://example.test", false},
		{"http", "example.test:8080/x", "http://example.test:8080/x", false},
		{"https", "http://already.test", "http://already.test", false},
		{"", "  ", "", true},
		{"gopher", "example.test", "", true},
	}
	for _, tt := range tests {
		got, err := TargetURL(tt.protocol, tt.target)
		if tt.wantErr {
			assert.Error(t, err, tt.target)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
