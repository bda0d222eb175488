package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waftester/webfuzzer/pkg/config"
	"github.com/waftester/webfuzzer/pkg/dataset"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/jsonutil"
	"github.com/waftester/webfuzzer/pkg/report"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTarget reflects the q parameter for GET and fails every POST.
func newTarget(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, "internal error")
			return
		}
		io.WriteString(w, "you searched for "+r.URL.Query().Get(defaults.FuzzParam))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_Version(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"version"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Equal(t, defaults.ToolName+" "+defaults.Version+"\n", stdout.String())
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no command", nil, "Commands:"},
		{"unknown command", []string{"explode"}, `unknown command "explode"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, 2, code)
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestRun_Help(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run(context.Background(), []string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "serve")
	assert.Empty(t, stderr.String())
}

func TestScan_RequiresTarget(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"scan"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "target")
	assert.Contains(t, stderr.String(), scanUsage)
}

func TestScan_InvalidFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"scan", "-u", "http://x", "-report", "xml"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "format")
}

func TestScan_WritesJSONReportAndDataset(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	target := newTarget(t)

	words := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(words, []byte("<script>alert(1)</script>\nhello\n"), 0o644))
	out := filepath.Join(dir, "report.json")
	csvPath := filepath.Join(dir, "dataset.csv")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"scan", "-u", target.URL, "-w", words,
		"-dataset", csvPath, "-report", "json", "-o", out, "-no-color", "-metrics=false",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Empty(t, stdout.String())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var s report.Summary
	require.NoError(t, jsonutil.Unmarshal(data, &s))
	assert.Equal(t, target.URL, s.Target)
	assert.Equal(t, 2*len(defaults.Methods), s.TotalRequests)
	assert.Equal(t, 2, s.ResponseCodes[http.StatusOK])
	assert.Equal(t, 2, s.ResponseCodes[http.StatusInternalServerError])
	assert.NotEmpty(t, s.Findings)

	records, err := dataset.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Len(t, records, 2*len(defaults.Methods))

	assert.Contains(t, stderr.String(), "Summary")
	assert.Contains(t, stderr.String(), "report written to "+out)
}

func TestScan_TextReportToStdout(t *testing.T) {
	t.Chdir(t.TempDir())
	target := newTarget(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"scan", "-u", target.URL, "-w", "builtin:traversal", "-dataset", "", "-no-color",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.True(t, strings.HasPrefix(stdout.String(), report.DefaultTitle), stdout.String())
	assert.Contains(t, stdout.String(), "Response Codes")
}

func TestScan_InvalidModel(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	model := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(model, []byte("anomaly: [broken"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"scan", "-u", "http://127.0.0.1:1", "-model", model}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "scoring")
}

func TestNewApp_MissingModelIsOptional(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.DatasetPath = ""
	cfg.ModelPath = filepath.Join(t.TempDir(), "absent.yaml")

	a, err := newApp(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)
	defer a.close(context.Background())
	assert.Nil(t, a.scorer)
	assert.NotNil(t, a.metrics)
}

func TestServeHandler_Routes(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.DatasetPath = ""

	a, err := newApp(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)
	defer a.close(context.Background())

	h, err := a.serveHandler()
	require.NoError(t, err)

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, defaults.MetricsPath, http.StatusOK},
		{http.MethodGet, "/api/anomaly-analysis", http.StatusBadRequest},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
}

func TestServe_GracefulShutdown(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "up")
		}), quietLogger())
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "up", string(body))

	cancel()
	assert.NoError(t, <-errCh)
}
