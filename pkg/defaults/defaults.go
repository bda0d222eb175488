// Package defaults provides canonical default values for the entire codebase.
// This is the SINGLE SOURCE OF TRUTH for runtime defaults shared by the
// engine, the probe dispatcher, the dataset recorder and the control plane.
//
// Usage:
//
//	for _, method := range defaults.Methods {
//		req, err := probe.NewRequest(ctx, method, target, defaults.PayloadSet()[0])
//		...
//	}
//
// DO NOT hardcode these values elsewhere.
package defaults

import "time"

// Version is the current webfuzzer version
const Version = "1.2.0"

// ToolName is used for the service name in traces and the MCP implementation name.
const ToolName = "webfuzzer"

// UserAgent is sent with every probe request.
const UserAgent = ToolName + "/" + Version

// ============================================================================
// PROBE SETTINGS
// ============================================================================

const (
	// RequestTimeout bounds every probe request (10s).
	RequestTimeout = 10 * time.Second

	// StopJoinTimeout is how long Stop waits for the scan worker to exit (2s).
	StopJoinTimeout = 2 * time.Second

	// FuzzParam is the query parameter / form field that carries the payload.
	FuzzParam = "fuzz"

	// MaxBodySize caps how much of a response body is read (1MB).
	MaxBodySize int64 = 1024 * 1024

	// ProgressEvery controls how often the scan worker logs progress.
	ProgressEvery = 10
)

// Methods is the fixed, ordered set of HTTP methods tried for each payload.
var Methods = []string{"GET", "POST"}

// MethodError is the sentinel method recorded for transport failures.
const MethodError = "ERROR"

// ============================================================================
// PAYLOADS
// ============================================================================

var payloads = []string{
	"<script>alert(1)</script>",
	"1' OR '1'='1",
	"admin' --",
	"' OR 1=1;--",
}

// PayloadSet returns a fresh copy of the built-in payload set used when a
// wordlist is missing or empty.
func PayloadSet() []string {
	out := make([]string, len(payloads))
	copy(out, payloads)
	return out
}

// ============================================================================
// DATASET
// ============================================================================

// DatasetFile is the default dataset path.
const DatasetFile = "fuzzer_dataset.csv"

// DatasetHeader is written once when the dataset file is created.
var DatasetHeader = []string{
	"label", "payload", "response_code", "alert_detected",
	"error_detected", "body_word_count_changed", "timestamp",
}

// ============================================================================
// CONTENT TYPES
// ============================================================================

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
)

// ============================================================================
// CONTROL PLANE
// ============================================================================

const (
	// ListenAddr is the default control plane address.
	ListenAddr = "127.0.0.1:5000"

	// MetricsPath is where Prometheus metrics are served.
	MetricsPath = "/metrics"

	// ShutdownTimeout bounds graceful HTTP server shutdown (5s).
	ShutdownTimeout = 5 * time.Second

	// OTLPEndpoint is the default collector address for trace export.
	OTLPEndpoint = "localhost:4317"
)
