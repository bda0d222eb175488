// Package finding maps analyzer signals to an operator-facing severity and
// finding text, and defines the Result entity produced for every probe.
package finding

import "github.com/waftester/webfuzzer/pkg/analyzer"

// Finding texts, one per classification rule.
const (
	TextServerError = "Server error detected"
	TextXSS         = "Possible XSS vulnerability"
	TextAnomalous   = "Anomalous response detected"
	TextEffective   = "Potentially effective payload"
	TextNone        = "No issues detected"
	textTransport   = "Error during test: "
)

// Classify assigns severity and finding text. Rules are evaluated in a
// fixed order and the first match wins, so error conditions always dominate
// the heuristic and scoring signals.
func Classify(status int, s analyzer.Signals) (Severity, string) {
	switch {
	case s.ErrorDetected || status >= 500:
		return Critical, TextServerError
	case s.AlertDetected:
		return High, TextXSS
	case s.Anomaly.IsTrue():
		return Medium, TextAnomalous
	case s.Effective.IsTrue():
		return Medium, TextEffective
	default:
		return Low, TextNone
	}
}

// TransportFailure returns the finding text for a request that never got a
// response.
func TransportFailure(err error) string {
	if err == nil {
		return textTransport + "unknown error"
	}
	return textTransport + err.Error()
}
