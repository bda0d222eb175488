package finding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/waftester/webfuzzer/pkg/analyzer"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		signals analyzer.Signals
		wantSev Severity
		wantTxt string
	}{
		{
			name:    "nothing",
			status:  200,
			wantSev: Low,
			wantTxt: TextNone,
		},
		{
			name:    "error text",
			status:  200,
			signals: analyzer.Signals{ErrorDetected: true},
			wantSev: Critical,
			wantTxt: TextServerError,
		},
		{
			name:    "5xx status alone",
			status:  503,
			wantSev: Critical,
			wantTxt: TextServerError,
		},
		{
			name:    "error dominates alert and scoring",
			status:  500,
			signals: analyzer.Signals{ErrorDetected: true, AlertDetected: true, Anomaly: analyzer.True, Effective: analyzer.True},
			wantSev: Critical,
			wantTxt: TextServerError,
		},
		{
			name:    "alert",
			status:  200,
			signals: analyzer.Signals{AlertDetected: true, Anomaly: analyzer.True},
			wantSev: High,
			wantTxt: TextXSS,
		},
		{
			name:    "anomaly before effective",
			status:  200,
			signals: analyzer.Signals{Anomaly: analyzer.True, Effective: analyzer.True},
			wantSev: Medium,
			wantTxt: TextAnomalous,
		},
		{
			name:    "effective only",
			status:  302,
			signals: analyzer.Signals{Anomaly: analyzer.False, Effective: analyzer.True},
			wantSev: Medium,
			wantTxt: TextEffective,
		},
		{
			name:    "unknown scoring is ignored",
			status:  200,
			signals: analyzer.Signals{Anomaly: analyzer.Unknown, Effective: analyzer.Unknown, BodyWordCountChanged: true},
			wantSev: Low,
			wantTxt: TextNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sev, txt := Classify(tt.status, tt.signals)
			assert.Equal(t, tt.wantSev, sev)
			assert.Equal(t, tt.wantTxt, txt)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Error during test: dial tcp: refused", TransportFailure(errors.New("dial tcp: refused")))
	assert.Equal(t, "Error during test: unknown error", TransportFailure(nil))
}

func TestSeverity(t *testing.T) {
	t.Parallel()

	for _, s := range Severities {
		assert.True(t, s.IsValid(), s)
	}
	assert.False(t, Severity("info").IsValid())
	assert.False(t, Severity("Critical").IsValid(), "must be lowercase")

	assert.Greater(t, Critical.Score(), High.Score())
	assert.Greater(t, High.Score(), Medium.Score())
	assert.Greater(t, Medium.Score(), Low.Score())
	assert.Equal(t, 0, Severity("bogus").Score())
	assert.Equal(t, "medium", Medium.String())
}

func TestResultFailed(t *testing.T) {
	t.Parallel()
	assert.True(t, Result{Method: "ERROR"}.Failed())
	assert.False(t, Result{Method: "GET", Status: 200}.Failed())
}
