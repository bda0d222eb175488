package finding

import "time"

// Result is the durable unit of output: one per (payload, method) attempt,
// including attempts whose transport failed (Method "ERROR", Status 0).
//
// JSON field names match the control-plane wire format.
type Result struct {
	ID                   int       `json:"id"`
	ProbeID              string    `json:"probeId,omitempty"`
	URL                  string    `json:"url"`
	Method               string    `json:"method"`
	Payload              string    `json:"payload"`
	Status               int       `json:"status"`
	ResponseTime         float64   `json:"responseTime"` // milliseconds
	Severity             Severity  `json:"severity"`
	Finding              string    `json:"finding"`
	AlertDetected        bool      `json:"alertDetected"`
	ErrorDetected        bool      `json:"errorDetected"`
	BodyWordCountChanged bool      `json:"bodyWordCountChanged"`
	BodyHash             string    `json:"bodyHash,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// Failed reports whether the attempt never produced a response.
func (r Result) Failed() bool {
	return r.Status == 0
}
