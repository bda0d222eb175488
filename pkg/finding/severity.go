package finding

// Severity is the operator-facing tier of a probe result.
// All values are lowercase strings.
type Severity string

const (
	// Critical represents a server error triggered by the payload.
	Critical Severity = "critical"

	// High represents a reflected script marker (possible XSS).
	High Severity = "high"

	// Medium represents a response the scoring capability flagged.
	Medium Severity = "medium"

	// Low represents nothing of note, including transport failures.
	Low Severity = "low"
)

// Severities lists every tier from most to least severe.
var Severities = []Severity{Critical, High, Medium, Low}

// IsValid reports whether s is a recognized severity level.
func (s Severity) IsValid() bool {
	switch s {
	case Critical, High, Medium, Low:
		return true
	}
	return false
}

// Score returns a numeric score for sorting and comparison.
// Critical=4, High=3, Medium=2, Low=1, Unknown=0.
func (s Severity) Score() int {
	switch s {
	case Critical:
		return 4
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// String returns the severity as a string.
func (s Severity) String() string {
	return string(s)
}
