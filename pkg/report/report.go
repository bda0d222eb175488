// Package report summarizes a fuzzing run and renders the summary as text,
// JSON or PDF.
package report

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/waftester/webfuzzer/pkg/finding"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatPDF  = "pdf"
)

// DefaultTitle heads every report unless Options.Title is set.
const DefaultTitle = "Web Fuzzing Report"

// ErrUnknownFormat is returned by Write for an unsupported format.
var ErrUnknownFormat = errors.New("report: unknown format")

// Summary aggregates the results of one run.
type Summary struct {
	Title       string    `json:"title"`
	Target      string    `json:"target,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`

	TotalRequests int `json:"totalRequests"`
	Responses     int `json:"responses"`
	Failures      int `json:"failures"`
	// SuccessRate is the percentage of attempts answered with a status below 400.
	SuccessRate float64 `json:"successRate"`
	// ErrorRate is the percentage of all other attempts, including transport failures.
	ErrorRate float64 `json:"errorRate"`
	// AvgResponseTime is the mean in milliseconds over answered attempts.
	AvgResponseTime float64 `json:"avgResponseTime"`

	SeverityCounts map[finding.Severity]int `json:"severityCounts"`
	ResponseCodes  map[int]int              `json:"responseCodes"`

	// Findings holds every result above low severity, most severe first.
	Findings []finding.Result `json:"findings"`
}

// Options describes the run being summarized.
type Options struct {
	Title      string
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time
	// Now stamps GeneratedAt (default: time.Now).
	Now func() time.Time
}

// Summarize computes the summary of results.
func Summarize(results []finding.Result, opts Options) *Summary {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	s := &Summary{
		Title:          opts.Title,
		Target:         opts.Target,
		GeneratedAt:    now(),
		StartedAt:      opts.StartedAt,
		FinishedAt:     opts.FinishedAt,
		TotalRequests:  len(results),
		SeverityCounts: make(map[finding.Severity]int, len(finding.Severities)),
		ResponseCodes:  make(map[int]int),
		Findings:       []finding.Result{},
	}
	if s.Title == "" {
		s.Title = DefaultTitle
	}
	for _, sev := range finding.Severities {
		s.SeverityCounts[sev] = 0
	}

	var ok int
	var totalTime float64
	for _, r := range results {
		s.SeverityCounts[r.Severity]++
		if s.Target == "" {
			s.Target = r.URL
		}
		if r.Failed() {
			s.Failures++
		} else {
			s.Responses++
			s.ResponseCodes[r.Status]++
			totalTime += r.ResponseTime
			if r.Status < 400 {
				ok++
			}
		}
		if r.Severity != finding.Low {
			s.Findings = append(s.Findings, r)
		}
	}

	if s.TotalRequests > 0 {
		s.SuccessRate = percent(ok, s.TotalRequests)
		s.ErrorRate = percent(s.TotalRequests-ok, s.TotalRequests)
	}
	if s.Responses > 0 {
		s.AvgResponseTime = totalTime / float64(s.Responses)
	}

	sort.SliceStable(s.Findings, func(i, j int) bool {
		return s.Findings[i].Severity.Score() > s.Findings[j].Severity.Score()
	})
	return s
}

// Duration returns how long the run took, or zero when unknown.
func (s *Summary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond)
}

// Write renders s in the given format.
func Write(w io.Writer, format string, s *Summary) error {
	switch format {
	case FormatText, "":
		return WriteText(w, s)
	case FormatJSON:
		return WriteJSON(w, s)
	case FormatPDF:
		return WritePDF(w, s)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func percent(n, total int) float64 {
	return float64(n) * 100 / float64(total)
}

// titleCase returns "Critical" for "critical".
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}
