// Package analyzer turns a single HTTP response, plus the response that
// preceded it in the same run, into heuristic vulnerability signals.
//
// Detection is purely textual: no HTML or JavaScript parsing happens here.
package analyzer

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/waftester/webfuzzer/pkg/scoring"
)

// Markers searched case-insensitively in response bodies.
const (
	AlertMarker = "alert"
	ErrorMarker = "error"
)

// Tristate is a boolean that may also be unknown.
type Tristate int8

const (
	Unknown Tristate = iota
	True
	False
)

// FromBool converts b to True or False.
func FromBool(b bool) Tristate {
	if b {
		return True
	}
	return False
}

// IsTrue reports whether t is known and true.
func (t Tristate) IsTrue() bool { return t == True }

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Input is the response under analysis.
type Input struct {
	Status int
	Body   string
	// PrevBody is the most recent earlier response body in the run, of any
	// method. Empty means there is nothing to compare against.
	PrevBody string
}

// Signals are the heuristics derived from one response.
type Signals struct {
	AlertDetected        bool
	ErrorDetected        bool
	BodyWordCountChanged bool
	Anomaly              Tristate
	Effective            Tristate
}

// Heuristics computes the marker and body-delta signals without scoring.
// Anomaly and Effective are left Unknown.
func Heuristics(in Input) Signals {
	lower := strings.ToLower(in.Body)
	return Signals{
		AlertDetected:        strings.Contains(lower, AlertMarker),
		ErrorDetected:        in.Status >= 500 || strings.Contains(lower, ErrorMarker),
		BodyWordCountChanged: wordCountChanged(in.PrevBody, in.Body),
	}
}

// wordCountChanged is true only when the bodies differ byte-for-byte AND
// their word counts differ. Equal word counts are ignored even if the bytes
// changed.
func wordCountChanged(prev, cur string) bool {
	if prev == "" || prev == cur {
		return false
	}
	return CountWords(prev) != CountWords(cur)
}

// CountWords counts whitespace-delimited words without allocating.
func CountWords(s string) int {
	count := 0
	inWord := false
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if unicode.IsSpace(r) {
			inWord = false
		} else if !inWord {
			count++
			inWord = true
		}
	}
	return count
}

// Analyzer combines the heuristics with an optional scoring capability.
type Analyzer struct {
	scorer scoring.Capability
	logger *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// New creates an Analyzer. A nil scorer is valid and means no scoring.
func New(scorer scoring.Capability, opts ...Option) *Analyzer {
	a := &Analyzer{
		scorer: scoring.Safe(scorer),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HasScorer reports whether a scoring capability is configured.
func (a *Analyzer) HasScorer() bool {
	return a != nil && a.scorer != nil
}

// Analyze computes all signals for in. Scoring failures never fail the
// analysis: both scoring flags become Unknown instead.
func (a *Analyzer) Analyze(in Input) Signals {
	s := Heuristics(in)
	if !a.HasScorer() {
		return s
	}

	features := scoring.Features(in.Status, s.BodyWordCountChanged)
	anomalous, err := a.scorer.IsAnomalous(features)
	if err != nil {
		a.logger.Debug("anomaly scoring failed", slog.String("error", err.Error()))
		return s
	}
	effective, err := a.scorer.IsEffective(features)
	if err != nil {
		a.logger.Debug("effectiveness scoring failed", slog.String("error", err.Error()))
		return s
	}

	s.Anomaly = FromBool(anomalous)
	s.Effective = FromBool(effective)
	return s
}
