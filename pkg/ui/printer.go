// Package ui renders scan output for terminals: a banner, one colored line per
// result and a closing summary. Colors drop out automatically when output is
// not a terminal or NO_COLOR is set.
package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/report"
)

const (
	bannerSeparator = "________________________________________________"
	maxPayloadWidth = 60
)

// Printer writes styled output to one writer. Safe for concurrent use.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	st      styles
	unicode bool
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(ColorProfile(w, noColor))
	return &Printer{
		w:       w,
		st:      newStyles(r),
		unicode: UnicodeTerminal(w),
	}
}

// Icon returns unicode when the terminal supports it, ascii otherwise.
func (p *Printer) Icon(unicode, ascii string) string {
	if p.unicode {
		return unicode
	}
	return ascii
}

// Banner prints the tool name, version and the given settings.
func (p *Printer) Banner(name, version string, settings [][2]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, p.st.bracket.Render(bannerSeparator))
	fmt.Fprintf(p.w, "\n %s %s\n", p.st.banner.Render(name), p.st.version.Render("v"+version))
	fmt.Fprintln(p.w, p.st.bracket.Render(bannerSeparator))
	for _, kv := range settings {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(p.w, " %s %s\n", p.st.label.Render(kv[0]), p.st.value.Render(kv[1]))
	}
	fmt.Fprintln(p.w)
}

// Result prints one probe result on a single line.
func (p *Printer) Result(r finding.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	b.WriteString(p.bracket(p.st.severity(r.Severity), strings.ToUpper(r.Severity.String())))
	b.WriteByte(' ')
	b.WriteString(p.bracket(p.st.value, r.Method))
	if !r.Failed() {
		b.WriteByte(' ')
		b.WriteString(p.bracket(p.st.statusCode(r.Status), strconv.Itoa(r.Status)))
		b.WriteByte(' ')
		b.WriteString(p.bracket(p.st.muted, formatLatency(r.ResponseTime)))
	}
	b.WriteByte(' ')
	b.WriteString(strconv.Quote(truncate(r.Payload, maxPayloadWidth)))
	b.WriteByte(' ')
	b.WriteString(p.Icon("→", "->"))
	b.WriteByte(' ')
	b.WriteString(p.st.severity(r.Severity).Bold(false).Render(r.Finding))
	fmt.Fprintln(p.w, b.String())
}

// Summary prints the closing run summary.
func (p *Printer) Summary(s *report.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.w, p.st.section.Render("Summary"))
	rows := [][2]string{
		{"Target", s.Target},
		{"Requests", strconv.Itoa(s.TotalRequests)},
		{"Success rate", fmt.Sprintf("%.2f%%", s.SuccessRate)},
		{"Error rate", fmt.Sprintf("%.2f%%", s.ErrorRate)},
		{"Avg response", fmt.Sprintf("%.2f ms", s.AvgResponseTime)},
	}
	if d := s.Duration(); d > 0 {
		rows = append(rows, [2]string{"Duration", d.String()})
	}
	for _, kv := range rows {
		fmt.Fprintf(p.w, " %s %s\n", p.st.label.Render(kv[0]), p.st.value.Render(kv[1]))
	}

	parts := make([]string, 0, len(finding.Severities))
	for _, sev := range finding.Severities {
		parts = append(parts, p.st.severity(sev).Render(fmt.Sprintf("%s: %d", sev, s.SeverityCounts[sev])))
	}
	fmt.Fprintf(p.w, " %s %s\n", p.st.label.Render("Severity"), strings.Join(parts, "  "))
}

// Line prints a muted informational line.
func (p *Printer) Line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, p.st.muted.Render(fmt.Sprintf(format, args...)))
}

func (p *Printer) bracket(style lipgloss.Style, text string) string {
	return p.st.bracket.Render("[") + style.Render(text) + p.st.bracket.Render("]")
}

func formatLatency(ms float64) string {
	if ms >= 1000 {
		return fmt.Sprintf("%.2fs", ms/1000)
	}
	return fmt.Sprintf("%dms", int(ms))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
