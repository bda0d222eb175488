package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/waftester/webfuzzer/pkg/finding"
)

// Color palette
var (
	Primary   = lipgloss.Color("#7D56F4")
	Secondary = lipgloss.Color("#00D4AA")

	// Severity colors
	Critical = lipgloss.Color("#FF0000")
	High     = lipgloss.Color("#FF6B6B")
	Medium   = lipgloss.Color("#FFD93D")
	Low      = lipgloss.Color("#6BCB77")

	Muted = lipgloss.Color("#6B7280")
	Light = lipgloss.Color("#FAFAFA")

	// HTTP status code colors
	Status2xx = lipgloss.Color("#00D26A")
	Status3xx = lipgloss.Color("#4D96FF")
	Status4xx = lipgloss.Color("#FFD93D")
	Status5xx = lipgloss.Color("#FF3838")
)

// styles is the set of styles bound to one renderer.
type styles struct {
	banner  lipgloss.Style
	version lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	bracket lipgloss.Style
	muted   lipgloss.Style
	section lipgloss.Style
	url     lipgloss.Style
	r       *lipgloss.Renderer
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		banner:  r.NewStyle().Foreground(Primary).Bold(true),
		version: r.NewStyle().Foreground(Secondary).Bold(true),
		label:   r.NewStyle().Foreground(Muted).Width(15),
		value:   r.NewStyle().Foreground(Light),
		bracket: r.NewStyle().Foreground(Muted),
		muted:   r.NewStyle().Foreground(Muted).Italic(true),
		section: r.NewStyle().Foreground(Light).Bold(true).MarginTop(1),
		url:     r.NewStyle().Foreground(Secondary).Underline(true),
		r:       r,
	}
}

// severity returns the badge style for a severity level.
func (s styles) severity(sev finding.Severity) lipgloss.Style {
	base := s.r.NewStyle().Bold(true)
	switch sev {
	case finding.Critical:
		return base.Foreground(Critical)
	case finding.High:
		return base.Foreground(High)
	case finding.Medium:
		return base.Foreground(Medium)
	case finding.Low:
		return base.Foreground(Low)
	default:
		return base.Foreground(Muted)
	}
}

// statusCode returns the style for an HTTP status code.
func (s styles) statusCode(code int) lipgloss.Style {
	base := s.r.NewStyle().Bold(true)
	switch {
	case code >= 200 && code < 300:
		return base.Foreground(Status2xx)
	case code >= 300 && code < 400:
		return base.Foreground(Status3xx)
	case code >= 400 && code < 500:
		return base.Foreground(Status4xx)
	case code >= 500:
		return base.Foreground(Status5xx)
	default:
		return base.Foreground(Muted)
	}
}
