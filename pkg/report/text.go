package report

import (
	"fmt"
	"io"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/waftester/webfuzzer/pkg/finding"
)

const textTemplate = `{{ .Title }}
{{ repeat (len .Title) "=" }}
Generated: {{ .GeneratedAt.Format "2006-01-02 15:04:05" }}
{{- if .Target }}
Target:    {{ .Target }}
{{- end }}
{{- with duration . }}
Duration:  {{ . }}
{{- end }}

Scan Metrics
  Total Requests:     {{ .TotalRequests }}
  Success Rate:       {{ printf "%.2f" .SuccessRate }}%
  Error Rate:         {{ printf "%.2f" .ErrorRate }}%
  Avg. Response Time: {{ printf "%.2f" .AvgResponseTime }} ms
  Transport Failures: {{ .Failures }}

Severity
{{- range $sev := severities }}
  {{ title (toString $sev) | printf "%-9s" }} {{ index $.SeverityCounts $sev }}
{{- end }}
{{- if .ResponseCodes }}

Response Codes
{{- range $code, $n := .ResponseCodes }}
  {{ $code }}: {{ $n }}
{{- end }}
{{- end }}

Findings ({{ len .Findings }})
{{- range .Findings }}
  [{{ upper (toString .Severity) }}] #{{ .ID }} {{ .Method }} {{ .Status }} {{ trunc 60 .Payload | quote }}
      {{ .Finding }}
{{- else }}
  No findings above low severity.
{{- end }}
`

var textTmpl = template.Must(template.New("report").Funcs(textFuncs()).Parse(textTemplate))

func textFuncs() template.FuncMap {
	funcMap := sprig.TxtFuncMap()
	funcMap["title"] = titleCase
	funcMap["severities"] = func() []finding.Severity { return finding.Severities }
	funcMap["duration"] = func(s *Summary) string {
		if d := s.Duration(); d > 0 {
			return d.String()
		}
		return ""
	}
	return funcMap
}

// WriteText renders the plain-text report.
func WriteText(w io.Writer, s *Summary) error {
	if err := textTmpl.Execute(w, s); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}
	return nil
}
