package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/go-pdf/fpdf"
	"github.com/waftester/webfuzzer/pkg/finding"
)

const (
	pdfDateLayout  = "2006-01-02 15:04:05"
	pdfFooterLabel = "Web Fuzzer Report"
	pdfMaxPayload  = 48
	pdfMaxFinding  = 40
)

var pdfSeverityColors = map[finding.Severity][]int{
	finding.Critical: {220, 38, 38},
	finding.High:     {234, 88, 12},
	finding.Medium:   {202, 138, 4},
	finding.Low:      {37, 99, 235},
}

// WritePDF renders an executive summary followed by the technical findings.
func WritePDF(w io.Writer, s *Summary) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	generated := s.GeneratedAt.Format(pdfDateLayout)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(150, 150, 150)
		pdf.CellFormat(55, 10, pdfFooterLabel, "", 0, "L", false, 0, "")
		pdf.CellFormat(60, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
		pdf.CellFormat(0, 10, generated, "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	pdfHeader(pdf, tr, s, generated)
	pdfExecutiveSummary(pdf, s)

	pdf.AddPage()
	pdfTechnicalDetails(pdf, tr, s)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render pdf report: %w", err)
	}
	return nil
}

func pdfHeader(pdf *fpdf.Fpdf, tr func(string) string, s *Summary, generated string) {
	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(33, 33, 33)
	pdf.CellFormat(0, 10, tr(s.Title), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 7, "Generated on: "+generated, "", 1, "C", false, 0, "")
	if s.Target != "" {
		pdf.CellFormat(0, 7, tr("Target: "+s.Target), "", 1, "C", false, 0, "")
	}

	pdf.SetLineWidth(0.5)
	y := pdf.GetY() + 2
	pdf.Line(20, y, 190, y)
	pdf.Ln(8)
}

func pdfSection(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 15)
	pdf.SetTextColor(33, 33, 33)
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func pdfSubsection(pdf *fpdf.Fpdf, title string) {
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(66, 66, 66)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
}

func pdfParagraph(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(80, 80, 80)
	pdf.MultiCell(0, 5, text, "", "L", false)
	pdf.Ln(2)
}

func pdfTableHeader(pdf *fpdf.Fpdf, widths []float64, cols ...string) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(30, 41, 59)
	pdf.SetTextColor(255, 255, 255)
	for i, c := range cols {
		pdf.CellFormat(widths[i], 8, c, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(60, 60, 60)
}

func pdfKeyValueTable(pdf *fpdf.Fpdf, head [2]string, rows [][2]string) {
	widths := []float64{85, 85}
	pdfTableHeader(pdf, widths, head[0], head[1])
	for _, row := range rows {
		pdf.CellFormat(widths[0], 7, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, row[1], "1", 1, "R", false, 0, "")
	}
}

func pdfExecutiveSummary(pdf *fpdf.Fpdf, s *Summary) {
	pdfSection(pdf, "Executive Summary")
	pdfParagraph(pdf, "This report gives a high-level overview of the fuzzing run: request metrics, "+
		"the distribution of result severities and the findings that warrant follow-up.")

	pdfSubsection(pdf, "Scan Metrics Summary")
	duration := "N/A"
	if d := s.Duration(); d > 0 {
		duration = d.String()
	}
	pdfKeyValueTable(pdf, [2]string{"Metric", "Value"}, [][2]string{
		{"Total Requests", strconv.Itoa(s.TotalRequests)},
		{"Success Rate", fmt.Sprintf("%.2f%%", s.SuccessRate)},
		{"Error Rate", fmt.Sprintf("%.2f%%", s.ErrorRate)},
		{"Avg. Response Time", fmt.Sprintf("%.2f ms", s.AvgResponseTime)},
		{"Transport Failures", strconv.Itoa(s.Failures)},
		{"Scan Duration", duration},
	})

	pdfSubsection(pdf, "Vulnerability Summary")
	if s.TotalRequests == 0 {
		pdfParagraph(pdf, "No results were recorded.")
		return
	}
	widths := []float64{85, 85}
	pdfTableHeader(pdf, widths, "Severity", "Count")
	for _, sev := range finding.Severities {
		c := pdfSeverityColors[sev]
		pdf.SetTextColor(c[0], c[1], c[2])
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(widths[0], 7, titleCase(sev.String()), "1", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(widths[1], 7, strconv.Itoa(s.SeverityCounts[sev]), "1", 1, "R", false, 0, "")
	}
}

func pdfTechnicalDetails(pdf *fpdf.Fpdf, tr func(string) string, s *Summary) {
	pdfSection(pdf, "Technical Details")
	pdfParagraph(pdf, "Every result above low severity, most severe first, with the method, "+
		"response status and the payload that produced it.")

	pdfSubsection(pdf, "Findings")
	if len(s.Findings) == 0 {
		pdfParagraph(pdf, "No findings above low severity.")
	} else {
		widths := []float64{12, 16, 14, 20, 58, 50}
		pdfTableHeader(pdf, widths, "ID", "Method", "Status", "Severity", "Payload", "Finding")
		for i, r := range s.Findings {
			fill := i%2 == 1
			if fill {
				pdf.SetFillColor(245, 247, 250)
			}
			pdf.CellFormat(widths[0], 7, strconv.Itoa(r.ID), "1", 0, "C", fill, 0, "")
			pdf.CellFormat(widths[1], 7, r.Method, "1", 0, "C", fill, 0, "")
			pdf.CellFormat(widths[2], 7, strconv.Itoa(r.Status), "1", 0, "C", fill, 0, "")

			c := pdfSeverityColors[r.Severity]
			if c == nil {
				c = []int{128, 128, 128}
			}
			pdf.SetTextColor(c[0], c[1], c[2])
			pdf.CellFormat(widths[3], 7, titleCase(r.Severity.String()), "1", 0, "C", fill, 0, "")
			pdf.SetTextColor(60, 60, 60)

			pdf.CellFormat(widths[4], 7, tr(truncate(r.Payload, pdfMaxPayload)), "1", 0, "L", fill, 0, "")
			pdf.CellFormat(widths[5], 7, tr(truncate(r.Finding, pdfMaxFinding)), "1", 1, "L", fill, 0, "")
		}
	}

	if len(s.ResponseCodes) > 0 {
		pdfSubsection(pdf, "Response Code Distribution")
		codes := make([]int, 0, len(s.ResponseCodes))
		for code := range s.ResponseCodes {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		rows := make([][2]string, 0, len(codes))
		for _, code := range codes {
			rows = append(rows, [2]string{strconv.Itoa(code), strconv.Itoa(s.ResponseCodes[code])})
		}
		pdfKeyValueTable(pdf, [2]string{"Response Code", "Count"}, rows)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
