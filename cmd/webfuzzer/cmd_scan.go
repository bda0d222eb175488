package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/waftester/webfuzzer/pkg/config"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/engine"
	"github.com/waftester/webfuzzer/pkg/report"
	"github.com/waftester/webfuzzer/pkg/ui"
)

const scanUsage = "webfuzzer scan -u URL [-w wordlist] [-dataset file] [-model file] [-report text|json|pdf] [-o path]"

// runScan fuzzes one target in the foreground. Live results and the summary
// go to stderr; the report goes to -o or stdout. An interrupt stops the run
// and still writes the report for what was collected.
func runScan(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var noColor bool
	cfg, err := parseConfig("scan", args, stderr, func(fs *flag.FlagSet) {
		fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	})
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return exitWithUsage(stderr, err.Error(), scanUsage)
	}
	if err := cfg.RequireTarget(); err != nil {
		return exitWithUsage(stderr, err.Error(), scanUsage)
	}

	logger := newLogger(stderr, cfg.Verbose)
	printer := ui.NewPrinter(stderr, noColor)

	a, err := newApp(ctx, cfg, logger, printer.Result)
	if err != nil {
		return exitWithError(stderr, "%v", err)
	}
	defer a.close(ctx)

	payloads := a.words.Payloads(cfg.Wordlist)
	printer.Banner(defaults.ToolName, defaults.Version, scanSettings(cfg, len(payloads), a.scorer != nil))

	if err := a.engine.Start(cfg.Target, payloads); err != nil {
		return exitWithError(stderr, "%v", err)
	}

	done := make(chan struct{})
	go func() {
		a.engine.Wait()
		close(done)
	}()

	interrupted := false
	select {
	case <-done:
	case <-ctx.Done():
		interrupted = true
		printer.Line("interrupted, stopping scan")
		if err := a.engine.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			logger.Warn("stop failed", slog.String("error", err.Error()))
		}
	}

	status := a.engine.Status()
	summary := report.Summarize(a.engine.Results(), report.Options{
		Target:     cfg.Target,
		StartedAt:  status.StartedAt,
		FinishedAt: status.FinishedAt,
	})
	printer.Summary(summary)

	if err := writeReport(stdout, cfg.Report, summary); err != nil {
		return exitWithError(stderr, "writing report: %v", err)
	}
	if cfg.Report.Output != "" {
		printer.Line("%s report written to %s", cfg.Report.Format, cfg.Report.Output)
	}
	if interrupted {
		return 130
	}
	return 0
}

func scanSettings(cfg *config.Config, payloads int, scoring bool) [][2]string {
	settings := [][2]string{
		{"Target", cfg.Target},
		{"Payloads", strconv.Itoa(payloads)},
		{"Timeout", cfg.Probe.Timeout.String()},
	}
	if cfg.Wordlist != "" {
		settings = append(settings, [2]string{"Wordlist", cfg.Wordlist})
	}
	if cfg.Probe.RateLimit > 0 {
		settings = append(settings, [2]string{"Rate limit", fmt.Sprintf("%g req/s", cfg.Probe.RateLimit)})
	}
	if cfg.Probe.Proxy != "" {
		settings = append(settings, [2]string{"Proxy", cfg.Probe.Proxy})
	}
	if cfg.DatasetPath != "" {
		settings = append(settings, [2]string{"Dataset", cfg.DatasetPath})
	}
	if scoring {
		settings = append(settings, [2]string{"Model", cfg.ModelPath})
	}
	return settings
}

// writeReport writes the summary to rc.Output, or to stdout when no output
// file is set.
func writeReport(stdout io.Writer, rc config.ReportConfig, s *report.Summary) error {
	if rc.Output == "" {
		return report.Write(stdout, rc.Format, s)
	}
	f, err := os.Create(rc.Output)
	if err != nil {
		return err
	}
	if err := report.Write(f, rc.Format, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
