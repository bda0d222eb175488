package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/waftester/webfuzzer/pkg/analyzer"
	"github.com/waftester/webfuzzer/pkg/config"
	"github.com/waftester/webfuzzer/pkg/dataset"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/engine"
	"github.com/waftester/webfuzzer/pkg/finding"
	"github.com/waftester/webfuzzer/pkg/httpclient"
	"github.com/waftester/webfuzzer/pkg/metrics"
	"github.com/waftester/webfuzzer/pkg/probe"
	"github.com/waftester/webfuzzer/pkg/scoring"
	"github.com/waftester/webfuzzer/pkg/tracing"
	"github.com/waftester/webfuzzer/pkg/wordlist"
)

// app holds everything a subcommand needs once flags are parsed.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	tracing *tracing.Provider
	scorer  scoring.Capability
	words   *wordlist.Manager
	engine  *engine.Engine
}

// parseConfig loads file and environment settings, then applies the flags
// in args. extra registers command-specific flags on the same set.
func parseConfig(name string, args []string, stderr io.Writer, extra func(*flag.FlagSet)) (*config.Config, error) {
	configPath, envPath := config.PreScan(args)
	cfg, err := config.Load(config.LoadOptions{ConfigPath: configPath, EnvPath: envPath})
	if err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.BindFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected argument %q", config.ErrInvalidConfig, fs.Arg(0))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// newApp wires the engine and its collaborators from cfg. onResult, when
// set, receives every result as it is recorded.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, onResult func(finding.Result)) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		m, err := metrics.New()
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.metrics = m
	}

	tp, err := tracing.Setup(ctx, tracing.Options{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: defaults.ToolName,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	a.tracing = tp

	if cfg.ModelPath != "" {
		model, err := scoring.Load(cfg.ModelPath)
		switch {
		case errors.Is(err, scoring.ErrModelNotFound):
			logger.Warn("scoring model not found, continuing without scores",
				slog.String("path", cfg.ModelPath))
		case err != nil:
			a.close(ctx)
			return nil, err
		default:
			a.scorer = model
			logger.Info("scoring model loaded", slog.String("path", cfg.ModelPath))
		}
	}

	client, err := httpclient.New(cfg.HTTPClient())
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	dispatcher, err := probe.New(
		probe.WithClient(client),
		probe.WithAnalyzer(analyzer.New(a.scorer, analyzer.WithLogger(logger))),
		probe.WithRateLimit(cfg.Probe.RateLimit),
		probe.WithDelay(cfg.Probe.Delay),
		probe.WithLogger(logger),
		probe.WithTracer(tp.Tracer()),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	var rec dataset.Recorder
	if cfg.DatasetPath != "" {
		csv, err := dataset.NewCSVRecorder(cfg.DatasetPath)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		rec = csv
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(a.metrics),
		engine.WithTracer(tp.Tracer()),
	}
	if onResult != nil {
		opts = append(opts, engine.WithOnResult(onResult))
	}
	a.engine = engine.New(dispatcher, rec, opts...)
	a.words = wordlist.NewManager(&wordlist.Config{Logger: logger})
	return a, nil
}

// close flushes traces. It is safe on a partially built app.
func (a *app) close(ctx context.Context) {
	if a.tracing == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaults.ShutdownTimeout)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("trace shutdown failed", slog.String("error", err.Error()))
	}
}
