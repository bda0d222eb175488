package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/waftester/webfuzzer/pkg/api"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/engine"
	"github.com/waftester/webfuzzer/pkg/mcpserver"
)

const serveUsage = "webfuzzer serve [-listen addr] [-w wordlist] [-dataset file] [-model file]"

// runServe starts the HTTP control plane until ctx is cancelled, then stops
// any running scan and drains in-flight requests.
func runServe(ctx context.Context, args []string, _, stderr io.Writer) int {
	cfg, err := parseConfig("serve", args, stderr, nil)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return exitWithUsage(stderr, err.Error(), serveUsage)
	}

	logger := newLogger(stderr, cfg.Verbose)
	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return exitWithError(stderr, "%v", err)
	}
	defer a.close(ctx)

	handler, err := a.serveHandler()
	if err != nil {
		return exitWithError(stderr, "%v", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return exitWithError(stderr, "listen on %s: %v", cfg.ListenAddr, err)
	}

	if err := serve(ctx, ln, handler, logger); err != nil {
		return exitWithError(stderr, "%v", err)
	}
	if err := a.engine.Stop(); err != nil && !errors.Is(err, engine.ErrNotRunning) {
		logger.Warn("stop failed", slog.String("error", err.Error()))
	}
	return 0
}

// serveHandler mounts the control plane at / and the MCP streamable
// transport at /mcp, sharing one engine.
func (a *app) serveHandler() (http.Handler, error) {
	srv := api.New(a.engine,
		api.WithLogger(a.logger),
		api.WithWordlist(a.words, a.cfg.Wordlist),
		api.WithDatasetPath(a.cfg.DatasetPath),
		api.WithScorer(a.scorer),
		api.WithMetrics(a.metrics),
	)
	mcpSrv, err := mcpserver.New(&mcpserver.Config{
		Engine:      a.engine,
		Words:       a.words,
		Wordlist:    a.cfg.Wordlist,
		DatasetPath: a.cfg.DatasetPath,
		Scorer:      a.scorer,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpSrv.HTTPHandler())
	mux.Handle("/", srv.Handler())
	return mux, nil
}

// serve runs an http.Server on ln until ctx is done, then shuts it down
// within defaults.ShutdownTimeout.
func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: MCP streams are long-lived.
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaults.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down control plane")
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	logger.Info("control plane listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("mcp", "/mcp"))

	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-shutdownDone
	return nil
}
