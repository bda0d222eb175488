package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"

	"github.com/waftester/webfuzzer/pkg/engine"
	"github.com/waftester/webfuzzer/pkg/mcpserver"
)

const mcpUsage = "webfuzzer mcp [-w wordlist] [-dataset file] [-model file]"

// runMCP serves MCP over stdin/stdout. Logs go to stderr so the protocol
// stream stays clean.
func runMCP(ctx context.Context, args []string, _, stderr io.Writer) int {
	cfg, err := parseConfig("mcp", args, stderr, nil)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return exitWithUsage(stderr, err.Error(), mcpUsage)
	}

	logger := newLogger(stderr, cfg.Verbose)
	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return exitWithError(stderr, "%v", err)
	}
	defer a.close(ctx)

	srv, err := mcpserver.New(&mcpserver.Config{
		Engine:      a.engine,
		Words:       a.words,
		Wordlist:    cfg.Wordlist,
		DatasetPath: cfg.DatasetPath,
		Scorer:      a.scorer,
		Logger:      logger,
	})
	if err != nil {
		return exitWithError(stderr, "%v", err)
	}

	err = srv.RunStdio(ctx)
	if stopErr := a.engine.Stop(); stopErr != nil && !errors.Is(stopErr, engine.ErrNotRunning) {
		logger.Warn("stop failed", slog.String("error", stopErr.Error()))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return exitWithError(stderr, "%v", err)
	}
	return 0
}
