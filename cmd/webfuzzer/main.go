// Command webfuzzer fuzzes a web endpoint with payload lists, classifies the
// responses and records them to a CSV dataset. It runs scans in the
// foreground, serves the HTTP control plane or speaks MCP over stdio.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/waftester/webfuzzer/pkg/defaults"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	switch args[0] {
	case "scan", "fuzz":
		return runScan(ctx, args[1:], stdout, stderr)
	case "serve", "server":
		return runServe(ctx, args[1:], stdout, stderr)
	case "mcp":
		return runMCP(ctx, args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "%s %s\n", defaults.ToolName, defaults.Version)
		return 0
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%s %s - web endpoint fuzzer\n\n", defaults.ToolName, defaults.Version)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s <command> [flags]\n\n", defaults.ToolName)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  scan      Fuzz a target in the foreground and print a report")
	fmt.Fprintln(w, "  serve     Start the HTTP control plane (and MCP at /mcp)")
	fmt.Fprintln(w, "  mcp       Serve MCP over stdin/stdout")
	fmt.Fprintln(w, "  version   Print the version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s scan -u https://example.com/search -w builtin:xss\n", defaults.ToolName)
	fmt.Fprintf(w, "  %s scan -u https://example.com -report pdf -o report.pdf\n", defaults.ToolName)
	fmt.Fprintf(w, "  %s serve -listen 127.0.0.1:5000\n", defaults.ToolName)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run '%s <command> -h' for command flags.\n", defaults.ToolName)
}

// exitWithError prints a formatted error message and returns exit code 1.
func exitWithError(stderr io.Writer, format string, args ...any) int {
	fmt.Fprintf(stderr, "error: "+format+"\n", args...)
	return 1
}

// exitWithUsage prints an error message followed by a usage hint.
func exitWithUsage(stderr io.Writer, msg, usage string) int {
	fmt.Fprintln(stderr, "error:", msg)
	fmt.Fprintln(stderr)
	fmt.Fprintln(stderr, "Usage:", usage)
	return 2
}
