package ui

import (
	"io"
	"os"
	"runtime"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// fder is implemented by *os.File.
type fder interface {
	Fd() uintptr
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(fder)
	return ok && term.IsTerminal(int(f.Fd()))
}

// UnicodeTerminal reports whether w can render Unicode glyphs. Returns
// false when output is piped, TERM is "dumb", or on Windows outside
// Windows Terminal.
func UnicodeTerminal(w io.Writer) bool {
	if os.Getenv("TERM") == "dumb" || !IsTerminal(w) {
		return false
	}
	if runtime.GOOS == "windows" {
		return os.Getenv("WT_SESSION") != ""
	}
	return true
}

// ColorProfile picks the color profile for w. NO_COLOR and non-terminals get
// plain ASCII.
func ColorProfile(w io.Writer, noColor bool) termenv.Profile {
	if noColor || os.Getenv("NO_COLOR") != "" || !IsTerminal(w) {
		return termenv.Ascii
	}
	return termenv.NewOutput(w).EnvColorProfile()
}
