// Package ui provides terminal styling and output helpers for the fleet CLI.
package ui

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether stdout is connected to a TTY.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor honors the NO_COLOR / CLICOLOR conventions, then falls back
// to TTY detection so piped output stays machine-readable.
func ShouldUseColor() bool {
	if termenv.EnvNoColor() {
		return false
	}
	return IsTerminal()
}

// Width returns the terminal width, or 80 when stdout is not a terminal.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
