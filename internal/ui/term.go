package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// IsInteractive reports whether f is a terminal the live view can draw on
func IsInteractive(f *os.File) bool {
	if f == nil || os.Getenv("CI") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or fallback when it is not a terminal
func Width(f *os.File, fallback int) int {
	if f == nil {
		return fallback
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// PromptSecret asks for a value without echoing it, such as an API key
func PromptSecret(in *os.File, out io.Writer, label string) (string, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return "", fmt.Errorf("cannot prompt for %s: stdin is not a terminal", label)
	}
	fmt.Fprintf(out, "%s: ", label)
	b, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	return strings.TrimSpace(string(b)), nil
}
