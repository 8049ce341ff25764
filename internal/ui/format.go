package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/lance13c/casepilot/internal/types"
)

// Summary describes a finished case in one line
func Summary(c types.Case) string {
	counts := c.Counts()
	parts := []string{fmt.Sprintf("%d passed", counts[types.StepSuccess])}
	if n := counts[types.StepFailed]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	if n := counts[types.StepSkipped]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", n))
	}
	if n := counts[types.StepPending]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d not run", n))
	}
	line := fmt.Sprintf("%s: %s", c.Status, strings.Join(parts, ", "))
	if d := c.Duration(); d > 0 {
		line += " in " + FormatDuration(d)
	}
	return line
}

// FormatDuration renders short durations in ms and longer ones in seconds
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0ms"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}

// stepLabel is "[n/total] description"
func stepLabel(s types.Step, total int) string {
	return fmt.Sprintf("[%d/%d] %s", s.Index+1, total, s.Description)
}

// truncate clips s to width runes, marking the cut with an ellipsis
func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

// firstLine returns the first line of a possibly multi-line message
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
