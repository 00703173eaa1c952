// Package util provides formatting helpers shared by the CLI, the dashboard
// and the MCP server.
package util

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// FormatRemaining renders a countdown as mm:ss. Minutes are not wrapped
// into hours, so 3600 renders as "60:00". Negative values render as "00:00".
func FormatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// TruncateANSI truncates a string to maxWidth visual columns, adding "..." if truncated.
// Escape sequences and wide characters are accounted for, so styled
// status messages can be fitted to the terminal.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate includes the tail in the final width calculation
	return ansi.Truncate(s, maxWidth, "...")
}

// FirstLine returns s up to its first newline. Backend error messages can
// span several lines; the dashboard shows only the first.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r")
	}
	return s
}
