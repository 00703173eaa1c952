package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/config"
	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/logging"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View flashdesk logs",
	Long: `View and filter the flashdesk log file.

Logs are written as JSON lines to flashdesk.log in the configured log
directory (logging.dir, by default the config directory).

Examples:
  # Show the last 50 lines
  flashdesk logs

  # Follow logs in real-time
  flashdesk logs -f

  # Only warnings and errors from the last hour
  flashdesk logs --level warn --since 1h

  # Everything that happened to one resource
  flashdesk logs -r i-0a1b2c3d -n 0`,
	RunE: runLogs,
}

var (
	logsTail     int
	logsFollow   bool
	logsLevel    string
	logsSince    string
	logsGrep     string
	logsResource string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVarP(&logsResource, "resource", "r", "", "Only show entries for this resource ID")
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Msg        string         `json:"msg"`
	Component  string         `json:"component,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	State      string         `json:"state,omitempty"`
	Extra      map[string]any `json:"-"`
}

// UnmarshalJSON captures fields other than the known ones in Extra.
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type Alias logEntry
	aux := &struct {
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"time", "level", "msg", "component", "resource_id", "state"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter holds the criteria an entry must meet to be shown.
type logFilter struct {
	minLevel int
	since    time.Time
	grep     *regexp.Regexp
	resource string
}

// needsFields reports whether the filter can only be decided on a parsed entry.
func (f logFilter) needsFields() bool {
	return f.minLevel >= 0 || !f.since.IsZero() || f.resource != ""
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

// levelColor returns the ANSI color code for a log level
func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

// levelPriority returns the priority of a log level for filtering
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

func writeField(sb *strings.Builder, key, value string) {
	sb.WriteString(" ")
	sb.WriteString(colorCyan)
	sb.WriteString(key)
	sb.WriteString("=")
	sb.WriteString(colorReset)
	sb.WriteString(value)
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry *logEntry) string {
	var sb strings.Builder

	sb.WriteString(colorGray)
	sb.WriteString("[")
	sb.WriteString(entry.Time.Format("15:04:05.000"))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	sb.WriteString(" ")
	sb.WriteString(levelColor(entry.Level))
	sb.WriteString("[")
	sb.WriteString(strings.ToUpper(entry.Level))
	sb.WriteString("]")
	sb.WriteString(colorReset)

	if entry.Component != "" {
		sb.WriteString(" (")
		sb.WriteString(entry.Component)
		sb.WriteString(")")
	}

	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	if entry.ResourceID != "" {
		writeField(&sb, "resource_id", entry.ResourceID)
	}
	if entry.State != "" {
		writeField(&sb, "state", entry.State)
	}

	// Sorted so output is stable between runs
	keys := make([]string, 0, len(entry.Extra))
	for k := range entry.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeField(&sb, k, fmt.Sprintf("%v", entry.Extra[k]))
	}

	return sb.String()
}

// logFilePath returns where the log file lives, even when file logging is
// currently disabled.
func logFilePath(cfg *config.Config) string {
	dir := cfg.Logging.Dir
	if dir == "" {
		dir = config.ConfigDir()
	}
	return filepath.Join(dir, logging.FileName)
}

func buildLogFilter(level, since, grep, resource string, now time.Time) (logFilter, error) {
	f := logFilter{minLevel: -1, resource: resource}
	if level != "" {
		f.minLevel = levelPriority(logging.ParseLevel(level))
	}
	if since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.since = now.Add(-d)
	}
	if grep != "" {
		re, err := regexp.Compile(grep)
		if err != nil {
			return f, fmt.Errorf("invalid grep pattern: %w", err)
		}
		f.grep = re
	}
	return f, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logPath := logFilePath(cfg)
	out := cmd.OutOrStdout()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintln(out, "No logs found.")
		fmt.Fprintln(out, "Logs are stored at:", logPath)
		if !cfg.Logging.Enabled {
			fmt.Fprintln(out, "File logging is disabled; set logging.enabled to true to record logs.")
		}
		return nil
	}

	filter, err := buildLogFilter(logsLevel, logsSince, logsGrep, logsResource, time.Now())
	if err != nil {
		return err
	}

	file, err := os.Open(logPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open log file %s", logPath)
	}
	defer file.Close()

	if logsFollow {
		if _, err := file.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("failed to seek to end: %w", err)
		}
		fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")
		return followLogs(cmd.Context(), file, out, filter)
	}
	return displayLogs(file, out, logsTail, filter)
}

// displayLogs reads r and writes the last tail matching entries to out.
func displayLogs(r io.Reader, out io.Writer, tail int, filter logFilter) error {
	var entries []string
	scanner := bufio.NewScanner(r)

	// Increase buffer size for potentially long log lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if line, ok := renderLine(scanner.Text(), filter); ok {
			entries = append(entries, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}
	for _, entry := range entries {
		fmt.Fprintln(out, entry)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs implements tail -f behavior until ctx is cancelled.
func followLogs(ctx context.Context, r io.Reader, out io.Writer, filter logFilter) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reader := bufio.NewReader(r)
	var pending string
	for {
		chunk, err := reader.ReadString('\n')
		pending += chunk
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("error reading log file: %w", err)
			}
			// No new data, wait briefly and try again
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if line, ok := renderLine(pending, filter); ok {
			fmt.Fprintln(out, line)
		}
		pending = ""
	}
}

// renderLine formats one raw log line, reporting false when it is blank or
// filtered out. Lines that are not JSON are shown unchanged unless a level,
// time or resource filter is set; grep is matched against the raw text.
func renderLine(line string, filter logFilter) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		if filter.needsFields() {
			return "", false
		}
		if filter.grep != nil && !filter.grep.MatchString(line) {
			return "", false
		}
		return line, true
	}
	if !passesFilters(&entry, filter) {
		return "", false
	}
	return formatLogEntry(&entry), true
}

// passesFilters checks if a log entry passes all filter criteria
func passesFilters(entry *logEntry, filter logFilter) bool {
	if filter.minLevel >= 0 && levelPriority(entry.Level) < filter.minLevel {
		return false
	}
	if !filter.since.IsZero() && entry.Time.Before(filter.since) {
		return false
	}
	if filter.resource != "" && entry.ResourceID != filter.resource {
		return false
	}

	// Grep searches the message and every field value
	if filter.grep != nil {
		searchText := entry.Msg + " " + entry.Component + " " + entry.ResourceID + " " + entry.State
		for _, v := range entry.Extra {
			searchText += " " + fmt.Sprintf("%v", v)
		}
		if !filter.grep.MatchString(searchText) {
			return false
		}
	}
	return true
}
