package readiness

import (
	"time"

	"github.com/Iron-Ham/flashdesk/internal/logging"
)

const (
	// defaultInnerInterval is how often GetResult is polled for one invocation.
	defaultInnerInterval = time.Second

	// defaultCommandTimeout abandons a single invocation left Pending/InProgress.
	defaultCommandTimeout = 30 * time.Second

	// DefaultMarker is the substring that shows the desktop service is up.
	DefaultMarker = "kasmweb"

	// DefaultDocument is the execution document used for the diagnostic command.
	DefaultDocument = "AWS-RunShellScript"
)

// DefaultCommands is the diagnostic command run inside the resource.
var DefaultCommands = []string{"sudo docker ps"}

// Option configures a Poller.
type Option func(*config)

type config struct {
	commands       []string
	document       string
	marker         string
	innerInterval  time.Duration
	commandTimeout time.Duration
	logger         *logging.Logger
}

// WithCommands sets the diagnostic shell commands.
// An empty list keeps the default.
func WithCommands(commands ...string) Option {
	return func(c *config) {
		if len(commands) > 0 {
			c.commands = append([]string(nil), commands...)
		}
	}
}

// WithDocument sets the backend execution document name.
func WithDocument(doc string) Option {
	return func(c *config) {
		c.document = doc
	}
}

// WithMarker sets the readiness marker searched for in command output.
func WithMarker(marker string) Option {
	return func(c *config) {
		c.marker = marker
	}
}

// WithInnerInterval sets how often a single invocation is polled.
// A zero or negative value is replaced with the default (1s).
func WithInnerInterval(d time.Duration) Option {
	return func(c *config) {
		c.innerInterval = d
	}
}

// WithCommandTimeout caps how long one invocation may stay non-terminal.
// A zero or negative value is replaced with the default (30s).
func WithCommandTimeout(d time.Duration) Option {
	return func(c *config) {
		c.commandTimeout = d
	}
}

// WithLogger sets the logger for the poller.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}
