// Package mcpserver exposes the session lifecycle as MCP tools over stdio so
// an assistant can launch, inspect and tear down a cloud desktop.
package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/event"
	"github.com/Iron-Ham/flashdesk/internal/logging"
	"github.com/Iron-Ham/flashdesk/internal/orchestrator"
	"github.com/Iron-Ham/flashdesk/internal/session"
	"github.com/Iron-Ham/flashdesk/internal/util"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Tool names.
const (
	ToolLaunch      = "desktop_launch"
	ToolStatus      = "desktop_status"
	ToolWait        = "desktop_wait"
	ToolTerminate   = "desktop_terminate"
	ToolAcknowledge = "desktop_acknowledge"
)

const (
	defaultWaitSeconds = 300
	maxWaitSeconds     = 1800
)

// Controller is the part of the orchestrator the tools drive.
type Controller interface {
	Snapshot() session.Snapshot
	Launch(req orchestrator.LaunchRequest) error
	Terminate() error
	Acknowledge() error
	AddressURL(address string) string
}

// Server serves the desktop tools.
type Server struct {
	ctrl   Controller
	bus    *event.Bus
	mcp    *server.MCPServer
	logger *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Logs must not go to stdout, which carries the
// MCP transport.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server and registers its tools.
func New(ctrl Controller, bus *event.Bus, version string, opts ...Option) *Server {
	if ctrl == nil {
		panic("mcpserver: controller must not be nil")
	}
	if bus == nil {
		panic("mcpserver: bus must not be nil")
	}
	s := &Server{ctrl: ctrl, bus: bus}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NopLogger()
	}
	s.logger = s.logger.WithComponent("mcp")

	s.mcp = server.NewMCPServer(
		"flashdesk",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves the tools on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	s.logger.Info("serving MCP over stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolLaunch,
		mcp.WithDescription("Launch a cloud desktop. Returns once the launch is accepted; use desktop_wait to block until it is ready."),
		mcp.WithString("resource_class",
			mcp.Required(),
			mcp.Description("Instance class, for example t2.medium"),
		),
		mcp.WithString("image",
			mcp.Required(),
			mcp.Description("Desktop image, for example chrome"),
		),
		mcp.WithString("secret",
			mcp.Required(),
			mcp.Description("Password for the desktop session"),
		),
	), s.handleLaunch)

	s.mcp.AddTool(mcp.NewTool(ToolStatus,
		mcp.WithDescription("Report the current desktop session state, URL and remaining time"),
	), s.handleStatus)

	s.mcp.AddTool(mcp.NewTool(ToolWait,
		mcp.WithDescription("Wait until the desktop session is ready or has settled"),
		mcp.WithNumber("timeout_seconds",
			mcp.Description("Maximum time to wait (default 300)"),
		),
	), s.handleWait)

	s.mcp.AddTool(mcp.NewTool(ToolTerminate,
		mcp.WithDescription("Terminate the desktop session's resource"),
	), s.handleTerminate)

	s.mcp.AddTool(mcp.NewTool(ToolAcknowledge,
		mcp.WithDescription("Clear a failed session so a new one can be launched"),
	), s.handleAcknowledge)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) handleLaunch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	class, err := req.RequireString("resource_class")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	image, err := req.RequireString("image")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	secret, err := req.RequireString("secret")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("launch requested", "resource_class", class, "image", image)
	if err := s.ctrl.Launch(orchestrator.LaunchRequest{
		ResourceClass: class,
		Image:         image,
		Secret:        session.NewSecret(secret),
	}); err != nil {
		return s.rejected(ToolLaunch, err), nil
	}
	return s.statusResult(s.ctrl.Snapshot())
}

func (s *Server) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.statusResult(s.ctrl.Snapshot())
}

func (s *Server) handleWait(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seconds := req.GetInt("timeout_seconds", defaultWaitSeconds)
	if seconds <= 0 || seconds > maxWaitSeconds {
		seconds = defaultWaitSeconds
	}

	snap, ok := s.waitSettled(ctx, time.Duration(seconds)*time.Second)
	if !ok {
		s.logger.Debug("wait timed out", "state", snap.State.String())
	}
	return s.statusResult(snap)
}

func (s *Server) handleTerminate(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.ctrl.Terminate(); err != nil {
		return s.rejected(ToolTerminate, err), nil
	}
	return s.statusResult(s.ctrl.Snapshot())
}

func (s *Server) handleAcknowledge(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.ctrl.Acknowledge(); err != nil {
		return s.rejected(ToolAcknowledge, err), nil
	}
	return s.statusResult(s.ctrl.Snapshot())
}

// rejected logs a refused request at its error severity and reports it to
// the client.
func (s *Server) rejected(tool string, err error) *mcp.CallToolResult {
	if errors.GetSeverity(err) >= errors.SeverityError {
		s.logger.Error("tool request failed", "tool", tool, "error", err.Error())
	} else {
		s.logger.Warn("tool request rejected", "tool", tool, "error", err.Error())
	}
	return mcp.NewToolResultError(err.Error())
}

// waitSettled blocks until no gateway call or readiness wait is outstanding,
// or until ctx ends or timeout elapses. It returns the latest snapshot and
// whether the session settled.
func (s *Server) waitSettled(ctx context.Context, timeout time.Duration) (session.Snapshot, bool) {
	changed := make(chan struct{}, 1)
	id := s.bus.Subscribe(event.TypeSessionChanged, func(event.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer s.bus.Unsubscribe(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		snap := s.ctrl.Snapshot()
		if !snap.State.Busy() {
			return snap, true
		}
		select {
		case <-changed:
		case <-timer.C:
			return s.ctrl.Snapshot(), false
		case <-ctx.Done():
			return s.ctrl.Snapshot(), false
		}
	}
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

// StatusView is the JSON body every tool returns on success.
type StatusView struct {
	State            string `json:"state"`
	Status           string `json:"status"`
	URL              string `json:"url,omitempty"`
	RemainingSeconds *int   `json:"remaining_seconds,omitempty"`
	Remaining        string `json:"remaining,omitempty"`
	ResourceID       string `json:"resource_id,omitempty"`
	ResourceClass    string `json:"resource_class,omitempty"`
	Image            string `json:"image,omitempty"`
	Error            string `json:"error,omitempty"`
}

func (s *Server) view(snap session.Snapshot) StatusView {
	v := StatusView{
		State:            snap.State.String(),
		Status:           snap.Status,
		RemainingSeconds: snap.RemainingSeconds,
		ResourceID:       snap.ResourceID,
		ResourceClass:    snap.ResourceClass,
		Image:            snap.Image,
		Error:            snap.Error,
	}
	if snap.Address != "" {
		v.URL = s.ctrl.AddressURL(snap.Address)
	}
	if remaining, ok := snap.Remaining(); ok {
		v.Remaining = util.FormatRemaining(remaining)
	}
	return v
}

func (s *Server) statusResult(snap session.Snapshot) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(s.view(snap))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
