package desktop

import (
	"context"

	"github.com/Iron-Ham/flashdesk/internal/config"
	"github.com/Iron-Ham/flashdesk/internal/errors"
	"github.com/Iron-Ham/flashdesk/internal/mcpserver"
	"github.com/spf13/cobra"
)

var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Serve the desktop session as MCP tools over stdio",
	Long: `Serve the desktop session as MCP tools over stdio.

An MCP client (such as an AI assistant) can then launch a desktop, wait for
it to be ready, read its URL and countdown, and terminate it. The desktop is
torn down when the client disconnects.

Stdout carries the protocol, so logs only go to the log file.`,
	Args: cobra.NoArgs,
	RunE: runServeMCP,
}

var serveMCPOpenBrowser bool

// RegisterServeMCPCmd registers the serve-mcp command with the given parent command.
func RegisterServeMCPCmd(parent *cobra.Command) {
	parent.AddCommand(serveMCPCmd)

	serveMCPCmd.Flags().BoolVar(&serveMCPOpenBrowser, "open-browser", false, "Open the desktop URL locally when it is ready")
}

func runServeMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	logger := CreateLogger(cfg)
	defer logger.Close()

	var runtimeOpts []RuntimeOption
	if serveMCPOpenBrowser {
		runtimeOpts = append(runtimeOpts, WithOpener(BrowserOpener{}))
	}
	rt, err := NewRuntime(cfg, logger, runtimeOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx)
	watchConfig(rt, logger)

	srv := mcpserver.New(rt.Orchestrator, rt.Bus, version, mcpserver.WithLogger(logger))
	err = srv.ServeStdio()

	cancel()
	<-rt.Orchestrator.Done()
	return err
}
