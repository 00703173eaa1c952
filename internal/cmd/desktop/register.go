package desktop

import "github.com/spf13/cobra"

// version is reported by serve-mcp during the MCP handshake.
var version = "dev"

// Register adds the session commands to the given parent command.
func Register(parent *cobra.Command, v string) {
	if v != "" {
		version = v
	}
	RegisterLaunchCmd(parent)
	RegisterServeMCPCmd(parent)
}
