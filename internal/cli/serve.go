package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newServeCommand is a thin stub: the HTTP/Telegram/MCP collaborator that
// actually serves requests is an out-of-scope external process (spec §1);
// this subcommand only exists so the operator-facing command surface
// matches spec §6 exactly. A real deployment wires its own binary here.
func newServeCommand(projectDir, logLevel *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/MCP collaborator (out of scope for this binary)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("serve: the HTTP/MCP surface is an external collaborator (spec §1); this binary only runs loops and the doctor sweep, point it at %s", addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address the external HTTP collaborator would bind")
	return cmd
}

// newMCPCommand mirrors serve: the MCP server is the same out-of-scope
// external collaborator, just over stdio/a different transport.
func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server (out of scope for this binary)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("mcp: the MCP server is an external collaborator (spec §1), not part of this binary")
		},
	}
}
