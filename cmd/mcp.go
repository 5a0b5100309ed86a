package cmd

import (
	"github.com/spf13/cobra"

	"github.com/linphage/Arzu-Simulater-test-sub001/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client start and end sessions and focus periods, and
read focus and habit statistics. Configure the client with:

  {
    "mcpServers": {
      "arzu": { "command": "arzu", "args": ["mcp"] }
    }
  }

Available tools: arzu_start_session, arzu_end_session, arzu_active_session,
arzu_start_period, arzu_end_period, arzu_list_periods, arzu_session_stats,
arzu_focus_stats, arzu_habit_stats, arzu_sweep`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		// Logs must stay off stdout, which carries the protocol.
		return mcp.NewServer(a.engine, a.stats, a.reconciler).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
