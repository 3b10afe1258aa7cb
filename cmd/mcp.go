package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hunchbank/supportd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets agent clients work the review queue natively. Configure with:

  {
    "mcpServers": {
      "supportd": { "command": "supportd", "args": ["mcp"] }
    }
  }

Available tools: support_list_reviews, support_get_review,
support_accept_review, support_reject_review, support_modify_review,
support_review_stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, st, err := newSystem()
		if err != nil {
			return err
		}
		return mcp.NewServer(sys, st).ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
