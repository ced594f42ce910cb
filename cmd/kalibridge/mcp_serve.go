package main

import (
	"context"

	"github.com/spf13/cobra"

	kalimcp "github.com/jonwraymond/kalibridge/adapter/mcp"
	"github.com/jonwraymond/kalibridge/obslog"
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Run a Model Context Protocol server, one tool per allowed command",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := loadPolicy()
		if err != nil {
			return err
		}
		s := &kalimcp.Server{
			Policy: policy,
			Logger: obslog.New(policy.ObservabilityEnabled),
			Obs:    obsWriter(policy, cmd.ErrOrStderr()),
		}
		return s.Serve(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(mcpServeCmd)
}
