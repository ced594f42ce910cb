package main

import (
	"context"

	"github.com/spf13/cobra"

	kaliworkflow "github.com/jonwraymond/kalibridge/adapter/workflow"
	"github.com/jonwraymond/kalibridge/obslog"
)

var workflowServeCmd = &cobra.Command{
	Use:   "workflow-serve",
	Short: "Run the line-JSON WorkflowRequest/Event protocol on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := loadPolicy()
		if err != nil {
			return err
		}
		s := &kaliworkflow.Server{
			Policy: policy,
			In:     cmd.InOrStdin(),
			Out:    cmd.OutOrStdout(),
			Obs:    obsWriter(policy, cmd.ErrOrStderr()),
			Logger: obslog.New(policy.ObservabilityEnabled),
		}
		return s.Serve(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(workflowServeCmd)
}
