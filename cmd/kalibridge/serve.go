package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/kalibridge/adapter/lines"
	"github.com/jonwraymond/kalibridge/kalitypes"
	"github.com/jonwraymond/kalibridge/obslog"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the line-JSON ToolRequest/Event protocol on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := loadPolicy()
		if err != nil {
			return err
		}
		s := &lines.Server{
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
	rootCmd.AddCommand(serveCmd)
}

// obsWriter returns the observability stream writer for a framing
// adapter's Obs field: w when the policy enables it, an untyped nil
// (discarded downstream by obsSinkFor) otherwise. Returning io.Writer
// rather than a concrete pointer type matters here: a nil *os.File
// boxed in an io.Writer is a non-nil interface value.
func obsWriter(policy kalitypes.Policy, w io.Writer) io.Writer {
	if !policy.ObservabilityEnabled {
		return nil
	}
	return w
}
