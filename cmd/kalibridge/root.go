package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/kalibridge/config"
	"github.com/jonwraymond/kalibridge/kalitypes"
)

// cfgFile is the --config flag shared by every subcommand that loads a
// Policy, mirroring the teacher's single persistent --config flag
// synced once at the root.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kalibridge",
	Short: "Remote execution bridge for allowlisted security tools over SSH",
	Long: `kalibridge dispatches structured requests to run allowlisted
security tools (nmap, nikto, sqlmap) on a remote host over SSH, through
a validated-execution engine with bounded retries, dual timeout
ceilings, and a line-delimited JSON event stream.

Framing adapters:
  serve           line-JSON ToolRequest/Event protocol on stdio
  mcp-serve       Model Context Protocol server, one tool per allowed command
  workflow-serve  line-JSON WorkflowRequest/Event protocol on stdio

Single-shot:
  run             run one attempt and exit with a status reflecting its outcome
  print-schema    print the JSON schema of ToolRequest and WorkflowRequest`,
	SilenceUsage: true,
}

// Execute runs the root command, exiting the process with status 1 on
// any error other than one of run's own explicit os.Exit calls.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "policy config file (JSON); defaults to the built-in secure policy")
}

// loadPolicy loads the Policy named by the --config flag, or the
// built-in default if unset.
func loadPolicy() (kalitypes.Policy, error) {
	return config.Load(cfgFile)
}
