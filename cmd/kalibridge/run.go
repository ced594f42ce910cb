package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/kalibridge/attempt"
	"github.com/jonwraymond/kalibridge/engine"
	"github.com/jonwraymond/kalibridge/event"
	"github.com/jonwraymond/kalibridge/kalitypes"
	"github.com/jonwraymond/kalibridge/validate"
)

// exit codes for run, per spec §6.
const (
	exitOK              = 0
	exitToolFailed      = 1
	exitValidationError = 2
	exitTimeout         = 3
	exitTransportError  = 4
)

var runFlags struct {
	host           string
	user           string
	tool           string
	args           []string
	timeoutSec     int
	maxOutputBytes int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one attempt and exit with a status reflecting its outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd)
	},
}

func init() {
	runCmd.Flags().StringVar(&runFlags.host, "host", "", "remote host")
	runCmd.Flags().StringVar(&runFlags.user, "user", "", "SSH username")
	runCmd.Flags().StringVar(&runFlags.tool, "tool", "", "allowlisted tool to run")
	runCmd.Flags().StringArrayVar(&runFlags.args, "args", nil, "tool argument, repeatable")
	runCmd.Flags().IntVar(&runFlags.timeoutSec, "timeout-sec", 0, "per-attempt timeout in seconds")
	runCmd.Flags().IntVar(&runFlags.maxOutputBytes, "max-output-bytes", 0, "optional output byte cap, clamped to policy")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command) error {
	policy, err := loadPolicy()
	if err != nil {
		return err
	}

	req := kalitypes.ToolRequest{
		Host:           runFlags.host,
		User:           runFlags.user,
		Tool:           runFlags.tool,
		Args:           runFlags.args,
		TimeoutSec:     runFlags.timeoutSec,
		MaxOutputBytes: runFlags.maxOutputBytes,
	}

	sink := event.NewLineWriter(cmd.OutOrStdout())

	plan, verr := validate.Validate(req, policy)
	if verr != nil {
		sink.Emit(event.Envelope{
			Event:   event.TagError,
			Payload: map[string]any{"kind": "validation", "detail": verr.Error()},
		})
		os.Exit(exitValidationError)
	}

	eng := engine.New(policy)
	ctrl := attempt.New(eng, policy)
	obsSink := obsSinkFor(policy, cmd.ErrOrStderr())

	outcome, err := ctrl.Run(context.Background(), plan, sink, obsSink)
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case kalitypes.OutcomeSucceeded:
		os.Exit(exitOK)
	case kalitypes.OutcomeFailedExit:
		os.Exit(exitToolFailed)
	case kalitypes.OutcomeTimedOut:
		os.Exit(exitTimeout)
	case kalitypes.OutcomeTransportError:
		os.Exit(exitTransportError)
	default:
		os.Exit(exitValidationError)
	}
	return nil
}

// obsSinkFor returns a LineWriter over w when the policy has
// observability enabled, or event.Discard otherwise, per spec §4.1.
func obsSinkFor(policy kalitypes.Policy, w io.Writer) event.Sink {
	if !policy.ObservabilityEnabled {
		return event.Discard
	}
	return event.NewLineWriter(w)
}
