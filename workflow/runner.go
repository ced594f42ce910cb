// Package workflow implements the WorkflowRunner (spec §4.6): it
// sequences a WorkflowRequest's steps through an AttemptController,
// inheriting host/user across steps and applying stop_on_error
// semantics. Grounded in the teacher's runtime.go dispatch idiom
// (Runtime.Execute routes a request to the right Backend and wraps the
// call with lifecycle logging), adapted here from single-request
// routing to sequential multi-step iteration.
package workflow

import (
	"context"

	"github.com/jonwraymond/kalibridge/event"
	"github.com/jonwraymond/kalibridge/kalitypes"
	"github.com/jonwraymond/kalibridge/validate"
)

// Attempter is the subset of attempt.Controller that Runner depends
// on, letting tests substitute a fake without importing package
// attempt or package engine.
type Attempter interface {
	Run(ctx context.Context, plan kalitypes.ExecutionPlan, sink, obsSink event.Sink) (kalitypes.AttemptOutcome, error)
}

// Runner sequences a WorkflowRequest's steps through Attempter.
type Runner struct {
	Attempter Attempter
	Policy    kalitypes.Policy
}

// New returns a Runner wrapping attempter under policy.
func New(attempter Attempter, policy kalitypes.Policy) *Runner {
	return &Runner{Attempter: attempter, Policy: policy}
}

// StepResult pairs a completed step's 1-based index with its outcome.
type StepResult struct {
	Index   int
	Outcome kalitypes.AttemptOutcome
	Err     error
}

// stepFailedKind reports the outcome kinds that spec §4.6 classifies
// as step_failed rather than step_finished: TimedOut, TransportError,
// and ValidationError. A clean success or a nonzero tool exit
// (FailedExit) is "success-ish" and reported as step_finished, so the
// agent distinguishes infrastructure failure from tool-level failure
// the same way it does for a single attempt (spec §7).
func stepFailedKind(k kalitypes.OutcomeKind) bool {
	switch k {
	case kalitypes.OutcomeTimedOut, kalitypes.OutcomeTransportError, kalitypes.OutcomeValidationError:
		return true
	default:
		return false
	}
}

// Run executes req's steps in order, emitting workflow_started,
// step_started/step_finished/step_failed per step, and exactly one
// workflow_finished. Each step inherits req.Host/req.User. sink
// receives all workflow- and step-level protocol events; obsSink is
// forwarded to the Attempter for its own observability events
// (attempt_started/attempt_finished/retry_scheduled), keeping the two
// channels distinct all the way down. If req.StopOnError is true, the
// first step whose outcome is not Succeeded stops the sequence;
// remaining steps are not started.
//
// Contract:
//   - Concurrency: Run is synchronous; steps never run concurrently
//     with each other, since later steps may depend on earlier ones'
//     side effects on the remote host.
//   - Context: ctx bounds the whole workflow; it is checked before each
//     step starts, and it is also passed to the Attempter, so
//     cancelling it ends a step already in flight as well.
//   - Errors: Run itself only returns a non-nil error if validating a
//     step produces something other than a ValidationError (a
//     programmer error) or if the Attempter returns one; validation
//     failures are reported as a step outcome of kind ValidationError,
//     not as a Go error.
func (r *Runner) Run(ctx context.Context, req kalitypes.WorkflowRequest, sink, obsSink event.Sink) ([]StepResult, error) {
	sink.Emit(event.Envelope{
		TsMs:          nowMs(),
		CorrelationID: req.ID,
		Event:         event.TagWorkflowStarted,
		Payload: map[string]any{
			"workflow_id": req.ID,
			"step_count":  len(req.Steps),
		},
	})

	results := make([]StepResult, 0, len(req.Steps))
	aborted := false

	for i, step := range req.Steps {
		index := i + 1

		select {
		case <-ctx.Done():
			aborted = true
			goto done
		default:
		}

		sink.Emit(event.Envelope{
			TsMs:          nowMs(),
			CorrelationID: req.ID,
			Event:         event.TagStepStarted,
			Payload: map[string]any{
				"workflow_id": req.ID,
				"step_index":  index,
				"tool":        step.Tool,
			},
		})

		plan, verr := validate.Validate(kalitypes.ToolRequest{
			Host:           req.Host,
			User:           req.User,
			Tool:           step.Tool,
			Args:           step.Args,
			TimeoutSec:     step.TimeoutSec,
			MaxOutputBytes: step.MaxOutputBytes,
		}, r.Policy)

		var outcome kalitypes.AttemptOutcome
		var stepErr error
		if verr != nil {
			ve, ok := verr.(*kalitypes.ValidationError)
			if !ok {
				return results, verr
			}
			outcome = kalitypes.AttemptOutcome{
				Kind:           kalitypes.OutcomeValidationError,
				ValidationKind: string(ve.Kind),
				Detail:         ve.Error(),
			}
		} else {
			outcome, stepErr = r.Attempter.Run(ctx, plan, sink, obsSink)
			if stepErr != nil {
				return results, stepErr
			}
		}

		results = append(results, StepResult{Index: index, Outcome: outcome})

		payload := map[string]any{
			"workflow_id": req.ID,
			"step_index":  index,
			"outcome_kind": string(outcome.Kind),
			"duration_ms": outcome.DurationMs,
			"attempts":    outcome.Attempts,
		}
		if outcome.Kind == kalitypes.OutcomeSucceeded || outcome.Kind == kalitypes.OutcomeFailedExit {
			payload["exit_code"] = outcome.ExitCode
		}

		if stepFailedKind(outcome.Kind) {
			payload["detail"] = outcome.Detail
			sink.Emit(event.Envelope{
				TsMs:          nowMs(),
				CorrelationID: req.ID,
				Event:         event.TagStepFailed,
				Payload:       payload,
			})
		} else {
			sink.Emit(event.Envelope{
				TsMs:          nowMs(),
				CorrelationID: req.ID,
				Event:         event.TagStepFinished,
				Payload:       payload,
			})
		}

		if !outcome.Succeeded() {
			if req.StopOnError {
				aborted = true
				break
			}
		}
	}

done:
	sink.Emit(event.Envelope{
		TsMs:          nowMs(),
		CorrelationID: req.ID,
		Event:         event.TagWorkflowFinished,
		Payload: map[string]any{
			"workflow_id":     req.ID,
			"completed_steps": len(results),
			"aborted":         aborted,
		},
	})

	return results, nil
}
