// Package attempt implements the AttemptController (spec §4.5): it
// drives one ExecutionEngine through a bounded retry sequence with
// linear backoff and emits observability events around each attempt.
// Grounded in jonwraymond-toolops/resilience/retry.go's Retry.Execute
// loop (attempt counter, RetryIf predicate, OnRetry callback, ctx-aware
// sleep between attempts), narrowed here to the single backoff
// strategy spec §4.5 specifies (attempt * retry_backoff_ms, no jitter,
// no cap) instead of the teacher's three interchangeable strategies.
package attempt

import (
	"context"
	"time"

	"github.com/jonwraymond/kalibridge/event"
	"github.com/jonwraymond/kalibridge/kalitypes"
)

// Runner is the subset of engine.Engine that Controller depends on,
// letting tests substitute a fake without importing package engine.
type Runner interface {
	Execute(ctx context.Context, plan kalitypes.ExecutionPlan, sink event.Sink) (kalitypes.AttemptOutcome, error)
}

// Controller retries a Runner's Execute call according to a Policy's
// MaxRetries/RetryBackoffMs, per spec §4.5.
type Controller struct {
	Runner Runner
	Policy kalitypes.Policy
}

// New returns a Controller wrapping runner under policy.
func New(runner Runner, policy kalitypes.Policy) *Controller {
	return &Controller{Runner: runner, Policy: policy}
}

// Run drives plan through up to 1+Policy.MaxRetries attempts, stopping
// as soon as an attempt is not RetryEligible (including the first
// success). The returned AttemptOutcome is the last attempt's outcome,
// with Attempts set to the total number of attempts made.
//
// sink receives the protocol event stream (started/chunks/finished/
// error), one per Runner.Execute call. obsSink receives the
// observability events (attempt_started/attempt_finished/
// retry_scheduled) described in spec §4.5 — a distinct channel per
// spec C7, so a consumer streaming the protocol channel never sees
// retry bookkeeping interleaved with tool output.
//
// Contract:
//   - Concurrency: Run is synchronous; it does not spawn goroutines of
//     its own beyond what Runner.Execute spawns internally.
//   - Context: ctx bounds every attempt and the backoff sleep between
//     attempts; cancellation stops the sequence immediately and returns
//     the last outcome obtained, not a partial one.
//   - Errors: a non-nil error is only returned if a call to
//     Runner.Execute itself errors (a programmer error, per its own
//     contract); retry-eligible outcomes are never turned into errors.
func (c *Controller) Run(ctx context.Context, plan kalitypes.ExecutionPlan, sink, obsSink event.Sink) (kalitypes.AttemptOutcome, error) {
	maxAttempts := 1 + c.Policy.MaxRetries

	var outcome kalitypes.AttemptOutcome
	for attemptNum := 1; attemptNum <= maxAttempts; attemptNum++ {
		obsSink.Emit(event.Envelope{
			TsMs:          nowMs(),
			CorrelationID: plan.CorrelationID,
			Event:         event.TagAttemptStarted,
			Payload: map[string]any{
				"attempt":      attemptNum,
				"max_attempts": maxAttempts,
			},
		})

		var err error
		outcome, err = c.Runner.Execute(ctx, plan, sink)
		if err != nil {
			return outcome, err
		}
		outcome.Attempts = attemptNum

		obsSink.Emit(event.Envelope{
			TsMs:          nowMs(),
			CorrelationID: plan.CorrelationID,
			Event:         event.TagAttemptFinished,
			Payload: map[string]any{
				"attempt":     attemptNum,
				"kind":        string(outcome.Kind),
				"duration_ms": outcome.DurationMs,
			},
		})

		if !outcome.RetryEligible() || attemptNum == maxAttempts {
			return outcome, nil
		}

		delay := time.Duration(attemptNum*c.Policy.RetryBackoffMs) * time.Millisecond
		obsSink.Emit(event.Envelope{
			TsMs:          nowMs(),
			CorrelationID: plan.CorrelationID,
			Event:         event.TagRetryScheduled,
			Payload: map[string]any{
				"attempt":      attemptNum,
				"next_attempt": attemptNum + 1,
				"backoff_ms":   delay.Milliseconds(),
			},
		})

		select {
		case <-ctx.Done():
			return outcome, nil
		case <-time.After(delay):
		}
	}

	return outcome, nil
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
