// Package engine implements the ExecutionEngine (spec §4.4), the core of
// the bridge: it turns one vetted ExecutionPlan into a single `ssh`
// invocation of the remote, timeout-wrapped tool, streams stdout/stderr
// as events, enforces the dual timeout ceiling, and classifies the
// result into an AttemptOutcome. Grounded in the teacher's
// backend/unsafe/unsafe.go Execute method (exec.CommandContext, a
// Logger interface, start/duration bookkeeping) and its context-timeout
// idiom, generalized here from a single buffered cmd.Run() into
// streaming stdout/stderr readers because the teacher never streams
// process output incrementally.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jonwraymond/kalibridge/event"
	"github.com/jonwraymond/kalibridge/kalitypes"
	"github.com/jonwraymond/kalibridge/sshexec"
)

// gracePeriod is how long the local deadline watcher waits past the
// remote `timeout` ceiling before declaring the child unresponsive, per
// spec §4.4 / §5 Cancellation.
const gracePeriod = 10 * time.Second

// sigtermWait is how long the deadline watcher waits after SIGTERM
// before escalating to SIGKILL against the whole process group.
const sigtermWait = 2 * time.Second

// chunkSize is the read buffer size for stdout/stderr streaming.
const chunkSize = 4096

// SSHPath is the local ssh binary invoked by Execute. A package-level
// var (rather than a const) so tests can point it at a fake binary.
var SSHPath = "ssh"

// Engine runs one ExecutionPlan at a time via ssh. It holds no
// per-request state between calls: every Execute call is independent.
type Engine struct {
	Policy kalitypes.Policy
}

// New returns an Engine bound to policy.
func New(policy kalitypes.Policy) *Engine {
	return &Engine{Policy: policy}
}

// Execute runs plan to completion, emitting events to sink as it goes,
// and returns the classified AttemptOutcome.
//
// Contract:
//   - Concurrency: Execute blocks its caller until the child process and
//     both output readers have been fully joined; it never leaves a
//     goroutine running after it returns.
//   - Context: ctx governs the whole call, including the ssh connection
//     itself. Cancelling ctx terminates the child the same way a local
//     deadline would.
//   - Errors: Execute itself only returns a non-nil error for
//     programmer errors (a malformed plan). Tool/transport failures are
//     reported through the returned AttemptOutcome, never as an error,
//     so callers can distinguish "ran and failed" from "could not run".
//   - Ownership: sink must be safe for concurrent use; Execute calls
//     Emit from the stdout and stderr reader goroutines concurrently
//     with its own goroutine.
func (e *Engine) Execute(ctx context.Context, plan kalitypes.ExecutionPlan, sink event.Sink) (kalitypes.AttemptOutcome, error) {
	// Idle -> Starting: build the argv and the bounded run context.
	start := time.Now()

	argv, err := sshexec.NewCommandBuilder(plan, e.Policy).Build()
	if err != nil {
		return kalitypes.AttemptOutcome{}, fmt.Errorf("engine: %w", err)
	}

	deadline := time.Duration(plan.TimeoutSec)*time.Second + gracePeriod
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := exec.CommandContext(runCtx, SSHPath, argv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return kalitypes.AttemptOutcome{}, fmt.Errorf("engine: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return kalitypes.AttemptOutcome{}, fmt.Errorf("engine: stderr pipe: %w", err)
	}

	sink.Emit(event.Envelope{
		TsMs:          nowMs(),
		CorrelationID: plan.CorrelationID,
		Event:         event.TagStarted,
		Payload: map[string]any{
			"tool":        plan.Tool,
			"args":        plan.Args,
			"host":        plan.Host,
			"user":        plan.User,
			"timeout_sec": plan.TimeoutSec,
		},
	})

	if err := cmd.Start(); err != nil {
		outcome := kalitypes.AttemptOutcome{
			Kind:       kalitypes.OutcomeTransportError,
			Detail:     err.Error(),
			DurationMs: time.Since(start).Milliseconds(),
			Attempts:   1,
		}
		emitTerminal(sink, plan, start, outcome)
		return outcome, nil
	}
	// Running: the child is live; start the concurrent readers.

	counter := &truncatingCounter{limit: plan.MaxOutputBytes}
	var stdoutBytes, stderrBytes int64

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamOutput(stdoutPipe, event.TagStdoutChunk, plan.CorrelationID, counter, &stdoutBytes, sink)
	}()
	go func() {
		defer wg.Done()
		streamOutput(stderrPipe, event.TagStderrChunk, plan.CorrelationID, counter, &stderrBytes, sink)
	}()

	waitErr := make(chan error, 1)
	go func() {
		wg.Wait()
		waitErr <- cmd.Wait()
	}()

	// Draining: wait for the child and both readers to join, or for the
	// deadline to fire and force the issue.
	var runErr error
	select {
	case runErr = <-waitErr:
	case <-runCtx.Done():
		killProcessGroup(cmd)
		runErr = <-waitErr
	}
	// Terminal: classify and emit exactly one finished/error event below.

	if counter.wasTruncated() {
		sink.Emit(event.Envelope{
			TsMs:          nowMs(),
			CorrelationID: plan.CorrelationID,
			Event:         event.TagOutputTruncated,
			Payload: map[string]any{
				"bytes_seen": counter.bytes(),
				"cap":        plan.MaxOutputBytes,
			},
		})
	}

	outcome := classify(runErr, runCtx, counter, stdoutBytes, stderrBytes, start)
	outcome.Attempts = 1
	emitTerminal(sink, plan, start, outcome)
	return outcome, nil
}

// killProcessGroup sends SIGTERM to the child's whole process group,
// waits sigtermWait for it to exit, then escalates to SIGKILL. This
// reaches the remote `ssh` client process and anything it spawned
// locally; the remote `timeout` wrapper is responsible for the process
// on the Kali host itself.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	timer := time.NewTimer(sigtermWait)
	defer timer.Stop()
	<-timer.C
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// streamOutput copies r in chunkSize pieces, emitting a chunk event per
// read and stopping (without error) once the shared counter has
// reached its limit, so the two readers share one truncation budget.
// streamBytes accumulates this stream's own kept-byte count, reported
// separately on the final AttemptOutcome even though truncation itself
// is governed by the single shared counter.
func streamOutput(r io.Reader, tag event.Tag, corrID string, counter *truncatingCounter, streamBytes *int64, sink event.Sink) {
	buf := make([]byte, chunkSize)
	reader := bufio.NewReader(r)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			kept := counter.add(n)
			if kept > 0 {
				atomic.AddInt64(streamBytes, int64(kept))
				sink.Emit(event.Envelope{
					TsMs:          nowMs(),
					CorrelationID: corrID,
					Event:         tag,
					Payload: map[string]any{
						"data": encodeChunk(buf[:kept]),
					},
				})
			}
			if counter.wasTruncated() {
				io.Copy(io.Discard, reader)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// truncatingCounter enforces a single shared byte budget across
// stdout and stderr so the two streams are truncated together rather
// than independently, per spec §4.4. The stdout and stderr readers run
// as concurrent goroutines (see Execute) and both call add, so the
// whole compute-kept-and-commit sequence is guarded by mu: a plain
// load-then-add would let both readers observe the same remaining
// budget and each keep up to it, overshooting limit. stdoutBytes/
// stderrBytes track each stream's own kept-byte total for
// AttemptOutcome reporting; they're updated by the caller under no
// additional lock since each is only ever written by its own reader
// goroutine.
type truncatingCounter struct {
	mu        sync.Mutex
	limit     int
	total     int64
	truncated bool
}

// add records n additional bytes and returns how many of them fit
// within the remaining budget (0 if the budget is already exhausted).
func (c *truncatingCounter) add(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.limit <= 0 {
		c.total += int64(n)
		return n
	}
	remaining := int64(c.limit) - c.total
	if remaining <= 0 {
		c.truncated = true
		return 0
	}
	kept := n
	if int64(kept) > remaining {
		kept = int(remaining)
		c.truncated = true
	}
	c.total += int64(kept)
	return kept
}

func (c *truncatingCounter) wasTruncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

func (c *truncatingCounter) bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.total)
}

// classify maps the process exit state to an AttemptOutcome kind, per
// spec §4.4: exit code 124 from `timeout` means the remote side killed
// the tool for overrunning its ceiling; exit code 255 from `ssh` itself
// (no remote exit code available) means a transport failure; the local
// deadline firing before the child exited is also a timeout.
func classify(runErr error, runCtx context.Context, counter *truncatingCounter, stdoutBytes, stderrBytes int64, start time.Time) kalitypes.AttemptOutcome {
	dur := time.Since(start).Milliseconds()
	base := kalitypes.AttemptOutcome{
		StdoutBytes: int(stdoutBytes),
		StderrBytes: int(stderrBytes),
		Truncated:   counter.wasTruncated(),
		DurationMs:  dur,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		base.Kind = kalitypes.OutcomeTimedOut
		base.Detail = "local deadline exceeded"
		return base
	}

	if runErr == nil {
		base.Kind = kalitypes.OutcomeSucceeded
		base.ExitCode = 0
		return base
	}

	var exitErr *exec.ExitError
	if asExitError(runErr, &exitErr) {
		code := exitErr.ExitCode()
		base.ExitCode = code
		switch code {
		case 124:
			base.Kind = kalitypes.OutcomeTimedOut
			base.Detail = "remote timeout wrapper killed the tool"
		case 255:
			base.Kind = kalitypes.OutcomeTransportError
			base.Detail = "ssh transport failure"
		default:
			base.Kind = kalitypes.OutcomeFailedExit
			base.Detail = runErr.Error()
		}
		return base
	}

	base.Kind = kalitypes.OutcomeTransportError
	base.Detail = runErr.Error()
	return base
}

// asExitError reports whether err is an *exec.ExitError, assigning it
// through target on success. A small helper kept separate from
// classify so it can be swapped in tests without importing errors.As
// at every call site.
func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

// errorKind maps an AttemptOutcome to the spec §6 error payload's
// "kind" enum ({timeout,transport,validation}); only called for
// outcomes that terminate with an error event.
func errorKind(k kalitypes.OutcomeKind) string {
	switch k {
	case kalitypes.OutcomeTimedOut:
		return "timeout"
	case kalitypes.OutcomeTransportError:
		return "transport"
	default:
		return "transport"
	}
}

// emitTerminal emits the single terminal event for outcome, per spec
// §4.4: Succeeded/FailedExit become finished{exit_code, duration_ms,
// truncated}; TimedOut/TransportError become error{kind, detail,
// duration_ms}.
func emitTerminal(sink event.Sink, plan kalitypes.ExecutionPlan, start time.Time, outcome kalitypes.AttemptOutcome) {
	switch outcome.Kind {
	case kalitypes.OutcomeTimedOut, kalitypes.OutcomeTransportError:
		sink.Emit(event.Envelope{
			TsMs:          nowMs(),
			CorrelationID: plan.CorrelationID,
			Event:         event.TagError,
			Payload: map[string]any{
				"kind":        errorKind(outcome.Kind),
				"detail":      outcome.Detail,
				"duration_ms": outcome.DurationMs,
			},
		})
	default:
		sink.Emit(event.Envelope{
			TsMs:          nowMs(),
			CorrelationID: plan.CorrelationID,
			Event:         event.TagFinished,
			Payload: map[string]any{
				"exit_code":   outcome.ExitCode,
				"duration_ms": outcome.DurationMs,
				"truncated":   outcome.Truncated,
			},
		})
	}
}
