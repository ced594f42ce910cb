// Package kalitypes holds the shared value types exchanged between the
// validator, execution engine, attempt controller, workflow runner, and
// framing adapters. Like the teacher's types.go, this package is free of
// I/O: it defines data and simple validation, nothing that blocks.
package kalitypes

import (
	"fmt"
	"time"
)

// Policy is the process-wide, immutable configuration that bounds every
// request the bridge will accept. It is built once at startup (see
// package config) and shared read-only across goroutines.
type Policy struct {
	AllowedTools         map[string]bool `json:"-"`
	AllowedToolsList     []string        `json:"allowed_tools"`
	MaxArgs              int             `json:"max_args"`
	MaxOutputBytes       int             `json:"max_output_bytes"`
	DefaultTimeoutSec    int             `json:"default_timeout_sec"`
	MaxTimeoutSec        int             `json:"max_timeout_sec"`
	MaxRetries           int             `json:"max_retries"`
	RetryBackoffMs       int             `json:"retry_backoff_ms"`
	ObservabilityEnabled bool            `json:"observability_enabled"`
	SSH                  SSHOptions      `json:"ssh"`
}

// SSHOptions holds the hardening flags applied to every local `ssh`
// invocation built by package sshexec.
type SSHOptions struct {
	ConnectTimeoutSec     int    `json:"connect_timeout_sec"`
	ServerAliveIntervalSec int   `json:"server_alive_interval_sec"`
	ServerAliveCountMax   int    `json:"server_alive_count_max"`
	StrictHostKeyChecking string `json:"strict_host_key_checking"`
}

// DefaultPolicy returns the secure default policy described in spec §4.1.
func DefaultPolicy() Policy {
	tools := []string{"nmap", "nikto", "sqlmap"}
	allowed := make(map[string]bool, len(tools))
	for _, t := range tools {
		allowed[t] = true
	}
	return Policy{
		AllowedTools:         allowed,
		AllowedToolsList:     tools,
		MaxArgs:              32,
		MaxOutputBytes:       262144,
		DefaultTimeoutSec:    60,
		MaxTimeoutSec:        60,
		MaxRetries:           0,
		RetryBackoffMs:       500,
		ObservabilityEnabled: true,
		SSH: SSHOptions{
			ConnectTimeoutSec:      10,
			ServerAliveIntervalSec: 15,
			ServerAliveCountMax:    3,
			StrictHostKeyChecking:  "yes",
		},
	}
}

// IsAllowed reports whether tool is present in the allowlist.
func (p Policy) IsAllowed(tool string) bool {
	return p.AllowedTools[tool]
}

// ArgCap returns the maximum number of arguments accepted per request.
func (p Policy) ArgCap() int { return p.MaxArgs }

// OutputCap returns the effective output byte cap for a request, clamped
// to the policy ceiling.
func (p Policy) OutputCap(requested int) int {
	if requested <= 0 || requested > p.MaxOutputBytes {
		return p.MaxOutputBytes
	}
	return requested
}

// TimeoutCap returns the effective per-attempt timeout in seconds,
// clamped to the policy ceiling.
func (p Policy) TimeoutCap(requested int) int {
	if requested <= 0 {
		return p.DefaultTimeoutSec
	}
	if requested > p.MaxTimeoutSec {
		return p.MaxTimeoutSec
	}
	return requested
}

// Validate checks that all numeric bounds are positive where required.
func (p Policy) Validate() error {
	if p.MaxArgs <= 0 {
		return fmt.Errorf("%w: max_args must be positive", ErrInvalidLimits)
	}
	if p.MaxOutputBytes <= 0 {
		return fmt.Errorf("%w: max_output_bytes must be positive", ErrInvalidLimits)
	}
	if p.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("%w: default_timeout_sec must be positive", ErrInvalidLimits)
	}
	if p.MaxTimeoutSec <= 0 {
		return fmt.Errorf("%w: max_timeout_sec must be positive", ErrInvalidLimits)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries cannot be negative", ErrInvalidLimits)
	}
	if p.RetryBackoffMs < 0 {
		return fmt.Errorf("%w: retry_backoff_ms cannot be negative", ErrInvalidLimits)
	}
	if len(p.AllowedToolsList) == 0 {
		return fmt.Errorf("%w: allowed_tools must not be empty", ErrInvalidPolicy)
	}
	return nil
}

// ToolRequest is a user-supplied request to run one allowlisted tool.
type ToolRequest struct {
	Host            string   `json:"host"`
	User            string   `json:"user"`
	Tool            string   `json:"tool"`
	Args            []string `json:"args"`
	TimeoutSec      int      `json:"timeout_sec"`
	MaxOutputBytes  int      `json:"max_output_bytes,omitempty"`
	CorrelationID   string   `json:"correlation_id,omitempty"`
}

// ExecutionPlan is the vetted output of the validator: a ToolRequest
// that has passed every check in spec §4.2, with effective (clamped)
// timeout and output cap resolved.
type ExecutionPlan struct {
	Host           string
	User           string
	Tool           string
	Args           []string
	TimeoutSec     int
	MaxOutputBytes int
	CorrelationID  string
}

// StepSpec is one step of a WorkflowRequest. It shares ToolRequest's
// fields except Host/User, which are inherited from the workflow.
type StepSpec struct {
	Tool           string   `json:"tool"`
	Args           []string `json:"args"`
	TimeoutSec     int      `json:"timeout_sec"`
	MaxOutputBytes int      `json:"max_output_bytes,omitempty"`
}

// WorkflowRequest sequences a set of steps that share a host, user, and
// stop-on-error policy.
type WorkflowRequest struct {
	ID          string     `json:"id"`
	Host        string     `json:"host"`
	User        string     `json:"user"`
	StopOnError bool       `json:"stop_on_error"`
	Steps       []StepSpec `json:"steps"`
}

// OutcomeKind classifies a terminal AttemptOutcome.
type OutcomeKind string

const (
	OutcomeSucceeded       OutcomeKind = "succeeded"
	OutcomeFailedExit      OutcomeKind = "failed_exit"
	OutcomeTimedOut        OutcomeKind = "timed_out"
	OutcomeTransportError  OutcomeKind = "transport_error"
	OutcomeValidationError OutcomeKind = "validation_error"
)

// AttemptOutcome is the result of one attempt (one ExecutionEngine run),
// or of the retry sequence as a whole once AttemptController has
// finished retrying.
type AttemptOutcome struct {
	Kind          OutcomeKind
	ExitCode      int
	StdoutBytes   int
	StderrBytes   int
	Truncated     bool
	DurationMs    int64
	Detail        string
	ValidationKind string
	Attempts      int
}

// Succeeded reports whether the outcome represents a clean exit.
func (o AttemptOutcome) Succeeded() bool { return o.Kind == OutcomeSucceeded }

// RetryEligible reports whether AttemptController should retry this
// outcome. Per spec §4.5 / Open Questions: FailedExit, TimedOut, and
// TransportError are retry-eligible; ValidationError and Succeeded are
// not.
func (o AttemptOutcome) RetryEligible() bool {
	switch o.Kind {
	case OutcomeFailedExit, OutcomeTimedOut, OutcomeTransportError:
		return true
	default:
		return false
	}
}

// Duration is a convenience accessor returning DurationMs as a
// time.Duration.
func (o AttemptOutcome) Duration() time.Duration {
	return time.Duration(o.DurationMs) * time.Millisecond
}
