// Package validate implements the Validator (spec §4.2): it converts a
// ToolRequest into a vetted ExecutionPlan or rejects it with a typed
// ValidationError. Checks run in order; the first failure wins, matching
// the teacher's Validate() methods (types.go) that return on first error
// rather than accumulating a list.
package validate

import (
	"strings"
	"unicode"

	"github.com/jonwraymond/kalibridge/kalitypes"
)

// metachars is the controlled set of shell metacharacters rejected from
// host and user. Args are not checked against this set: checkArg
// rejects only their newline, carriage return and NUL characters.
const metachars = "`$;&|><\n\r"

// Validate checks req against policy and returns a vetted
// ExecutionPlan, or a *kalitypes.ValidationError describing the first
// failed check.
func Validate(req kalitypes.ToolRequest, policy kalitypes.Policy) (kalitypes.ExecutionPlan, error) {
	if err := checkIdentifier(req.Host, kalitypes.KindBadHost); err != nil {
		return kalitypes.ExecutionPlan{}, err
	}
	if err := checkIdentifier(req.User, kalitypes.KindBadUser); err != nil {
		return kalitypes.ExecutionPlan{}, err
	}

	if req.Tool == "" || !policy.IsAllowed(req.Tool) {
		return kalitypes.ExecutionPlan{}, &kalitypes.ValidationError{
			Kind:   kalitypes.KindToolNotAllowed,
			Detail: req.Tool,
		}
	}

	if len(req.Args) > policy.ArgCap() {
		return kalitypes.ExecutionPlan{}, &kalitypes.ValidationError{
			Kind:   kalitypes.KindTooManyArgs,
			Detail: "too many arguments",
		}
	}

	for _, a := range req.Args {
		if err := checkArg(a); err != nil {
			return kalitypes.ExecutionPlan{}, err
		}
	}

	if req.TimeoutSec <= 0 {
		return kalitypes.ExecutionPlan{}, &kalitypes.ValidationError{
			Kind:   kalitypes.KindBadTimeout,
			Detail: "timeout_sec must be positive",
		}
	}
	effectiveTimeout := req.TimeoutSec
	if req.TimeoutSec > policy.MaxTimeoutSec {
		return kalitypes.ExecutionPlan{}, &kalitypes.ValidationError{
			Kind:   kalitypes.KindBadTimeout,
			Detail: "timeout_sec exceeds policy cap",
		}
	}

	if req.MaxOutputBytes < 0 {
		return kalitypes.ExecutionPlan{}, &kalitypes.ValidationError{
			Kind:   kalitypes.KindInvalidArg,
			Detail: "max_output_bytes must be positive",
		}
	}
	effectiveOutputBytes := policy.MaxOutputBytes
	if req.MaxOutputBytes > 0 {
		effectiveOutputBytes = policy.OutputCap(req.MaxOutputBytes)
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = newCorrelationID()
	}

	args := make([]string, len(req.Args))
	copy(args, req.Args)

	return kalitypes.ExecutionPlan{
		Host:           req.Host,
		User:           req.User,
		Tool:           req.Tool,
		Args:           args,
		TimeoutSec:     effectiveTimeout,
		MaxOutputBytes: effectiveOutputBytes,
		CorrelationID:  correlationID,
	}, nil
}

// checkIdentifier validates host/user: non-empty, printable, free of
// whitespace, '@', ':', and shell metacharacters.
func checkIdentifier(s string, kind kalitypes.ValidationKind) error {
	if s == "" {
		return &kalitypes.ValidationError{Kind: kind, Detail: "must not be empty"}
	}
	for _, r := range s {
		if unicode.IsSpace(r) || r == '@' || r == ':' || !unicode.IsPrint(r) || strings.ContainsRune(metachars, r) {
			return &kalitypes.ValidationError{Kind: kind, Detail: "contains disallowed character"}
		}
	}
	return nil
}

// checkArg validates a single argument: length cap, no embedded
// newlines/carriage returns/NUL.
func checkArg(a string) error {
	if len(a) > 1024 {
		return &kalitypes.ValidationError{Kind: kalitypes.KindInvalidArg, Detail: "argument exceeds 1024 bytes"}
	}
	if strings.ContainsAny(a, "\n\r\x00") {
		return &kalitypes.ValidationError{Kind: kalitypes.KindInvalidArg, Detail: "argument contains newline, carriage return, or NUL"}
	}
	return nil
}
