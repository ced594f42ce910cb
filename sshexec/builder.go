// Package sshexec implements the RemoteCommandBuilder (spec §4.3): it
// turns a vetted ExecutionPlan into the argument vector for the local
// `ssh` binary, with hardened flags and a remote timeout-wrapped
// invocation of the allowlisted tool. Grounded in the teacher's
// backend/docker/builder.go fluent SpecBuilder, adapted here to build a
// plain []string argv instead of a container spec.
package sshexec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jonwraymond/kalibridge/kalitypes"
)

// KillAfter is the grace period given to `timeout` between SIGTERM and
// SIGKILL on the remote side, per spec §4.3.
const KillAfter = "5s"

// CommandBuilder constructs the ssh argv for one ExecutionPlan.
type CommandBuilder struct {
	plan   kalitypes.ExecutionPlan
	policy kalitypes.Policy
}

// NewCommandBuilder returns a CommandBuilder for plan under policy's SSH
// hardening options.
func NewCommandBuilder(plan kalitypes.ExecutionPlan, policy kalitypes.Policy) *CommandBuilder {
	return &CommandBuilder{plan: plan, policy: policy}
}

// Build returns the full argument vector to pass to exec.Command("ssh", argv...).
//
// No argument from the request is ever interpreted as a flag to ssh,
// timeout, or the tool: the "--" positional separator after the
// user@host target, and again implicitly via the quoted remote command
// string, ensures request-controlled strings are always treated as
// positional data.
func (b *CommandBuilder) Build() ([]string, error) {
	if b.plan.Tool == "" {
		return nil, fmt.Errorf("sshexec: plan has no tool")
	}

	opts := b.policy.SSH
	argv := []string{
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=" + orDefault(opts.StrictHostKeyChecking, "yes"),
		"-o", "ConnectTimeout=" + strconv.Itoa(orDefaultInt(opts.ConnectTimeoutSec, 10)),
		"-o", "ServerAliveInterval=" + strconv.Itoa(orDefaultInt(opts.ServerAliveIntervalSec, 15)),
		"-o", "ServerAliveCountMax=" + strconv.Itoa(orDefaultInt(opts.ServerAliveCountMax, 3)),
		b.plan.User + "@" + b.plan.Host,
		"--",
		b.remoteCommandLine(),
	}

	return argv, nil
}

// remoteCommandLine builds the single string SSH passes to the remote
// shell: the remote side of an SSH invocation is always a single argv
// concatenated by the server, so every request-controlled token must be
// pre-escaped into POSIX-shell-safe form before being joined.
func (b *CommandBuilder) remoteCommandLine() string {
	parts := make([]string, 0, 6+len(b.plan.Args))
	parts = append(parts,
		"timeout",
		"--signal=TERM",
		"--kill-after="+KillAfter,
		strconv.Itoa(b.plan.TimeoutSec)+"s",
		shellQuote(b.plan.Tool),
	)
	for _, a := range b.plan.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote wraps s in single quotes, escaping any embedded single
// quote as '\'' (close quote, escaped quote, reopen quote) — the
// standard POSIX-shell-safe quoting idiom, per spec §4.3.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
