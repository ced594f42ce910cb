// Package testexec provides a fake-ssh helper-process harness so
// package engine's tests can exercise real exec.Cmd plumbing
// (pipes, process groups, exit codes, timing) without a live Kali
// host. Grounded in the re-exec-self-as-helper-process pattern in
// joeycumines-go-utilpkg/prompt/termtest/main_test.go's TestMain +
// runHelperProcess.
package testexec

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HelperEnvVar, when set to "1" in the current process's environment,
// tells Main to run as the fake ssh binary instead of returning.
const HelperEnvVar = "KALIBRIDGE_FAKE_SSH_HELPER"

// Main returns immediately unless HelperEnvVar is set to "1"; when it
// is, Main runs the fake-ssh behavior and calls os.Exit, never
// returning. Callers invoke it first thing in TestMain, so the test
// binary itself can be re-exec'd in place of the real `ssh` client.
//
// The fake binary mimics the one thing engine.Execute depends on:
// argv is "... -- <remote-command-line>". It inspects the remote
// command line for a small set of markers, set by tests via the
// ExecutionPlan's Args, to drive deterministic behavior:
//
//	kalitest:stdout=<text>   writes text to stdout
//	kalitest:stderr=<text>   writes text to stderr
//	kalitest:sleep=<dur>     sleeps for a parsed time.Duration
//	kalitest:exit=<code>     exits with the given code
//	kalitest:repeat=<n>      writes n copies of "x" to stdout
//	kalitest:errepeat=<n>    writes n copies of "y" to stderr
//
// Markers are processed in the order they appear in the remote command
// line. The exit code is applied only after every marker has run, so a
// single invocation can combine (for example) stdout output with a
// nonzero exit code regardless of marker order.
// Marker values must not contain whitespace: the remote command line
// is whitespace-tokenized before matching.
func Main() {
	if os.Getenv(HelperEnvVar) != "1" {
		return
	}

	remote := ""
	if len(os.Args) > 0 {
		remote = os.Args[len(os.Args)-1]
	}

	exitCode := 0
	for _, raw := range strings.Fields(remote) {
		tok := strings.Trim(raw, "'")
		switch {
		case strings.HasPrefix(tok, "kalitest:stdout="):
			fmt.Fprint(os.Stdout, strings.TrimPrefix(tok, "kalitest:stdout="))
		case strings.HasPrefix(tok, "kalitest:stderr="):
			fmt.Fprint(os.Stderr, strings.TrimPrefix(tok, "kalitest:stderr="))
		case strings.HasPrefix(tok, "kalitest:sleep="):
			if d, err := time.ParseDuration(strings.TrimPrefix(tok, "kalitest:sleep=")); err == nil {
				time.Sleep(d)
			}
		case strings.HasPrefix(tok, "kalitest:exit="):
			if n, err := strconv.Atoi(strings.TrimPrefix(tok, "kalitest:exit=")); err == nil {
				exitCode = n
			}
		case strings.HasPrefix(tok, "kalitest:repeat="):
			if n, err := strconv.Atoi(strings.TrimPrefix(tok, "kalitest:repeat=")); err == nil {
				fmt.Fprint(os.Stdout, strings.Repeat("x", n))
			}
		case strings.HasPrefix(tok, "kalitest:errepeat="):
			if n, err := strconv.Atoi(strings.TrimPrefix(tok, "kalitest:errepeat=")); err == nil {
				fmt.Fprint(os.Stderr, strings.Repeat("y", n))
			}
		}
	}

	os.Exit(exitCode)
}
