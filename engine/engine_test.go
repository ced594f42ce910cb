package engine

import (
	"context"
	"encoding/base64"
	"os"
	"os/exec"
	"testing"

	"github.com/jonwraymond/kalibridge/event"
	"github.com/jonwraymond/kalibridge/internal/testexec"
	"github.com/jonwraymond/kalibridge/kalitypes"
)

// TestMain lets this test binary re-exec itself as the fake ssh client,
// per the helper-process pattern testexec.Main documents.
func TestMain(m *testing.M) {
	testexec.Main()
	os.Exit(m.Run())
}

func fakeSSHPath(t *testing.T) string {
	t.Helper()
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return self
}

func withFakeSSH(t *testing.T) {
	t.Helper()
	prev := SSHPath
	prevEnv, hadEnv := os.LookupEnv(testexec.HelperEnvVar)
	SSHPath = fakeSSHPath(t)
	os.Setenv(testexec.HelperEnvVar, "1")
	t.Cleanup(func() {
		SSHPath = prev
		if hadEnv {
			os.Setenv(testexec.HelperEnvVar, prevEnv)
		} else {
			os.Unsetenv(testexec.HelperEnvVar)
		}
	})
}

func basePlan() kalitypes.ExecutionPlan {
	return kalitypes.ExecutionPlan{
		Host:           "kali",
		User:           "op",
		Tool:           "nmap",
		TimeoutSec:     5,
		MaxOutputBytes: 1024,
		CorrelationID:  "corr-1",
	}
}

func TestExecuteSucceeds(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	plan := basePlan()
	plan.Args = []string{"kalitest:stdout=hello", "kalitest:exit=0"}

	coll := event.NewCollector()
	outcome, err := New(policy).Execute(context.Background(), plan, coll)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !outcome.Succeeded() {
		t.Fatalf("outcome = %+v, want Succeeded", outcome)
	}

	finished := coll.ByTag(event.TagFinished)
	if len(finished) != 1 {
		t.Fatalf("finished events = %d, want 1", len(finished))
	}
	if len(coll.ByTag(event.TagStarted)) != 1 {
		t.Fatalf("started events = %d, want 1", len(coll.ByTag(event.TagStarted)))
	}
	stdoutChunks := coll.ByTag(event.TagStdoutChunk)
	if len(stdoutChunks) == 0 {
		t.Fatalf("expected at least one stdout_chunk event")
	}
}

func TestExecuteClassifiesFailedExit(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	plan := basePlan()
	plan.Args = []string{"kalitest:exit=1"}

	coll := event.NewCollector()
	outcome, err := New(policy).Execute(context.Background(), plan, coll)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != kalitypes.OutcomeFailedExit {
		t.Errorf("Kind = %v, want %v", outcome.Kind, kalitypes.OutcomeFailedExit)
	}
	if outcome.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", outcome.ExitCode)
	}
}

func TestExecuteClassifiesRemoteTimeout(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	plan := basePlan()
	plan.Args = []string{"kalitest:exit=124"}

	coll := event.NewCollector()
	outcome, err := New(policy).Execute(context.Background(), plan, coll)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != kalitypes.OutcomeTimedOut {
		t.Errorf("Kind = %v, want %v", outcome.Kind, kalitypes.OutcomeTimedOut)
	}
}

func TestExecuteClassifiesTransportError(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	plan := basePlan()
	plan.Args = []string{"kalitest:exit=255"}

	coll := event.NewCollector()
	outcome, err := New(policy).Execute(context.Background(), plan, coll)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Kind != kalitypes.OutcomeTransportError {
		t.Errorf("Kind = %v, want %v", outcome.Kind, kalitypes.OutcomeTransportError)
	}
	if len(coll.ByTag(event.TagError)) != 1 {
		t.Errorf("expected exactly one error event for a transport failure")
	}
}

func TestExecuteTruncatesOutputAndEmitsSingleEvent(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	plan := basePlan()
	plan.MaxOutputBytes = 16
	plan.Args = []string{"kalitest:repeat=4096"}

	coll := event.NewCollector()
	outcome, err := New(policy).Execute(context.Background(), plan, coll)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !outcome.Truncated {
		t.Errorf("expected Truncated = true")
	}
	truncatedEvents := coll.ByTag(event.TagOutputTruncated)
	if len(truncatedEvents) != 1 {
		t.Fatalf("output_truncated events = %d, want exactly 1", len(truncatedEvents))
	}

	totalKept := decodedChunkBytes(t, coll, event.TagStdoutChunk)
	if totalKept > plan.MaxOutputBytes {
		t.Errorf("emitted %d bytes of stdout, want <= %d", totalKept, plan.MaxOutputBytes)
	}
}

// TestExecuteTruncatesSharedBudgetUnderConcurrentStreams drives large
// volumes on stdout and stderr at once, so both reader goroutines race
// to call truncatingCounter.add around the same moment the cap is hit.
// Before the add/commit sequence was serialized, two readers could each
// observe the same remaining budget and both keep up to it, overshooting
// max_output_bytes; this pins the combined total to the cap regardless
// of how the two goroutines interleave.
func TestExecuteTruncatesSharedBudgetUnderConcurrentStreams(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	plan := basePlan()
	plan.MaxOutputBytes = 64
	plan.Args = []string{"kalitest:repeat=65536", "kalitest:errepeat=65536"}

	for i := 0; i < 20; i++ {
		coll := event.NewCollector()
		outcome, err := New(policy).Execute(context.Background(), plan, coll)
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if !outcome.Truncated {
			t.Fatalf("expected Truncated = true")
		}
		if len(coll.ByTag(event.TagOutputTruncated)) != 1 {
			t.Fatalf("output_truncated events = %d, want exactly 1", len(coll.ByTag(event.TagOutputTruncated)))
		}

		total := decodedChunkBytes(t, coll, event.TagStdoutChunk) + decodedChunkBytes(t, coll, event.TagStderrChunk)
		if total > plan.MaxOutputBytes {
			t.Fatalf("run %d: emitted %d combined bytes, want <= %d", i, total, plan.MaxOutputBytes)
		}
	}
}

// decodedChunkBytes sums the decoded length of every tag-matching
// chunk event's base64 "data" payload in coll.
func decodedChunkBytes(t *testing.T, coll *event.Collector, tag event.Tag) int {
	t.Helper()
	total := 0
	for _, e := range coll.ByTag(tag) {
		data, ok := e.Payload["data"].(string)
		if !ok {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			t.Fatalf("decode chunk data: %v", err)
		}
		total += len(raw)
	}
	return total
}

func TestExecuteReturnsErrorForEmptyTool(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	plan := basePlan()
	plan.Tool = ""

	coll := event.NewCollector()
	_, err := New(policy).Execute(context.Background(), plan, coll)
	if err == nil {
		t.Fatal("expected an error for a plan with no tool")
	}
}

// TestKillProcessGroupNoProcess exercises the nil-process guard so a
// double-cancel or early failure path can call it safely.
func TestKillProcessGroupNoProcess(t *testing.T) {
	cmd := &exec.Cmd{}
	killProcessGroup(cmd)
}
