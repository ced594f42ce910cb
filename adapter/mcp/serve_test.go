package mcp

import (
	"context"
	"encoding/base64"
	"os"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/kalibridge/attempt"
	"github.com/jonwraymond/kalibridge/engine"
	"github.com/jonwraymond/kalibridge/event"
	"github.com/jonwraymond/kalibridge/internal/testexec"
	"github.com/jonwraymond/kalibridge/kalitypes"
	"github.com/jonwraymond/kalibridge/obslog"
)

// TestMain lets this test binary re-exec itself as the fake ssh client,
// per the helper-process pattern package engine's tests use.
func TestMain(m *testing.M) {
	testexec.Main()
	os.Exit(m.Run())
}

func withFakeSSH(t *testing.T) {
	t.Helper()
	prev := engine.SSHPath
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	prevEnv, hadEnv := os.LookupEnv(testexec.HelperEnvVar)
	engine.SSHPath = self
	os.Setenv(testexec.HelperEnvVar, "1")
	t.Cleanup(func() {
		engine.SSHPath = prev
		if hadEnv {
			os.Setenv(testexec.HelperEnvVar, prevEnv)
		} else {
			os.Unsetenv(testexec.HelperEnvVar)
		}
	})
}

func newHandler(t *testing.T, policy kalitypes.Policy) sdkmcp.ToolHandlerFor[toolArgs, any] {
	t.Helper()
	eng := engine.New(policy)
	ctrl := attempt.New(eng, policy)
	return toolHandler("nmap", policy, ctrl, event.Discard, obslog.Noop)
}

func TestToolHandlerReturnsStructuredContentOnSuccess(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	handler := newHandler(t, policy)

	args := toolArgs{
		Host:       "kali",
		User:       "op",
		Args:       []string{"kalitest:stdout=hello", "kalitest:exit=0"},
		TimeoutSec: 5,
	}

	result, structured, err := handler(context.Background(), &sdkmcp.CallToolRequest{}, args)
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result == nil || len(result.Content) == 0 {
		t.Fatalf("expected non-empty CallToolResult content, got %+v", result)
	}

	m, ok := structured.(map[string]any)
	if !ok {
		t.Fatalf("structured content = %T, want map[string]any", structured)
	}
	if m["exit_code"] != 0 {
		t.Errorf("exit_code = %v, want 0", m["exit_code"])
	}
	stdoutB64, _ := m["stdout_b64"].(string)
	raw, err := base64.StdEncoding.DecodeString(stdoutB64)
	if err != nil {
		t.Fatalf("stdout_b64 did not decode: %v", err)
	}
	if string(raw) != "hello" {
		t.Errorf("decoded stdout = %q, want %q", raw, "hello")
	}
}

func TestToolHandlerRejectsDisallowedTool(t *testing.T) {
	policy := kalitypes.DefaultPolicy()
	eng := engine.New(policy)
	ctrl := attempt.New(eng, policy)
	handler := toolHandler("bash", policy, ctrl, event.Discard, obslog.Noop)

	args := toolArgs{Host: "kali", User: "op", TimeoutSec: 5}
	_, _, err := handler(context.Background(), &sdkmcp.CallToolRequest{}, args)
	if err == nil {
		t.Fatal("expected an error for a disallowed tool")
	}
}

func TestToolHandlerMapsTransportFailureToError(t *testing.T) {
	withFakeSSH(t)
	policy := kalitypes.DefaultPolicy()
	handler := newHandler(t, policy)

	args := toolArgs{
		Host:       "kali",
		User:       "op",
		Args:       []string{"kalitest:exit=255"},
		TimeoutSec: 5,
	}

	_, _, err := handler(context.Background(), &sdkmcp.CallToolRequest{}, args)
	if err == nil {
		t.Fatal("expected an error for a transport failure")
	}
}

func TestResultCollectorAssemblesChunks(t *testing.T) {
	coll := newResultCollector()
	coll.Emit(event.Envelope{
		Event:   event.TagStdoutChunk,
		Payload: map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("ab"))},
	})
	coll.Emit(event.Envelope{
		Event:   event.TagStdoutChunk,
		Payload: map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("cd"))},
	})
	coll.Emit(event.Envelope{
		Event:   event.TagStderrChunk,
		Payload: map[string]any{"data": base64.StdEncoding.EncodeToString([]byte("ef"))},
	})
	coll.Emit(event.Envelope{Event: event.TagFinished, Payload: map[string]any{}})

	out, err := base64.StdEncoding.DecodeString(coll.stdoutB64())
	if err != nil {
		t.Fatalf("stdoutB64 did not decode: %v", err)
	}
	if string(out) != "abcd" {
		t.Errorf("stdout = %q, want %q", out, "abcd")
	}
	errOut, err := base64.StdEncoding.DecodeString(coll.stderrB64())
	if err != nil {
		t.Fatalf("stderrB64 did not decode: %v", err)
	}
	if string(errOut) != "ef" {
		t.Errorf("stderr = %q, want %q", errOut, "ef")
	}
}

func TestServerBuildsMCPServerFromPolicy(t *testing.T) {
	policy := kalitypes.DefaultPolicy()
	s := &Server{Policy: policy, Logger: obslog.Noop}
	srv := s.mcpServer()
	if srv == nil {
		t.Fatal("mcpServer() returned nil")
	}
}
