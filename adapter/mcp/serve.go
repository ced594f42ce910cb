// Package mcp implements the "mcp-serve" framing adapter (spec §6): an
// MCP-shaped JSON-RPC server exposing every allowlisted tool as one
// MCP tool (`tools/list`/`tools/call`). Grounded in
// github.com/modelcontextprotocol/go-sdk/mcp's server API as used by
// the pack's gh-aw MCP command (mcp.NewServer, mcp.AddTool,
// mcp.StdioTransport): that teacher registers one mcp.Tool per CLI
// subcommand with a typed args struct and lets the SDK derive
// initialize/tools/list/tools/call handling and the JSON Schema for
// each tool's input from the struct, which this adapter reuses
// directly rather than hand-rolling JSON-RPC framing.
package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jonwraymond/kalibridge/attempt"
	"github.com/jonwraymond/kalibridge/engine"
	"github.com/jonwraymond/kalibridge/event"
	"github.com/jonwraymond/kalibridge/kalitypes"
	"github.com/jonwraymond/kalibridge/obslog"
	"github.com/jonwraymond/kalibridge/validate"
)

// toolArgs is the MCP input schema for every allowlisted tool, per spec
// §6's tools/list input_schema shape: {host, user, args[], timeout_sec,
// max_output_bytes}.
type toolArgs struct {
	Host           string   `json:"host" jsonschema:"remote host to run the tool against"`
	User           string   `json:"user" jsonschema:"SSH username on the remote host"`
	Args           []string `json:"args,omitempty" jsonschema:"arguments passed to the tool, one per element"`
	TimeoutSec     int      `json:"timeout_sec" jsonschema:"per-attempt timeout in seconds"`
	MaxOutputBytes int      `json:"max_output_bytes,omitempty" jsonschema:"optional output byte cap, clamped to policy"`
}

// Server builds the MCP server described by Policy and runs it over
// stdio until ctx is cancelled or the transport's input is exhausted.
type Server struct {
	Policy kalitypes.Policy
	Logger obslog.Logger

	// Obs receives the observability event channel (attempt_started/
	// attempt_finished/retry_scheduled), kept distinct from the
	// JSON-RPC conversation on stdout per spec §6/C7. A nil Obs
	// discards those events.
	Obs io.Writer
}

// Serve builds the MCP server and runs it over stdio.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcpServer().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) mcpServer() *mcp.Server {
	impl := &mcp.Implementation{Name: "kalibridge", Version: "0.1.0"}
	srv := mcp.NewServer(impl, &mcp.ServerOptions{
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	eng := engine.New(s.Policy)
	ctrl := attempt.New(eng, s.Policy)
	obsSink := obsSinkFor(s.Obs)

	for _, name := range s.Policy.AllowedToolsList {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        name,
			Description: fmt.Sprintf("Run %s against a remote host over SSH, subject to the bridge's allowlist and output/timeout caps.", name),
		}, toolHandler(name, s.Policy, ctrl, obsSink, s.Logger))
	}

	return srv
}

func obsSinkFor(w io.Writer) event.Sink {
	if w == nil {
		return event.Discard
	}
	return event.NewLineWriter(w)
}

// codeServerError is the JSON-RPC "server error" code spec §6 mandates
// for transport and timeout outcomes, from the -32000..-32099 range
// reserved for implementation-defined server errors; the go-sdk's
// jsonrpc package exposes named constants for the standard reserved
// codes but not for this range, so it is named here instead of left a
// bare literal at each call site.
const codeServerError = -32000

// toolHandler returns the mcp.AddTool handler for one allowlisted
// tool. It validates the incoming args into an ExecutionPlan, runs one
// attempt sequence via ctrl, and maps the result to spec §6's
// structuredContent shape or a JSON-RPC error per the mapping in
// SPEC_FULL.md §6 (validation -> CodeInvalidParams, transport/timeout
// -> codeServerError).
func toolHandler(name string, policy kalitypes.Policy, ctrl *attempt.Controller, obsSink event.Sink, logger obslog.Logger) mcp.ToolHandlerFor[toolArgs, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args toolArgs) (*mcp.CallToolResult, any, error) {
		select {
		case <-ctx.Done():
			return nil, nil, &jsonrpc.Error{Code: codeServerError, Message: "request cancelled", Data: errData(ctx.Err())}
		default:
		}

		toolReq := kalitypes.ToolRequest{
			Host:           args.Host,
			User:           args.User,
			Tool:           name,
			Args:           args.Args,
			TimeoutSec:     args.TimeoutSec,
			MaxOutputBytes: args.MaxOutputBytes,
		}

		plan, verr := validate.Validate(toolReq, policy)
		if verr != nil {
			logger.Warn("mcp tools/call rejected", "tool", name, "error", verr.Error())
			return nil, nil, &jsonrpc.Error{
				Code:    jsonrpc.CodeInvalidParams,
				Message: verr.Error(),
				Data:    errData(verr),
			}
		}

		coll := newResultCollector()
		outcome, err := ctrl.Run(ctx, plan, coll, obsSink)
		if err != nil {
			logger.Error("mcp tools/call internal error", "tool", name, "error", err.Error())
			return nil, nil, &jsonrpc.Error{Code: jsonrpc.CodeInternalError, Message: "internal error", Data: errData(err)}
		}

		if outcome.Kind == kalitypes.OutcomeTimedOut || outcome.Kind == kalitypes.OutcomeTransportError {
			return nil, nil, &jsonrpc.Error{
				Code:    codeServerError,
				Message: outcome.Detail,
				Data:    errData(outcome),
			}
		}

		structured := map[string]any{
			"exit_code":   outcome.ExitCode,
			"duration_ms": outcome.DurationMs,
			"attempts":    outcome.Attempts,
			"truncated":   outcome.Truncated,
			"stdout_b64":  coll.stdoutB64(),
			"stderr_b64":  coll.stderrB64(),
		}

		summary := fmt.Sprintf("%s exited %d after %d attempt(s) in %dms", name, outcome.ExitCode, outcome.Attempts, outcome.DurationMs)
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: summary}},
		}, structured, nil
	}
}

func errData(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	var data []byte
	var err error
	if e, ok := v.(error); ok {
		data, err = json.Marshal(map[string]string{"error": e.Error()})
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil
	}
	return data
}

// resultCollector is an event.Sink that reassembles the raw stdout and
// stderr byte streams from a single attempt's stdout_chunk/
// stderr_chunk events, for the MCP adapter's stdout_b64/stderr_b64
// structured-content fields. It ignores every other event tag:
// tools/call's response carries only the final bytes, not the
// intermediate event stream.
type resultCollector struct {
	mu     sync.Mutex
	stdout []byte
	stderr []byte
}

func newResultCollector() *resultCollector {
	return &resultCollector{}
}

func (c *resultCollector) Emit(env event.Envelope) {
	data, _ := env.Payload["data"].(string)
	if data == "" {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch env.Event {
	case event.TagStdoutChunk:
		c.stdout = append(c.stdout, raw...)
	case event.TagStderrChunk:
		c.stderr = append(c.stderr, raw...)
	}
}

func (c *resultCollector) stdoutB64() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return base64.StdEncoding.EncodeToString(c.stdout)
}

func (c *resultCollector) stderrB64() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return base64.StdEncoding.EncodeToString(c.stderr)
}
