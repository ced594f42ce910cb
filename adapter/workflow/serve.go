// Package workflow implements the "workflow-serve" framing adapter
// (spec §6): one WorkflowRequest JSON per input line, the full Event
// stream for that workflow (workflow_started/step_*/workflow_finished,
// plus each step's own attempt-level events) written one JSON object
// per line to stdout. Grounded in adapter/lines' serve loop, generalized
// from one ToolRequest per line to one WorkflowRequest per line by
// delegating to a workflow.Runner instead of an attempt.Controller
// directly.
package workflow

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/jonwraymond/kalibridge/attempt"
	"github.com/jonwraymond/kalibridge/engine"
	"github.com/jonwraymond/kalibridge/event"
	"github.com/jonwraymond/kalibridge/kalitypes"
	"github.com/jonwraymond/kalibridge/obslog"
	wf "github.com/jonwraymond/kalibridge/workflow"
)

// Server reads one WorkflowRequest per line from In and writes one
// Event per line to Out, until In is exhausted or ctx is cancelled.
// Obs, if set, receives the observability event channel on its own
// stream, distinct from Out's protocol channel; a nil Obs discards
// those events.
type Server struct {
	Policy kalitypes.Policy
	In     io.Reader
	Out    io.Writer
	Obs    io.Writer
	Logger obslog.Logger
}

// Serve runs the read-validate-execute-emit loop. A malformed input
// line is logged and turned into a best-effort error event; it does
// not stop the loop.
func (s *Server) Serve(ctx context.Context) error {
	sink := event.NewLineWriter(s.Out)
	obsSink := obsSinkFor(s.Obs)
	eng := engine.New(s.Policy)
	ctrl := attempt.New(eng, s.Policy)
	runner := wf.New(ctrl, s.Policy)

	scanner := bufio.NewScanner(s.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.handleLine(ctx, runner, sink, obsSink, line)
	}
	return scanner.Err()
}

func obsSinkFor(w io.Writer) event.Sink {
	if w == nil {
		return event.Discard
	}
	return event.NewLineWriter(w)
}

func (s *Server) handleLine(ctx context.Context, runner *wf.Runner, sink, obsSink event.Sink, line string) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("recovered panic handling workflow", "panic", r)
			sink.Emit(event.Envelope{
				Event:   event.TagError,
				Payload: map[string]any{"kind": "transport"},
			})
		}
	}()

	var req kalitypes.WorkflowRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.Logger.Warn("malformed workflow request line", "error", err.Error())
		sink.Emit(event.Envelope{
			Event:   event.TagError,
			Payload: map[string]any{"kind": "validation", "detail": "malformed JSON"},
		})
		return
	}

	s.Logger.Info("executing workflow", "workflow_id", req.ID, "step_count", len(req.Steps))
	if _, err := runner.Run(ctx, req, sink, obsSink); err != nil {
		s.Logger.Error("workflow runner error", "error", err.Error())
	}
}
