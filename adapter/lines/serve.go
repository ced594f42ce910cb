// Package lines implements the plain line-JSON framing adapter (spec
// §6 "serve"): one ToolRequest per input line, the Event stream for
// that request written one JSON object per line to stdout. Grounded in
// the teacher's gateway/proxy/protocol.go Message envelope idiom,
// simplified from proxy.Gateway's correlated request/response pairing
// (which multiplexes many in-flight requests over one connection) to
// straight-line serial processing, since spec §5 already serializes
// writes to the shared sink and this adapter only ever has one request
// in flight at a time.
package lines

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
	"github.com/jonwraymond/kalibridge/validate"
)

// Server reads one ToolRequest per line from In and writes one Event
// per line to Out, until In is exhausted or ctx is cancelled. Obs, if
// set, receives the observability event channel (attempt_started/
// attempt_finished/retry_scheduled) on its own stream, kept distinct
// from Out's protocol channel per spec §6; a nil Obs discards those
// events, since observability is always-optional.
type Server struct {
	Policy kalitypes.Policy
	In     io.Reader
	Out    io.Writer
	Obs    io.Writer
	Logger obslog.Logger
}

// Serve runs the read-validate-execute-emit loop. A malformed input
// line or a recovered panic from one request's handling is logged and
// turned into a best-effort error event; it does not stop the loop, so
// one bad line cannot take down a long-running serve process.
func (s *Server) Serve(ctx context.Context) error {
	sink := event.NewLineWriter(s.Out)
	obsSink := obsSinkFor(s.Obs)
	eng := engine.New(s.Policy)
	ctrl := attempt.New(eng, s.Policy)

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
		s.handleLine(ctx, ctrl, sink, obsSink, line)
	}
	return scanner.Err()
}

// obsSinkFor returns a LineWriter over w, or event.Discard if w is nil.
func obsSinkFor(w io.Writer) event.Sink {
	if w == nil {
		return event.Discard
	}
	return event.NewLineWriter(w)
}

func (s *Server) handleLine(ctx context.Context, ctrl *attempt.Controller, sink, obsSink event.Sink, line string) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("recovered panic handling request", "panic", r)
			sink.Emit(event.Envelope{
				Event:   event.TagError,
				Payload: map[string]any{"kind": "transport"},
			})
		}
	}()

	var req kalitypes.ToolRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.Logger.Warn("malformed request line", "error", err.Error())
		sink.Emit(event.Envelope{
			Event:   event.TagError,
			Payload: map[string]any{"kind": "validation", "detail": "malformed JSON"},
		})
		return
	}

	plan, err := validate.Validate(req, s.Policy)
	if err != nil {
		ve, _ := err.(*kalitypes.ValidationError)
		corr := req.CorrelationID
		sink.Emit(event.Envelope{
			CorrelationID: corr,
			Event:         event.TagError,
			Payload: map[string]any{
				"kind":   "validation",
				"detail": errString(err),
				"field":  kindString(ve),
			},
		})
		return
	}

	s.Logger.Info("executing request", "tool", plan.Tool, "correlation_id", plan.CorrelationID)
	if _, err := ctrl.Run(ctx, plan, sink, obsSink); err != nil {
		s.Logger.Error("attempt controller error", "error", err.Error())
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func kindString(ve *kalitypes.ValidationError) string {
	if ve == nil {
		return ""
	}
	return string(ve.Kind)
}
