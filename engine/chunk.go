package engine

import (
	"encoding/base64"
	"time"
)

// encodeChunk base64-encodes a raw output chunk for JSON transport, per
// spec §6 (stdout_chunk/stderr_chunk payloads carry arbitrary bytes,
// including non-UTF8 tool output, so they cannot be embedded as a JSON
// string directly).
func encodeChunk(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// nowMs returns the current wall-clock time as milliseconds since the
// Unix epoch, the ts_ms field on every emitted event.
func nowMs() int64 {
	return time.Now().UnixMilli()
}
