package validate

import "github.com/google/uuid"

// newCorrelationID generates an opaque correlation id when the caller
// did not supply one. Grounded in the pack's use of google/uuid for
// request/session identifiers (e.g. Amr-9/sayl).
func newCorrelationID() string {
	return uuid.NewString()
}
