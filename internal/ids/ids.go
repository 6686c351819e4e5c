// Package ids generates and validates the identifiers this module issues:
// trace ids and (when not supplied by the host) session ids.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// NewTraceID returns a fresh, path-safe trace identifier.
func NewTraceID() string {
	return "trace-" + uuid.NewString()
}

// NewSessionID returns a fresh 36-character hyphenated UUID, suitable for
// the checkpoint naming grammar's session_id segment (§4.6/§6).
func NewSessionID() string {
	return uuid.NewString()
}

// IsUUID reports whether s parses as a UUID (used to recognize the new
// checkpoint name format's session_id segment vs. the legacy format).
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// ValidateUUID returns an error if s does not parse as a UUID.
func ValidateUUID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return nil
}
