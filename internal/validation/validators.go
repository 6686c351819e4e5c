// Package validation provides input validation and sanitization for
// identifiers that end up in file paths or git reference names. This
// package has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, and hyphens only.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// unsafeEntryIDChar matches any character outside [A-Za-z0-9-].
var unsafeEntryIDChar = regexp.MustCompile(`[^A-Za-z0-9-]`)

// uuidRegex matches a 36-character hyphenated UUID.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidateSessionID validates that a session ID doesn't contain path separators.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	return nil
}

// ValidateSessionUUID validates that a session ID is a 36-character hyphenated UUID,
// as required by the checkpoint naming grammar.
func ValidateSessionUUID(id string) error {
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid session ID %q: must be a 36-character UUID", id)
	}
	return nil
}

// ValidateTraceID validates that a trace ID contains only path-safe characters.
func ValidateTraceID(id string) error {
	if id == "" {
		return errors.New("trace ID cannot be empty")
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid trace ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// SanitizeEntryID maps any character outside [A-Za-z0-9-] to '_', per the
// checkpoint naming grammar (§4.6).
func SanitizeEntryID(entryID string) string {
	return unsafeEntryIDChar.ReplaceAllString(entryID, "_")
}

// PathSafe reports whether a string is safe to embed in a file path
// (alphanumeric, underscore, hyphen only).
func PathSafe(s string) bool {
	return pathSafeRegex.MatchString(s)
}
