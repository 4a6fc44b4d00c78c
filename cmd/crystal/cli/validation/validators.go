// Package validation provides input validation for the Crystal CLI.
// This package has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, and hyphens only.
// Used to validate IDs that will be used in file paths.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateSessionID validates that a session ID doesn't contain path separators.
// This prevents path traversal when session IDs are used in file paths.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid session ID %q: contains path separators", id)
	}
	return nil
}

// ValidatePromptMarkerID validates an optional prompt marker identifier.
// Markers are small integers assigned by the host; negative values are rejected.
func ValidatePromptMarkerID(id *int) error {
	if id == nil {
		return nil // Optional field
	}
	if *id < 0 {
		return fmt.Errorf("invalid prompt marker ID %d: must be non-negative", *id)
	}
	return nil
}

// ValidateCommitHash validates that a string looks like a git object hash.
// Accepts full 40-char SHA-1 and abbreviated forms of at least 7 characters.
func ValidateCommitHash(hash string) error {
	if hash == "" {
		return errors.New("commit hash cannot be empty")
	}
	if len(hash) < 7 || len(hash) > 64 {
		return fmt.Errorf("invalid commit hash %q: unexpected length", hash)
	}
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') && (r < 'A' || r > 'F') {
			return fmt.Errorf("invalid commit hash %q: non-hex character", hash)
		}
	}
	return nil
}

// ValidateWorktreePath validates that a worktree path is non-empty and does not
// contain NUL bytes (which would corrupt subprocess arguments).
func ValidateWorktreePath(path string) error {
	if path == "" {
		return errors.New("worktree path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("invalid worktree path %q", path)
	}
	return nil
}

// IsPathSafe reports whether id contains only path-safe characters.
func IsPathSafe(id string) bool {
	return pathSafeRegex.MatchString(id)
}
