package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/jsonutil"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/validation"
)

// Pending-execution persistence bridges CLI process boundaries: the start
// command records the context on disk, and a later end command reloads it
// and re-registers it via Adopt.

func pendingPath(stateDir, sessionID string) string {
	return filepath.Join(paths.ExecutionsDir(stateDir), sessionID+".json")
}

// SavePending writes the execution context under the state directory.
func SavePending(stateDir string, exec *Execution) error {
	if err := validation.ValidateSessionID(exec.SessionID); err != nil {
		return err
	}

	if err := os.MkdirAll(paths.ExecutionsDir(stateDir), 0o750); err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	path := pendingPath(stateDir, exec.SessionID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write execution context: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize execution context: %w", err)
	}
	return nil
}

// LoadPending reads a persisted execution context, returning (nil, nil) if
// none exists for the session.
func LoadPending(stateDir, sessionID string) (*Execution, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(pendingPath(stateDir, sessionID)) //nolint:gosec // sessionID validated above
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution context: %w", err)
	}

	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to parse execution context: %w", err)
	}
	return &exec, nil
}

// ClearPending removes the persisted context. Missing files are not errors.
func ClearPending(stateDir, sessionID string) error {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return err
	}

	err := os.Remove(pendingPath(stateDir, sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove execution context: %w", err)
	}
	return nil
}
