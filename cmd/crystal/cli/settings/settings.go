// Package settings provides configuration loading for Crystal.
// This package is separate from cli so that domain packages can import it
// without creating an import cycle (cli imports them).
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
)

// DefaultCommitModeName is the commit mode used when none is configured.
// Duplicated here to avoid importing the commitmode package (which would
// create a cycle).
const DefaultCommitModeName = "checkpoint"

// CrystalSettings represents the .crystal/settings.json configuration.
type CrystalSettings struct {
	// CommitMode is the default commit mode for new sessions
	// (structured, checkpoint, or disabled).
	CommitMode string `json:"commit_mode"`

	// CheckpointPrefix is the commit message prefix for checkpoint commits.
	CheckpointPrefix string `json:"checkpoint_prefix,omitempty"`

	// StructuredTimeoutMs bounds the wait for an agent-authored commit in
	// structured mode. Zero means use the built-in default.
	StructuredTimeoutMs int `json:"structured_timeout_ms,omitempty"`

	// Enabled indicates whether Crystal tracking is active. When false,
	// commands log and exit silently. Defaults to true.
	Enabled bool `json:"enabled"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	// Can be overridden by CRYSTAL_LOG_LEVEL environment variable.
	// Defaults to "info".
	LogLevel string `json:"log_level,omitempty"`

	// Telemetry controls anonymous usage analytics.
	// nil = not asked yet (show prompt), true = opted in, false = opted out
	Telemetry *bool `json:"telemetry,omitempty"`
}

// Load loads settings from <worktree>/.crystal/settings.json, then applies any
// overrides from .crystal/settings.local.json if it exists.
// Returns default settings if neither file exists.
func Load(worktreePath string) (*CrystalSettings, error) {
	settings, err := loadFromFile(paths.SettingsPath(worktreePath))
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	localData, err := os.ReadFile(paths.LocalSettingsPath(worktreePath)) //nolint:gosec // path derived from constants
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
		// Local file doesn't exist, continue without overrides
	} else {
		if err := mergeJSON(settings, localData); err != nil {
			return nil, fmt.Errorf("merging local settings: %w", err)
		}
	}

	applyDefaults(settings)

	return settings, nil
}

// loadFromFile loads settings from a specific file path.
// Returns default settings if the file doesn't exist.
func loadFromFile(filePath string) (*CrystalSettings, error) {
	settings := &CrystalSettings{
		CommitMode: DefaultCommitModeName,
		Enabled:    true, // Default to enabled
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from caller
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("%w", err)
	}

	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	applyDefaults(settings)

	return settings, nil
}

// mergeJSON merges JSON data into existing settings.
// Only fields present in the JSON override existing settings.
func mergeJSON(settings *CrystalSettings, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	if modeRaw, ok := raw["commit_mode"]; ok {
		var m string
		if err := json.Unmarshal(modeRaw, &m); err != nil {
			return fmt.Errorf("parsing commit_mode field: %w", err)
		}
		if m != "" {
			settings.CommitMode = m
		}
	}

	if prefixRaw, ok := raw["checkpoint_prefix"]; ok {
		var p string
		if err := json.Unmarshal(prefixRaw, &p); err != nil {
			return fmt.Errorf("parsing checkpoint_prefix field: %w", err)
		}
		if p != "" {
			settings.CheckpointPrefix = p
		}
	}

	if timeoutRaw, ok := raw["structured_timeout_ms"]; ok {
		var ms int
		if err := json.Unmarshal(timeoutRaw, &ms); err != nil {
			return fmt.Errorf("parsing structured_timeout_ms field: %w", err)
		}
		if ms > 0 {
			settings.StructuredTimeoutMs = ms
		}
	}

	if enabledRaw, ok := raw["enabled"]; ok {
		var e bool
		if err := json.Unmarshal(enabledRaw, &e); err != nil {
			return fmt.Errorf("parsing enabled field: %w", err)
		}
		settings.Enabled = e
	}

	if logLevelRaw, ok := raw["log_level"]; ok {
		var ll string
		if err := json.Unmarshal(logLevelRaw, &ll); err != nil {
			return fmt.Errorf("parsing log_level field: %w", err)
		}
		if ll != "" {
			settings.LogLevel = ll
		}
	}

	if telemetryRaw, ok := raw["telemetry"]; ok {
		var t bool
		if err := json.Unmarshal(telemetryRaw, &t); err != nil {
			return fmt.Errorf("parsing telemetry field: %w", err)
		}
		settings.Telemetry = &t
	}

	return nil
}

func applyDefaults(settings *CrystalSettings) {
	if settings.CommitMode == "" {
		settings.CommitMode = DefaultCommitModeName
	}
}

// Save writes settings to <worktree>/.crystal/settings.json, creating the
// .crystal directory if needed.
func Save(worktreePath string, s *CrystalSettings) error {
	dir := filepath.Join(worktreePath, paths.CrystalDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(paths.SettingsPath(worktreePath), data, 0o600); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	return nil
}

// SaveLocal writes settings to <worktree>/.crystal/settings.local.json.
// Local settings override project settings and should be gitignored.
func SaveLocal(worktreePath string, s *CrystalSettings) error {
	dir := filepath.Join(worktreePath, paths.CrystalDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(paths.LocalSettingsPath(worktreePath), data, 0o600); err != nil {
		return fmt.Errorf("writing local settings file: %w", err)
	}
	return nil
}
