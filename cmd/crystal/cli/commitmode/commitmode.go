// Package commitmode derives the effective commit policy for a session from
// persisted configuration, including legacy fields and malformed payloads.
package commitmode

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/logging"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/session"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/settings"
)

// Mode is a commit policy name.
type Mode string

const (
	// ModeStructured defers committing to the agent; the tracker only
	// observes and reports.
	ModeStructured Mode = "structured"

	// ModeCheckpoint commits all pending changes automatically after each
	// execution.
	ModeCheckpoint Mode = "checkpoint"

	// ModeDisabled performs no commits.
	ModeDisabled Mode = "disabled"
)

// DefaultCheckpointPrefix is the commit message prefix for checkpoint commits.
const DefaultCheckpointPrefix = "checkpoint: "

// DefaultStructuredTimeoutMs bounds the wait for an agent-authored commit.
const DefaultStructuredTimeoutMs = 5000

// Settings is the resolved commit policy for one execution end. Derived
// fresh each time, never persisted by this package.
type Settings struct {
	Mode                Mode   `json:"mode"`
	CheckpointPrefix    string `json:"checkpointPrefix"`
	StructuredTimeoutMs int    `json:"structuredTimeoutMs"`
}

// Defaults returns the safe fallback policy: checkpoint mode with the
// standard prefix.
func Defaults() Settings {
	return Settings{
		Mode:                ModeCheckpoint,
		CheckpointPrefix:    DefaultCheckpointPrefix,
		StructuredTimeoutMs: DefaultStructuredTimeoutMs,
	}
}

// WorktreeDefaults converts worktree settings into the fallback commit
// policy used when a session record carries no explicit policy. Unknown
// modes and unset fields fall back to the built-in defaults.
func WorktreeDefaults(ws *settings.CrystalSettings) Settings {
	d := Defaults()
	if ws == nil {
		return d
	}
	if m := Mode(ws.CommitMode); isValid(m) {
		d.Mode = m
	}
	if ws.CheckpointPrefix != "" {
		d.CheckpointPrefix = ws.CheckpointPrefix
	}
	if ws.StructuredTimeoutMs > 0 {
		d.StructuredTimeoutMs = ws.StructuredTimeoutMs
	}
	return d
}

func isValid(m Mode) bool {
	switch m {
	case ModeStructured, ModeCheckpoint, ModeDisabled:
		return true
	default:
		return false
	}
}

// Resolve derives the commit policy for a session record using the built-in
// defaults as the fallback layer. Most callers want ResolveWith with the
// worktree's configured defaults instead.
func Resolve(ctx context.Context, record *session.Record) Settings {
	return ResolveWith(ctx, record, Defaults())
}

// ResolveWith derives the commit policy for a session record over the given
// fallback policy, typically WorktreeDefaults of the worktree settings.
//
// Precedence:
//  1. An explicit commit mode on the record wins. If the record also carries
//     serialized mode settings, those are parsed and merged over the
//     fallback, with the mode forced back to the explicit value. Parse
//     failures are logged and the fallback used.
//  2. Otherwise the legacy auto-commit boolean maps true to checkpoint and
//     false to disabled.
//  3. Otherwise the fallback policy as given.
//
// ResolveWith never fails: absent or corrupt configuration always yields a
// usable policy.
func ResolveWith(ctx context.Context, record *session.Record, fallback Settings) Settings {
	applyDefaults(&fallback)
	resolved := fallback
	if record == nil {
		return resolved
	}

	if explicit := Mode(record.CommitMode); record.CommitMode != "" {
		if !isValid(explicit) {
			logging.Warn(ctx, "unknown commit mode, using default",
				slog.String("commit_mode", record.CommitMode))
			return resolved
		}
		if record.CommitModeSettings != "" {
			if err := json.Unmarshal([]byte(record.CommitModeSettings), &resolved); err != nil {
				logging.Warn(ctx, "malformed commit mode settings, using defaults",
					slog.String("error", err.Error()))
				resolved = fallback
			}
			applyDefaults(&resolved)
		}
		// The explicit mode always wins over whatever the serialized
		// settings claim.
		resolved.Mode = explicit
		return resolved
	}

	if record.AutoCommit != nil {
		if *record.AutoCommit {
			resolved.Mode = ModeCheckpoint
		} else {
			resolved.Mode = ModeDisabled
		}
		return resolved
	}

	return resolved
}

func applyDefaults(s *Settings) {
	if s.CheckpointPrefix == "" {
		s.CheckpointPrefix = DefaultCheckpointPrefix
	}
	if s.StructuredTimeoutMs <= 0 {
		s.StructuredTimeoutMs = DefaultStructuredTimeoutMs
	}
}
