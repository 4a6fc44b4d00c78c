// Package session defines session records, output events, and persisted
// execution diffs, plus the storage service the execution tracker depends on.
package session

import "time"

// Output event subtypes appended to a session's output stream.
const (
	SubtypeAutoCommitError         = "autocommit_error"
	SubtypeAutoCommitSuccess       = "autocommit_success"
	SubtypeAutoCommitMode          = "autocommit_mode"
	SubtypeAutoCommitTimeout       = "autocommit_timeout"
	SubtypeAutoCommitClaudeSuccess = "autocommit_claude_success"
)

// Record is the persisted state of one agent session.
type Record struct {
	ID string `json:"id"`

	// Name is an optional human-readable label for the session.
	Name string `json:"name,omitempty"`

	// CommitMode, when set, explicitly selects the commit policy
	// (structured, checkpoint, or disabled).
	CommitMode string `json:"commit_mode,omitempty"`

	// CommitModeSettings is a serialized JSON object carrying mode-specific
	// settings. It may be absent or malformed; consumers must fall back to
	// defaults rather than fail.
	CommitModeSettings string `json:"commit_mode_settings,omitempty"`

	// AutoCommit is the legacy boolean policy toggle, consulted only when
	// CommitMode is empty. true maps to checkpoint, false to disabled.
	AutoCommit *bool `json:"auto_commit,omitempty"`

	// NextExecutionSequence is the counter backing sequence allocation.
	NextExecutionSequence int `json:"next_execution_sequence"`

	WorktreePath string    `json:"worktree_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Outputs is the append-only stream of system events shown to the user.
	Outputs []OutputEvent `json:"outputs,omitempty"`
}

// OutputEvent is one structured entry in a session's output stream.
type OutputEvent struct {
	Type       string    `json:"type"`
	Subtype    string    `json:"subtype"`
	Timestamp  time.Time `json:"timestamp"`
	Mode       string    `json:"mode"`
	CommitHash string    `json:"commit_hash,omitempty"`
	Error      string    `json:"error,omitempty"`
	Message    string    `json:"message"`
}

// ExecutionDiff is the persisted delta of one tracked execution. Created
// exactly once per execution end, including zero-stat records, and never
// mutated afterward.
type ExecutionDiff struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	PromptMarkerID    *int      `json:"prompt_marker_id,omitempty"`
	ExecutionSequence int       `json:"execution_sequence"`
	Diff              string    `json:"diff"`
	ChangedFiles      []string  `json:"changed_files,omitempty"`
	StatsAdditions    int       `json:"stats_additions"`
	StatsDeletions    int       `json:"stats_deletions"`
	StatsFilesChanged int       `json:"stats_files_changed"`
	BeforeCommitHash  string    `json:"before_commit_hash,omitempty"`
	AfterCommitHash   string    `json:"after_commit_hash,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Service is the narrow session-storage surface the execution tracker uses.
// The file-backed Store implements it; tests substitute an in-memory fake.
type Service interface {
	// NextExecutionSequence allocates the next monotonic sequence number
	// for the session.
	NextExecutionSequence(sessionID string) (int, error)

	// GetSession returns the session record, creating a bare one if none
	// has been stored yet.
	GetSession(sessionID string) (*Record, error)

	// AddSessionOutput appends an event to the session's output stream.
	AddSessionOutput(sessionID string, event OutputEvent) error

	// CreateExecutionDiff persists a diff record and returns it with an
	// assigned ID.
	CreateExecutionDiff(diff *ExecutionDiff) (*ExecutionDiff, error)

	// GetExecutionDiffs returns all persisted diff records for the session
	// in execution-sequence order.
	GetExecutionDiffs(sessionID string) ([]*ExecutionDiff, error)
}
