// Package tracker brackets each unit of agent work in a git worktree: it
// snapshots the repository before the agent runs, drives the session's commit
// policy when the work ends, captures the resulting delta, and guarantees
// exactly one diff record per execution.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/autocommit"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/commitmode"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/events"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/gitdiff"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/logging"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/session"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/settings"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/validation"
	"github.com/eshaffer321/crystal/redact"
)

// Execution is the in-memory context of one tracked execution, keyed by
// session. At most one exists per session; starting again overwrites.
type Execution struct {
	SessionID         string    `json:"session_id"`
	WorktreePath      string    `json:"worktree_path"`
	PromptMarkerID    *int      `json:"prompt_marker_id,omitempty"`
	Prompt            string    `json:"prompt,omitempty"`
	BeforeCommitHash  string    `json:"before_commit_hash"`
	ExecutionSequence int       `json:"execution_sequence"`
	StartedAt         time.Time `json:"started_at"`
}

// Tracker owns the per-session execution contexts. All methods are safe for
// concurrent use across sessions; within one session the caller must
// sequence start/end/cancel, since only one execution may be in flight.
type Tracker struct {
	mu       sync.Mutex
	contexts map[string]*Execution

	sessions     session.Service
	capturer     gitdiff.Capturer
	orchestrator *autocommit.Orchestrator
	notifier     *events.Notifier
}

// New creates a tracker. notifier may be nil if no listener cares about
// lifecycle events.
func New(sessions session.Service, capturer gitdiff.Capturer, orchestrator *autocommit.Orchestrator, notifier *events.Notifier) *Tracker {
	return &Tracker{
		contexts:     make(map[string]*Execution),
		sessions:     sessions,
		capturer:     capturer,
		orchestrator: orchestrator,
		notifier:     notifier,
	}
}

// StartExecution allocates the next execution sequence, snapshots the
// worktree's HEAD, and registers a context for the session. No context is
// stored if sequence allocation or the hash read fails.
func (t *Tracker) StartExecution(ctx context.Context, sessionID, worktreePath string, promptMarkerID *int, prompt string) (*Execution, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := validation.ValidateWorktreePath(worktreePath); err != nil {
		return nil, err
	}
	if err := validation.ValidatePromptMarkerID(promptMarkerID); err != nil {
		return nil, err
	}

	seq, err := t.sessions.NextExecutionSequence(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate execution sequence: %w", err)
	}

	beforeHash, err := t.capturer.CurrentCommitHash(ctx, worktreePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree HEAD: %w", err)
	}

	exec := &Execution{
		SessionID:         sessionID,
		WorktreePath:      worktreePath,
		PromptMarkerID:    promptMarkerID,
		Prompt:            prompt,
		BeforeCommitHash:  beforeHash,
		ExecutionSequence: seq,
		StartedAt:         time.Now(),
	}

	t.mu.Lock()
	if _, exists := t.contexts[sessionID]; exists {
		logging.Warn(ctx, "overwriting active execution context",
			slog.String("session_id", sessionID),
			slog.Int("execution_sequence", seq))
	}
	t.contexts[sessionID] = exec
	t.mu.Unlock()

	logging.Info(ctx, "execution started",
		slog.String("session_id", sessionID),
		slog.Int("execution_sequence", seq),
		slog.String("before_commit_hash", beforeHash))

	t.notifier.Publish(events.Event{
		Name:              events.ExecutionStarted,
		SessionID:         sessionID,
		ExecutionSequence: seq,
	})

	return exec, nil
}

// Adopt registers a previously created execution context, typically one
// persisted by a start command and reloaded in a later process. It does not
// emit a started event; the original start already did.
func (t *Tracker) Adopt(exec *Execution) {
	if exec == nil {
		return
	}
	t.mu.Lock()
	t.contexts[exec.SessionID] = exec
	t.mu.Unlock()
}

// IsTracking reports whether the session has an active execution context.
func (t *Tracker) IsTracking(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.contexts[sessionID]
	return ok
}

// ExecutionContext returns a copy of the session's active context, or nil.
func (t *Tracker) ExecutionContext(sessionID string) *Execution {
	t.mu.Lock()
	defer t.mu.Unlock()
	exec, ok := t.contexts[sessionID]
	if !ok {
		return nil
	}
	copied := *exec
	return &copied
}

// CancelExecution drops the session's tracking state and emits a
// cancellation event. A commit or diff already made is not undone. No-op
// without event if the session is not tracked.
func (t *Tracker) CancelExecution(ctx context.Context, sessionID string) {
	t.mu.Lock()
	exec, ok := t.contexts[sessionID]
	if ok {
		delete(t.contexts, sessionID)
	}
	t.mu.Unlock()

	if !ok {
		logging.Debug(ctx, "cancel requested for untracked session",
			slog.String("session_id", sessionID))
		return
	}

	logging.Info(ctx, "execution cancelled",
		slog.String("session_id", sessionID),
		slog.Int("execution_sequence", exec.ExecutionSequence))

	t.notifier.Publish(events.Event{
		Name:              events.ExecutionCancelled,
		SessionID:         sessionID,
		ExecutionSequence: exec.ExecutionSequence,
	})
}

// EndExecution completes tracking for the session: it resolves the commit
// policy, runs the commit phase (and the bounded structured wait when the
// agent owns committing), captures the delta, and persists exactly one diff
// record, zero-stat included.
//
// Returns (nil, nil) when the session has no active context. The context is
// always released, on failure paths too; errors after the commit phase do
// not roll back any commit already made.
func (t *Tracker) EndExecution(ctx context.Context, sessionID string) (*session.ExecutionDiff, error) {
	t.mu.Lock()
	exec, ok := t.contexts[sessionID]
	t.mu.Unlock()

	if !ok {
		logging.Warn(ctx, "end requested for untracked session",
			slog.String("session_id", sessionID))
		return nil, nil
	}

	// Cleanup is unconditional: the registry entry goes away whether the
	// remaining steps succeed or not.
	defer func() {
		t.mu.Lock()
		delete(t.contexts, sessionID)
		t.mu.Unlock()
	}()

	defer logging.LogDuration(ctx, slog.LevelInfo, "execution end processed", time.Now(),
		slog.String("session_id", sessionID),
		slog.Int("execution_sequence", exec.ExecutionSequence))

	record, err := t.sessions.GetSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	// Worktree settings are the fallback layer: an explicit policy on the
	// session record still wins.
	fallback := commitmode.Defaults()
	if ws, wsErr := settings.Load(exec.WorktreePath); wsErr == nil {
		fallback = commitmode.WorktreeDefaults(ws)
	}
	policy := commitmode.ResolveWith(ctx, record, fallback)
	logging.Debug(ctx, "commit mode resolved",
		slog.String("mode", string(policy.Mode)))

	commitResult := t.orchestrator.HandlePostPromptCommit(ctx, sessionID, exec.WorktreePath, policy, exec.Prompt, exec.ExecutionSequence)
	if !commitResult.Success {
		// Already reported to the session output stream; tracking continues
		// so the diff record is still produced.
		logging.Warn(ctx, "commit phase failed, continuing with diff capture",
			slog.String("error", commitResult.Error))
	}

	if policy.Mode == commitmode.ModeStructured {
		timeout := time.Duration(policy.StructuredTimeoutMs) * time.Millisecond
		t.orchestrator.WaitForStructuredCommit(ctx, sessionID, exec.WorktreePath, exec.BeforeCommitHash, timeout)
	}

	afterHash, err := t.capturer.CurrentCommitHash(ctx, exec.WorktreePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree HEAD after execution: %w", err)
	}

	var diff *gitdiff.Result
	if afterHash == exec.BeforeCommitHash {
		diff, err = t.capturer.CaptureWorkingDiff(ctx, exec.WorktreePath)
	} else {
		diff, err = t.capturer.CaptureCommitDiff(ctx, exec.WorktreePath, exec.BeforeCommitHash, afterHash)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to capture execution diff: %w", err)
	}

	diffRecord, err := t.sessions.CreateExecutionDiff(&session.ExecutionDiff{
		SessionID:         sessionID,
		PromptMarkerID:    exec.PromptMarkerID,
		ExecutionSequence: exec.ExecutionSequence,
		Diff:              redact.Patch(diff.Diff),
		ChangedFiles:      diff.ChangedFiles,
		StatsAdditions:    diff.Stats.Additions,
		StatsDeletions:    diff.Stats.Deletions,
		StatsFilesChanged: diff.Stats.FilesChanged,
		BeforeCommitHash:  exec.BeforeCommitHash,
		AfterCommitHash:   afterHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist execution diff: %w", err)
	}

	logging.Info(ctx, "execution completed",
		slog.String("session_id", sessionID),
		slog.Int("execution_sequence", exec.ExecutionSequence),
		slog.String("diff_id", diffRecord.ID),
		slog.Int("files_changed", diff.Stats.FilesChanged))

	t.notifier.Publish(events.Event{
		Name:              events.ExecutionCompleted,
		SessionID:         sessionID,
		ExecutionSequence: exec.ExecutionSequence,
		DiffID:            diffRecord.ID,
		Stats:             diff.Stats,
	})

	return diffRecord, nil
}
