// Package autocommit executes a session's commit policy at the end of each
// tracked execution: commits automatically in checkpoint mode, observes the
// agent's own commit in structured mode with a bounded wait, or does nothing
// when commits are disabled. Every outcome is reported to the session's
// output stream so the user always sees what happened.
package autocommit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/commitmode"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/gitdiff"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/logging"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/session"
)

// DefaultPollInterval is how often the structured-commit wait re-reads HEAD.
const DefaultPollInterval = 500 * time.Millisecond

// Result reports the outcome of a commit attempt or wait. Commit failures
// and timeouts are carried here, not returned as errors: they are normal
// operational outcomes.
type Result struct {
	Success    bool
	CommitHash string
	Error      string
}

// Orchestrator runs commit policies against a worktree.
type Orchestrator struct {
	capturer     gitdiff.Capturer
	sessions     session.Service
	pollInterval time.Duration
}

// New creates an orchestrator using the given repository capturer and
// session store.
func New(capturer gitdiff.Capturer, sessions session.Service) *Orchestrator {
	return &Orchestrator{
		capturer:     capturer,
		sessions:     sessions,
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval overrides the structured-wait poll interval. Tests use
// this to avoid real half-second sleeps.
func (o *Orchestrator) SetPollInterval(d time.Duration) {
	if d > 0 {
		o.pollInterval = d
	}
}

// HandlePostPromptCommit executes the resolved commit policy after an
// execution finishes. It never returns an error; failures are reported in
// the Result and mirrored to the session output stream.
//
// disabled performs nothing. checkpoint stages and commits all pending
// changes with the configured prefix; a clean tree is a success no-op whose
// hash is HEAD. structured returns immediately with no hash, since the agent
// is expected to commit on its own; completion is observed separately via
// WaitForStructuredCommit.
func (o *Orchestrator) HandlePostPromptCommit(ctx context.Context, sessionID, worktreePath string, settings commitmode.Settings, prompt string, executionSequence int) Result {
	switch settings.Mode {
	case commitmode.ModeDisabled:
		logging.Debug(ctx, "commit mode disabled, skipping commit")
		return Result{Success: true}

	case commitmode.ModeStructured:
		o.emit(ctx, sessionID, session.OutputEvent{
			Subtype: session.SubtypeAutoCommitMode,
			Mode:    string(settings.Mode),
			Message: "structured commit mode: waiting for the agent to commit",
		})
		return Result{Success: true}

	case commitmode.ModeCheckpoint:
		message := CommitMessage(settings.CheckpointPrefix, prompt, executionSequence)
		hash, created, err := createCheckpointCommit(worktreePath, message)
		if err != nil {
			logging.Error(ctx, "checkpoint commit failed", slog.String("error", err.Error()))
			o.emit(ctx, sessionID, session.OutputEvent{
				Subtype: session.SubtypeAutoCommitError,
				Mode:    string(settings.Mode),
				Error:   err.Error(),
				Message: "failed to create checkpoint commit",
			})
			return Result{Success: false, Error: err.Error()}
		}

		msg := "created checkpoint commit"
		if !created {
			msg = "no changes to commit"
		}
		logging.Info(ctx, msg, slog.String("commit_hash", hash))
		o.emit(ctx, sessionID, session.OutputEvent{
			Subtype:    session.SubtypeAutoCommitSuccess,
			Mode:       string(settings.Mode),
			CommitHash: hash,
			Message:    msg,
		})
		return Result{Success: true, CommitHash: hash}

	default:
		// Resolver guarantees a known mode; treat anything else as disabled.
		logging.Warn(ctx, "unknown commit mode, skipping commit",
			slog.String("mode", string(settings.Mode)))
		return Result{Success: true}
	}
}

// WaitForStructuredCommit polls the worktree until HEAD moves past
// baselineHash or the timeout elapses. Detection is best effort: the agent
// may legitimately choose not to commit, which surfaces as a timeout event
// rather than an error.
func (o *Orchestrator) WaitForStructuredCommit(ctx context.Context, sessionID, worktreePath, baselineHash string, timeout time.Duration) Result {
	deadline := time.Now().Add(timeout)

	for {
		hash, err := o.capturer.CurrentCommitHash(ctx, worktreePath)
		if err != nil {
			logging.Error(ctx, "failed to read HEAD while waiting for agent commit",
				slog.String("error", err.Error()))
			o.emit(ctx, sessionID, session.OutputEvent{
				Subtype: session.SubtypeAutoCommitError,
				Mode:    string(commitmode.ModeStructured),
				Error:   err.Error(),
				Message: "failed to observe worktree for agent commit",
			})
			return Result{Success: false, Error: err.Error()}
		}

		if hash != baselineHash {
			logging.Info(ctx, "agent commit detected", slog.String("commit_hash", hash))
			o.emit(ctx, sessionID, session.OutputEvent{
				Subtype:    session.SubtypeAutoCommitClaudeSuccess,
				Mode:       string(commitmode.ModeStructured),
				CommitHash: hash,
				Message:    "agent created a commit",
			})
			return Result{Success: true, CommitHash: hash}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			errMsg := fmt.Sprintf("no agent commit detected within %s", timeout)
			logging.Warn(ctx, "structured commit wait timed out",
				slog.Int64("timeout_ms", timeout.Milliseconds()))
			o.emit(ctx, sessionID, session.OutputEvent{
				Subtype: session.SubtypeAutoCommitTimeout,
				Mode:    string(commitmode.ModeStructured),
				Error:   errMsg,
				Message: "agent did not commit within the time limit",
			})
			return Result{Success: false, Error: errMsg}
		}

		wait := o.pollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return Result{Success: false, Error: ctx.Err().Error()}
		case <-time.After(wait):
		}
	}
}

// emit appends an output event to the session stream. Emission failures are
// logged and swallowed; output is informational and must never break
// tracking.
func (o *Orchestrator) emit(ctx context.Context, sessionID string, event session.OutputEvent) {
	event.Type = "system"
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := o.sessions.AddSessionOutput(sessionID, event); err != nil {
		logging.Warn(ctx, "failed to append session output",
			slog.String("subtype", event.Subtype),
			slog.String("error", err.Error()))
	}
}

// createCheckpointCommit stages all pending changes and commits them.
// Returns the new commit hash, or HEAD with created=false when there was
// nothing to commit.
func createCheckpointCommit(worktreePath string, message string) (string, bool, error) {
	repo, err := git.PlainOpenWithOptions(worktreePath, &git.PlainOpenOptions{
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to open repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", false, fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", false, fmt.Errorf("failed to stage changes: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: commitAuthor(repo)})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, headErr := repo.Head()
		if headErr != nil {
			return "", false, fmt.Errorf("failed to get HEAD: %w", headErr)
		}
		return head.Hash().String(), false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), true, nil
}

// commitAuthor builds the commit signature from repo config, falling back to
// a fixed identity so checkpoint commits work in worktrees without user
// configuration.
func commitAuthor(repo *git.Repository) *object.Signature {
	sig := &object.Signature{
		Name:  "Crystal",
		Email: "crystal@localhost",
		When:  time.Now(),
	}
	cfg, err := repo.ConfigScoped(gitconfig.SystemScope)
	if err != nil {
		return sig
	}
	if cfg.User.Name != "" {
		sig.Name = cfg.User.Name
	}
	if cfg.User.Email != "" {
		sig.Email = cfg.User.Email
	}
	return sig
}
