package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/autocommit"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/events"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/gitdiff"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/jsonutil"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/logging"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/session"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/tracker"
)

func newTrackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Track agent executions",
		Long: `Commands called around agent executions. 'start' registers an execution
context before the agent runs, 'end' finalizes it and records the diff,
and 'cancel' discards it without recording anything.`,
	}

	cmd.AddCommand(newTrackStartCmd())
	cmd.AddCommand(newTrackEndCmd())
	cmd.AddCommand(newTrackCancelCmd())
	cmd.AddCommand(newTrackStatusCmd())

	return cmd
}

// trackEnv bundles the per-invocation dependencies the track subcommands
// share. Each CLI process is short-lived, so the tracker starts empty and
// pending execution contexts are adopted from disk.
type trackEnv struct {
	worktree string
	stateDir string
	store    *session.Store
	tracker  *tracker.Tracker
}

func newTrackEnv(worktreeFlag string) (*trackEnv, error) {
	worktree := worktreeFlag
	if worktree == "" {
		root, err := paths.RepoRoot()
		if err != nil {
			return nil, fmt.Errorf("not in a git repository (use --worktree): %w", err)
		}
		worktree = root
	}

	stateDir, err := paths.StateDir(worktree)
	if err != nil {
		return nil, fmt.Errorf("resolving state directory: %w", err)
	}

	store := session.NewStore(stateDir)
	capturer := gitdiff.NewCapturer()
	orchestrator := autocommit.New(capturer, store)

	return &trackEnv{
		worktree: worktree,
		stateDir: stateDir,
		store:    store,
		tracker:  tracker.New(store, capturer, orchestrator, events.NewNotifier()),
	}, nil
}

func newTrackStartCmd() *cobra.Command {
	var sessionID string
	var worktree string
	var prompt string
	var promptMarker int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Register an execution context before the agent runs",
		Long: `Register an execution context for a session. The prompt is read from
--prompt or, when the flag is omitted and stdin is not a terminal, from
stdin. Starting while an execution is already pending replaces it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}

			env, err := newTrackEnv(worktree)
			if err != nil {
				return err
			}

			if err := logging.Init(sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
			}
			defer logging.Close()

			if prompt == "" && !isInteractive() {
				data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
				if err != nil {
					return fmt.Errorf("reading prompt from stdin: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}

			var markerID *int
			if cmd.Flags().Changed("prompt-marker") {
				markerID = &promptMarker
			}

			exec, err := env.tracker.StartExecution(cmd.Context(), sessionID, env.worktree, markerID, prompt)
			if err != nil {
				return fmt.Errorf("starting execution: %w", err)
			}

			if err := tracker.SavePending(env.stateDir, exec); err != nil {
				return fmt.Errorf("persisting execution context: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Tracking execution %d for session %s (base %s)\n",
				exec.ExecutionSequence, exec.SessionID, shortHash(exec.BeforeCommitHash))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session identifier (required)")
	cmd.Flags().StringVar(&worktree, "worktree", "", "Worktree path (default: current repository root)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text for commit message generation")
	cmd.Flags().IntVar(&promptMarker, "prompt-marker", 0, "Prompt marker ID to associate with the diff record")
	_ = cmd.MarkFlagRequired("session") //nolint:errcheck // flag is defined above

	return cmd
}

func newTrackEndCmd() *cobra.Command {
	var sessionID string
	var worktree string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "end",
		Short: "Finalize an execution and record its diff",
		Long: `Finalize the pending execution for a session: run the configured commit
mode, capture the resulting diff, and store one diff record. A no-op if
no execution is pending.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}

			env, err := newTrackEnv(worktree)
			if err != nil {
				return err
			}

			if err := logging.Init(sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
			}
			defer logging.Close()

			pending, err := tracker.LoadPending(env.stateDir, sessionID)
			if err != nil {
				return fmt.Errorf("loading execution context: %w", err)
			}
			if pending != nil {
				env.tracker.Adopt(pending)
			}

			diff, err := env.tracker.EndExecution(cmd.Context(), sessionID)

			// The context is consumed whether finalization succeeded or not.
			if clearErr := tracker.ClearPending(env.stateDir, sessionID); clearErr != nil {
				logging.Warn(cmd.Context(), "failed to clear pending execution",
					"session_id", sessionID, "error", clearErr.Error())
			}

			if err != nil {
				return fmt.Errorf("ending execution: %w", err)
			}
			if diff == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No active execution for session %s\n", sessionID)
				return nil
			}

			if asJSON {
				data, err := jsonutil.MarshalIndentWithNewline(diff)
				if err != nil {
					return fmt.Errorf("marshaling diff record: %w", err)
				}
				cmd.OutOrStdout().Write(data) //nolint:errcheck,gosec // best-effort output
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Recorded diff %s for execution %d (+%d -%d, %d files)\n",
				diff.ID, diff.ExecutionSequence, diff.StatsAdditions, diff.StatsDeletions, diff.StatsFilesChanged)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session identifier (required)")
	cmd.Flags().StringVar(&worktree, "worktree", "", "Worktree path (default: current repository root)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full diff record as JSON")
	_ = cmd.MarkFlagRequired("session") //nolint:errcheck // flag is defined above

	return cmd
}

func newTrackCancelCmd() *cobra.Command {
	var sessionID string
	var worktree string

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Discard the pending execution without recording a diff",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}

			env, err := newTrackEnv(worktree)
			if err != nil {
				return err
			}

			if err := logging.Init(sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
			}
			defer logging.Close()

			pending, err := tracker.LoadPending(env.stateDir, sessionID)
			if err != nil {
				return fmt.Errorf("loading execution context: %w", err)
			}
			if pending == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No active execution for session %s\n", sessionID)
				return nil
			}

			env.tracker.Adopt(pending)
			env.tracker.CancelExecution(cmd.Context(), sessionID)

			if err := tracker.ClearPending(env.stateDir, sessionID); err != nil {
				return fmt.Errorf("clearing execution context: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled execution %d for session %s\n",
				pending.ExecutionSequence, sessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session identifier (required)")
	cmd.Flags().StringVar(&worktree, "worktree", "", "Worktree path (default: current repository root)")
	_ = cmd.MarkFlagRequired("session") //nolint:errcheck // flag is defined above

	return cmd
}

func newTrackStatusCmd() *cobra.Command {
	var sessionID string
	var worktree string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether an execution is pending for a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newTrackEnv(worktree)
			if err != nil {
				return err
			}

			pending, err := tracker.LoadPending(env.stateDir, sessionID)
			if err != nil {
				return fmt.Errorf("loading execution context: %w", err)
			}
			if pending == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No active execution for session %s\n", sessionID)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Execution %d pending since %s (base %s)\n",
				pending.ExecutionSequence,
				pending.StartedAt.Format("2006-01-02 15:04:05"),
				shortHash(pending.BeforeCommitHash))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session identifier (required)")
	cmd.Flags().StringVar(&worktree, "worktree", "", "Worktree path (default: current repository root)")
	_ = cmd.MarkFlagRequired("session") //nolint:errcheck // flag is defined above

	return cmd
}

// shortHash returns the first 8 characters of a commit hash for display.
func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
