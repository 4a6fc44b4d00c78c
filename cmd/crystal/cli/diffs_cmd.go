package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/gitdiff"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/jsonutil"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/session"
)

func newDiffsCmd() *cobra.Command {
	var worktree string
	var asJSON bool
	var combined bool
	var sequence int

	cmd := &cobra.Command{
		Use:   "diffs <session-id>",
		Short: "List recorded execution diffs for a session",
		Long: `List the diff records captured for a session, in execution order.
With --combined the per-execution diffs are aggregated into a single
patch with summed stats and a deduplicated file list. With --sequence
only the matching record is shown, with its full patch text.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]

			env, err := newTrackEnv(worktree)
			if err != nil {
				return err
			}

			diffs, err := env.store.GetExecutionDiffs(sessionID)
			if err != nil {
				return fmt.Errorf("listing diffs: %w", err)
			}

			if cmd.Flags().Changed("sequence") {
				return printSingleDiff(cmd, diffs, sequence, asJSON)
			}

			if combined {
				return printCombinedDiff(cmd, diffs, asJSON)
			}

			if asJSON {
				data, err := jsonutil.MarshalIndentWithNewline(diffs)
				if err != nil {
					return fmt.Errorf("marshaling diff records: %w", err)
				}
				cmd.OutOrStdout().Write(data) //nolint:errcheck,gosec // best-effort output
				return nil
			}

			if len(diffs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No diffs recorded for session %s\n", sessionID)
				return nil
			}

			for _, d := range diffs {
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s  +%d -%d  %d files  %s\n",
					d.ExecutionSequence, d.ID,
					d.StatsAdditions, d.StatsDeletions, d.StatsFilesChanged,
					d.Timestamp.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&worktree, "worktree", "", "Worktree path (default: current repository root)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	cmd.Flags().BoolVar(&combined, "combined", false, "Aggregate all diffs into one")
	cmd.Flags().IntVar(&sequence, "sequence", 0, "Show only the record with this execution sequence")

	return cmd
}

func printSingleDiff(cmd *cobra.Command, diffs []*session.ExecutionDiff, sequence int, asJSON bool) error {
	for _, d := range diffs {
		if d.ExecutionSequence != sequence {
			continue
		}
		if asJSON {
			data, err := jsonutil.MarshalIndentWithNewline(d)
			if err != nil {
				return fmt.Errorf("marshaling diff record: %w", err)
			}
			cmd.OutOrStdout().Write(data) //nolint:errcheck,gosec // best-effort output
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "execution %d  %s  +%d -%d  %d files  (%s..%s)\n",
			d.ExecutionSequence, d.ID,
			d.StatsAdditions, d.StatsDeletions, d.StatsFilesChanged,
			shortHash(d.BeforeCommitHash), shortHash(d.AfterCommitHash))
		if d.Diff != "" {
			fmt.Fprint(cmd.OutOrStdout(), d.Diff)
		}
		return nil
	}
	return fmt.Errorf("no diff record with sequence %d", sequence)
}

func printCombinedDiff(cmd *cobra.Command, diffs []*session.ExecutionDiff, asJSON bool) error {
	results := make([]*gitdiff.Result, 0, len(diffs))
	for _, d := range diffs {
		results = append(results, &gitdiff.Result{
			Diff: d.Diff,
			Stats: gitdiff.Stats{
				Additions:    d.StatsAdditions,
				Deletions:    d.StatsDeletions,
				FilesChanged: d.StatsFilesChanged,
			},
			ChangedFiles: d.ChangedFiles,
			BeforeHash:   d.BeforeCommitHash,
			AfterHash:    d.AfterCommitHash,
		})
	}

	combined := gitdiff.Combine(results)

	if asJSON {
		data, err := jsonutil.MarshalIndentWithNewline(combined)
		if err != nil {
			return fmt.Errorf("marshaling combined diff: %w", err)
		}
		cmd.OutOrStdout().Write(data) //nolint:errcheck,gosec // best-effort output
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d executions, +%d -%d, %d files (%s..%s)\n",
		len(diffs), combined.Stats.Additions, combined.Stats.Deletions,
		combined.Stats.FilesChanged,
		shortHash(combined.BeforeHash), shortHash(combined.AfterHash))
	if combined.Diff != "" {
		fmt.Fprint(cmd.OutOrStdout(), combined.Diff)
	}
	return nil
}
