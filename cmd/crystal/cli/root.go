// Package cli wires the Crystal command tree. Subcommands delegate to the
// tracker, session, and settings packages; this package only handles flag
// parsing, output formatting, and process-level concerns.
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/logging"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/settings"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/telemetry"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/versioncheck"
)

const gettingStarted = `

Getting Started:
  Run 'crystal setup' inside a git worktree to configure commit modes
  and enable execution tracking.

`

const accessibilityHelp = `
Environment Variables:
  ACCESSIBLE    Set to any value (e.g., ACCESSIBLE=1) to enable accessibility
                mode. This uses simpler text prompts instead of interactive
                TUI elements, which works better with screen readers.
`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crystal",
		Short: "Crystal CLI",
		Long:  "Execution tracking and commit orchestration for agent sessions" + gettingStarted + accessibilityHelp,
		// Let main.go handle error printing to avoid duplication
		SilenceErrors: true,
		// Hide completion command from help but keep it functional
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Log level falls back to settings when CRYSTAL_LOG_LEVEL is unset
			logging.SetLogLevelGetter(func() string {
				root, err := paths.RepoRoot()
				if err != nil {
					return ""
				}
				s, err := settings.Load(root)
				if err != nil {
					return ""
				}
				return s.LogLevel
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			// Load telemetry preference from settings (ignore errors - nil defaults to disabled)
			var telemetryEnabled *bool
			commitMode := settings.DefaultCommitModeName
			enabled := false
			if root, err := paths.RepoRoot(); err == nil {
				if s, err := settings.Load(root); err == nil {
					telemetryEnabled = s.Telemetry
					commitMode = s.CommitMode
					enabled = s.Enabled
				}
			}

			telemetryClient := telemetry.NewClient(Version, telemetryEnabled)
			defer telemetryClient.Close()
			telemetryClient.TrackCommand(cmd, commitMode, enabled)

			versioncheck.CheckAndNotify(cmd, Version)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newTrackCmd())
	cmd.AddCommand(newDiffsCmd())
	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newEnableCmd())
	cmd.AddCommand(newDisableCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("Crystal CLI %s (%s)\n", Version, Commit)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
