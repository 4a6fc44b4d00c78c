package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/commitmode"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/settings"
)

// Commit mode display labels for the interactive picker
const (
	modeLabelCheckpoint = "checkpoint  Auto-commit all changes after each execution"
	modeLabelStructured = "structured  The agent commits; Crystal only observes and records"
	modeLabelDisabled   = "disabled    Track diffs without committing anything"
)

func newSetupCmd() *cobra.Command {
	var modeFlag string
	var prefixFlag string
	var timeoutFlag int
	var useLocalSettings bool
	var useProjectSettings bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure Crystal for this worktree",
		Long:  "Configure the commit mode and tracking settings, interactively or via flags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateSetupFlags(useLocalSettings, useProjectSettings); err != nil {
				return err
			}
			// Non-interactive mode if --mode is provided or stdin is not a terminal
			if modeFlag != "" || !isInteractive() {
				return runSetupWithMode(cmd.OutOrStdout(), modeFlag, prefixFlag, timeoutFlag, useLocalSettings, useProjectSettings)
			}
			return runSetupInteractive(cmd.OutOrStdout(), useLocalSettings, useProjectSettings)
		},
	}

	cmd.Flags().StringVar(&modeFlag, "mode", "", "Commit mode (structured, checkpoint, or disabled). Enables non-interactive mode.")
	cmd.Flags().StringVar(&prefixFlag, "checkpoint-prefix", "", "Commit message prefix for checkpoint commits")
	cmd.Flags().IntVar(&timeoutFlag, "structured-timeout-ms", 0, "Timeout in milliseconds to wait for an agent commit in structured mode")
	cmd.Flags().BoolVar(&useLocalSettings, "local", false, "Write settings to settings.local.json instead of settings.json")
	cmd.Flags().BoolVar(&useProjectSettings, "project", false, "Write settings to settings.json even if it already exists")
	//nolint:errcheck,gosec // completion is optional, flag is defined above
	cmd.RegisterFlagCompletionFunc("mode", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(commitmode.ModeCheckpoint), string(commitmode.ModeStructured), string(commitmode.ModeDisabled)}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func newEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Enable Crystal tracking",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnable(cmd.OutOrStdout())
		},
	}
}

func newDisableCmd() *cobra.Command {
	var useProjectSettings bool

	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable Crystal tracking",
		Long:  "Disable Crystal temporarily. Track commands will exit silently with a disabled message.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDisable(cmd.OutOrStdout(), useProjectSettings)
		},
	}

	cmd.Flags().BoolVar(&useProjectSettings, "project", false, "Update settings.json instead of settings.local.json")

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Crystal status",
		Long:  "Show whether Crystal is currently enabled and which commit mode is configured",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

// runSetupWithMode configures Crystal non-interactively. An empty mode keeps
// the current (or default) commit mode.
func runSetupWithMode(w io.Writer, mode, prefix string, timeoutMs int, useLocalSettings, useProjectSettings bool) error {
	root, err := paths.RepoRoot()
	if err != nil {
		return fmt.Errorf("not in a git repository: %w", err)
	}

	if mode != "" && !isValidModeName(mode) {
		return fmt.Errorf("unknown commit mode: %s (use structured, checkpoint, or disabled)", mode)
	}

	created, err := setupCrystalDirectory(root)
	if err != nil {
		return fmt.Errorf("failed to setup .crystal directory: %w", err)
	}
	if created {
		fmt.Fprintln(w, "✓ .crystal directory created")
	}

	// Load existing settings to preserve fields not covered by flags
	s, err := settings.Load(root)
	if err != nil {
		s = &settings.CrystalSettings{}
	}
	if mode != "" {
		s.CommitMode = mode
	}
	if prefix != "" {
		s.CheckpointPrefix = prefix
	}
	if timeoutMs > 0 {
		s.StructuredTimeoutMs = timeoutMs
	}
	s.Enabled = true

	if err := saveSettingsTo(w, root, s, useLocalSettings, useProjectSettings); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n✓ %s mode enabled\n", s.CommitMode)
	return nil
}

// runSetupInteractive walks the user through commit mode, checkpoint prefix,
// structured timeout, and telemetry.
func runSetupInteractive(w io.Writer, useLocalSettings, useProjectSettings bool) error {
	root, err := paths.RepoRoot()
	if err != nil {
		return fmt.Errorf("not in a git repository: %w", err)
	}

	// Load existing settings so re-running setup shows current values
	s, err := settings.Load(root)
	if err != nil {
		s = &settings.CrystalSettings{}
	}

	selectedMode := s.CommitMode
	if selectedMode == "" {
		selectedMode = string(commitmode.ModeCheckpoint)
	}
	prefix := s.CheckpointPrefix
	if prefix == "" {
		prefix = commitmode.DefaultCheckpointPrefix
	}
	timeoutStr := strconv.Itoa(commitmode.DefaultStructuredTimeoutMs)
	if s.StructuredTimeoutMs > 0 {
		timeoutStr = strconv.Itoa(s.StructuredTimeoutMs)
	}
	telemetryOptIn := s.Telemetry != nil && *s.Telemetry

	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("How should Crystal commit after each execution?").
				Options(
					huh.NewOption(modeLabelCheckpoint, string(commitmode.ModeCheckpoint)),
					huh.NewOption(modeLabelStructured, string(commitmode.ModeStructured)),
					huh.NewOption(modeLabelDisabled, string(commitmode.ModeDisabled)),
				).
				Value(&selectedMode),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Checkpoint commit prefix").
				Value(&prefix),
			huh.NewInput().
				Title("Structured mode timeout (ms)").
				Value(&timeoutStr).
				Validate(func(v string) error {
					n, err := strconv.Atoi(v)
					if err != nil || n <= 0 {
						return errors.New("enter a positive number of milliseconds")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Share anonymous usage analytics?").
				Value(&telemetryOptIn),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Fprintln(w, "Setup cancelled.")
			return NewSilentError(err)
		}
		return fmt.Errorf("running setup form: %w", err)
	}

	timeoutMs, err := strconv.Atoi(timeoutStr)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}

	created, err := setupCrystalDirectory(root)
	if err != nil {
		return fmt.Errorf("failed to setup .crystal directory: %w", err)
	}
	if created {
		fmt.Fprintln(w, "✓ .crystal directory created")
	}

	s.CommitMode = selectedMode
	s.CheckpointPrefix = prefix
	s.StructuredTimeoutMs = timeoutMs
	s.Telemetry = &telemetryOptIn
	s.Enabled = true

	if err := saveSettingsTo(w, root, s, useLocalSettings, useProjectSettings); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n✓ %s mode enabled\n", selectedMode)
	return nil
}

func runEnable(w io.Writer) error {
	root, err := paths.RepoRoot()
	if err != nil {
		return fmt.Errorf("not in a git repository: %w", err)
	}

	s, err := settings.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	s.Enabled = true
	if err := settings.Save(root, s); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	fmt.Fprintln(w, "Crystal is now enabled.")
	return nil
}

func runDisable(w io.Writer, useProjectSettings bool) error {
	root, err := paths.RepoRoot()
	if err != nil {
		return fmt.Errorf("not in a git repository: %w", err)
	}

	s, err := settings.Load(root)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	s.Enabled = false

	if useProjectSettings {
		if err := settings.Save(root, s); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	} else if _, statErr := os.Stat(paths.LocalSettingsPath(root)); statErr == nil {
		// Local settings file exists, write there
		if err := settings.SaveLocal(root, s); err != nil {
			return fmt.Errorf("failed to save local settings: %w", err)
		}
	} else {
		if err := settings.Save(root, s); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	}

	fmt.Fprintln(w, "Crystal is now disabled.")
	return nil
}

func runStatus(w io.Writer) error {
	root, err := paths.RepoRoot()
	if err != nil {
		fmt.Fprintln(w, "✕ not a git repository")
		return nil //nolint:nilerr // Not being in a git repo is a valid status, not an error
	}

	settingsExists := false
	if _, err := os.Stat(paths.SettingsPath(root)); err == nil {
		settingsExists = true
	} else if _, err := os.Stat(paths.LocalSettingsPath(root)); err == nil {
		settingsExists = true
	}
	if !settingsExists {
		fmt.Fprintln(w, "○ not set up (run `crystal setup` to get started)")
		return nil
	}

	s, err := settings.Load(root)
	if err != nil {
		return fmt.Errorf("failed to check status: %w", err)
	}

	if s.Enabled {
		fmt.Fprintf(w, "● enabled (%s mode)\n", s.CommitMode)
	} else {
		fmt.Fprintln(w, "○ disabled")
	}
	return nil
}

// DisabledMessage is the message shown when Crystal is disabled
const DisabledMessage = "Crystal is disabled. Run `crystal enable` to re-enable."

// checkDisabledGuard checks if Crystal is disabled and prints a message if so.
// Returns true if the caller should exit. On error reading settings, defaults
// to enabled (returns false).
func checkDisabledGuard(w io.Writer) bool {
	root, err := paths.RepoRoot()
	if err != nil {
		return false
	}
	s, err := settings.Load(root)
	if err != nil {
		// Default to enabled on error
		return false
	}
	if !s.Enabled {
		fmt.Fprintln(w, DisabledMessage)
		return true
	}
	return false
}

// validateSetupFlags checks that --local and --project flags are not both specified.
func validateSetupFlags(useLocal, useProject bool) error {
	if useLocal && useProject {
		return errors.New("cannot specify both --project and --local")
	}
	return nil
}

// saveSettingsTo writes settings to the project or local file based on flags.
// With no flags, an existing settings.json redirects the write to the local
// file with a notification, matching how teams share a checked-in config.
func saveSettingsTo(w io.Writer, root string, s *settings.CrystalSettings, useLocal, useProject bool) error {
	shouldUseLocal := useLocal
	if !useLocal && !useProject {
		if _, err := os.Stat(paths.SettingsPath(root)); err == nil {
			shouldUseLocal = true
			fmt.Fprintln(w, "Info: Project settings exist. Saving to settings.local.json instead.")
			fmt.Fprintln(w, "  Use --project to update the project settings file.")
		}
	}

	if shouldUseLocal {
		if err := settings.SaveLocal(root, s); err != nil {
			return fmt.Errorf("failed to save local settings: %w", err)
		}
		fmt.Fprintln(w, "✓ Local settings saved (.crystal/settings.local.json)")
	} else {
		if err := settings.Save(root, s); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Fprintln(w, "✓ Project settings saved (.crystal/settings.json)")
	}
	return nil
}

func isValidModeName(mode string) bool {
	switch commitmode.Mode(mode) {
	case commitmode.ModeStructured, commitmode.ModeCheckpoint, commitmode.ModeDisabled:
		return true
	default:
		return false
	}
}

// setupCrystalDirectory creates the .crystal directory and its gitignore.
// Returns true if the directory was created, false if it already existed.
func setupCrystalDirectory(root string) (bool, error) {
	dir := filepath.Join(root, paths.CrystalDir)

	created := false
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		created = true
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("creating .crystal directory: %w", err)
	}

	// Logs and local settings stay out of version control
	gitignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		content := "logs/\nsettings.local.json\n"
		if err := os.WriteFile(gitignorePath, []byte(content), 0o600); err != nil {
			return false, fmt.Errorf("writing .crystal/.gitignore: %w", err)
		}
	}

	return created, nil
}
