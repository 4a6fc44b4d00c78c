// Package paths centralizes filesystem layout for the Crystal CLI: repository
// root discovery, the .crystal configuration directory, and the per-repository
// state directory under the git common dir.
package paths

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Directory constants
const (
	CrystalDir       = ".crystal"
	SettingsFileName = "settings.json"

	// StateDirName is the directory created inside the git common dir that
	// holds session records, diff records, and pending execution contexts.
	StateDirName = "crystal"

	SessionsDirName   = "sessions"
	DiffsDirName      = "diffs"
	ExecutionsDirName = "executions"
)

// repoRootCache caches the repository root to avoid repeated git commands.
// The cache is keyed by the current working directory to handle directory changes.
var (
	repoRootMu       sync.RWMutex
	repoRootCache    string
	repoRootCacheDir string
)

// RepoRoot returns the git repository root directory.
// Uses 'git rev-parse --show-toplevel' which works from any subdirectory,
// including linked worktrees. The result is cached per working directory.
// Returns an error if not inside a git repository.
func RepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	repoRootMu.RLock()
	if repoRootCache != "" && repoRootCacheDir == cwd {
		cached := repoRootCache
		repoRootMu.RUnlock()
		return cached, nil
	}
	repoRootMu.RUnlock()

	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get git repository root: %w", err)
	}

	root := strings.TrimSpace(string(output))

	repoRootMu.Lock()
	repoRootCache = root
	repoRootCacheDir = cwd
	repoRootMu.Unlock()

	return root, nil
}

// ClearRepoRootCache clears the cached repository root.
// This is primarily useful for testing when changing directories.
func ClearRepoRootCache() {
	repoRootMu.Lock()
	repoRootCache = ""
	repoRootCacheDir = ""
	repoRootMu.Unlock()
}

// GitCommonDir returns the git common directory for the repository containing
// worktreePath. In a linked worktree this resolves to the main repository's
// .git directory, so state stored there is shared across all worktrees.
func GitCommonDir(worktreePath string) (string, error) {
	ctx := context.Background()
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-common-dir")
	cmd.Dir = worktreePath
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get git common dir: %w", err)
	}

	commonDir := strings.TrimSpace(string(output))
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(worktreePath, commonDir)
	}
	return commonDir, nil
}

// StateDir returns the Crystal state directory for the repository containing
// worktreePath, creating it if necessary. The directory lives under the git
// common dir so it is shared across worktrees and never tracked by git.
func StateDir(worktreePath string) (string, error) {
	commonDir, err := GitCommonDir(worktreePath)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(commonDir, StateDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

// SessionsDir returns the directory holding session records.
func SessionsDir(stateDir string) string {
	return filepath.Join(stateDir, SessionsDirName)
}

// DiffsDir returns the directory holding diff records for a session.
func DiffsDir(stateDir, sessionID string) string {
	return filepath.Join(stateDir, DiffsDirName, sessionID)
}

// ExecutionsDir returns the directory holding pending execution context files.
func ExecutionsDir(stateDir string) string {
	return filepath.Join(stateDir, ExecutionsDirName)
}

// SettingsPath returns the path to the repository settings file.
func SettingsPath(worktreePath string) string {
	return filepath.Join(worktreePath, CrystalDir, SettingsFileName)
}

// LocalSettingsPath returns the path to the local (uncommitted) settings file.
func LocalSettingsPath(worktreePath string) string {
	return filepath.Join(worktreePath, CrystalDir, "settings.local.json")
}

// IsInfrastructurePath returns true if the path is part of CLI infrastructure
// (i.e., inside the .crystal directory).
func IsInfrastructurePath(path string) bool {
	return path == CrystalDir || strings.HasPrefix(path, CrystalDir+"/")
}

// ToRelativePath converts an absolute path to relative.
// Returns empty string if the path is outside the working directory.
func ToRelativePath(absPath, cwd string) string {
	if !filepath.IsAbs(absPath) {
		return absPath
	}
	relPath, err := filepath.Rel(cwd, absPath)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return ""
	}
	return relPath
}
