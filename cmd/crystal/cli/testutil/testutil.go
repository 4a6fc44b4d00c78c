// Package testutil provides shared test utilities for packages that exercise
// real git repositories. This package has no build tags, making it usable by
// all test packages.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/config"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// InitRepo initializes a git repository in the given directory with test user config.
func InitRepo(t *testing.T, repoDir string) {
	t.Helper()

	repo, err := git.PlainInit(repoDir, false)
	if err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}

	// Configure git user for commits
	cfg, err := repo.Config()
	if err != nil {
		t.Fatalf("failed to get repo config: %v", err)
	}
	cfg.User.Name = "Test User"
	cfg.User.Email = "test@example.com"

	// Disable GPG signing for test commits
	if cfg.Raw == nil {
		cfg.Raw = config.New()
	}
	cfg.Raw.Section("commit").SetOption("gpgsign", "false")

	if err := repo.SetConfig(cfg); err != nil {
		t.Fatalf("failed to set repo config: %v", err)
	}
}

// InitRepoWithCommit initializes a repository and creates an initial commit so
// HEAD resolves. Returns the initial commit hash.
func InitRepoWithCommit(t *testing.T, repoDir string) string {
	t.Helper()

	InitRepo(t, repoDir)
	WriteFile(t, repoDir, "README.md", "# test\n")
	GitAdd(t, repoDir, "README.md")
	GitCommit(t, repoDir, "initial commit")
	return GetHeadHash(t, repoDir)
}

// WriteFile creates a file with the given content in the repo directory.
// It creates parent directories as needed.
func WriteFile(t *testing.T, repoDir, path, content string) {
	t.Helper()

	fullPath := filepath.Join(repoDir, path)

	dir := filepath.Dir(fullPath)
	//nolint:gosec // test code, permissions are intentionally standard
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	//nolint:gosec // test code, permissions are intentionally standard
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}

// ReadFile reads a file from the repo directory.
func ReadFile(t *testing.T, repoDir, path string) string {
	t.Helper()

	fullPath := filepath.Join(repoDir, path)
	//nolint:gosec // test code, path is from test setup
	data, err := os.ReadFile(fullPath)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return string(data)
}

// RemoveFile deletes a file from the repo directory.
func RemoveFile(t *testing.T, repoDir, path string) {
	t.Helper()

	if err := os.Remove(filepath.Join(repoDir, path)); err != nil {
		t.Fatalf("failed to remove file %s: %v", path, err)
	}
}

// FileExists checks if a file exists in the repo directory.
func FileExists(repoDir, path string) bool {
	fullPath := filepath.Join(repoDir, path)
	_, err := os.Stat(fullPath)
	return err == nil
}

// GitAdd stages files for commit.
func GitAdd(t *testing.T, repoDir string, paths ...string) {
	t.Helper()

	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		t.Fatalf("failed to open git repo: %v", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}

	for _, path := range paths {
		if _, err := worktree.Add(path); err != nil {
			t.Fatalf("failed to add file %s: %v", path, err)
		}
	}
}

// GitCommit creates a commit with all staged files and returns its hash.
func GitCommit(t *testing.T, repoDir, message string) string {
	t.Helper()

	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		t.Fatalf("failed to open git repo: %v", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

// GitCommitAll stages everything and commits, returning the new hash.
func GitCommitAll(t *testing.T, repoDir, message string) string {
	t.Helper()

	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		t.Fatalf("failed to open git repo: %v", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		t.Fatalf("failed to stage files: %v", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

// GetHeadHash returns the current HEAD commit hash.
func GetHeadHash(t *testing.T, repoDir string) string {
	t.Helper()

	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		t.Fatalf("failed to open git repo: %v", err)
	}

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("failed to get HEAD: %v", err)
	}

	return head.Hash().String()
}

// GetCommitMessage returns the commit message for the given commit hash.
func GetCommitMessage(t *testing.T, repoDir, hash string) string {
	t.Helper()

	repo, err := git.PlainOpen(repoDir)
	if err != nil {
		t.Fatalf("failed to open git repo: %v", err)
	}

	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		t.Fatalf("failed to get commit %s: %v", hash, err)
	}

	return commit.Message
}
