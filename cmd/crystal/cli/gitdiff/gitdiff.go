// Package gitdiff captures repository deltas for tracked executions: the
// current HEAD hash, working-tree diffs against HEAD, diffs between two
// commits, and merging of several diff results into one aggregate view.
//
// go-git is used for repository access and status enumeration. Patch text for
// the working tree comes from the git CLI because go-git cannot produce a
// unified diff of uncommitted changes.
package gitdiff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
)

// Stats holds aggregate line and file counts for a captured diff.
type Stats struct {
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
	FilesChanged int `json:"files_changed"`
}

// Result describes a captured diff. Immutable once returned.
type Result struct {
	Diff         string   `json:"diff"`
	Stats        Stats    `json:"stats"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	BeforeHash   string   `json:"before_hash,omitempty"`
	AfterHash    string   `json:"after_hash,omitempty"`
}

// Capturer reads repository state. The concrete implementation shells out to
// git; tests substitute an in-memory fake.
type Capturer interface {
	// CurrentCommitHash returns the HEAD commit hash of the worktree.
	CurrentCommitHash(ctx context.Context, worktreePath string) (string, error)

	// CaptureWorkingDiff describes uncommitted working-tree changes
	// (including untracked files) relative to HEAD.
	CaptureWorkingDiff(ctx context.Context, worktreePath string) (*Result, error)

	// CaptureCommitDiff describes the range between two commits.
	CaptureCommitDiff(ctx context.Context, worktreePath, beforeHash, afterHash string) (*Result, error)
}

// GitCapturer is the real Capturer backed by go-git and the git CLI.
type GitCapturer struct{}

// NewCapturer returns a Capturer that reads real repositories.
func NewCapturer() *GitCapturer {
	return &GitCapturer{}
}

var _ Capturer = (*GitCapturer)(nil)

// openRepository opens the repository containing path. EnableDotGitCommonDir
// makes this work from linked worktrees, where .git is a file pointing at the
// main repository.
func openRepository(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return repo, nil
}

// CurrentCommitHash returns the HEAD commit hash of the worktree.
func (c *GitCapturer) CurrentCommitHash(_ context.Context, worktreePath string) (string, error) {
	repo, err := openRepository(worktreePath)
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD in %s: %w", worktreePath, err)
	}
	return head.Hash().String(), nil
}

// CaptureCommitDiff captures the patch between two commits.
func (c *GitCapturer) CaptureCommitDiff(_ context.Context, worktreePath, beforeHash, afterHash string) (*Result, error) {
	repo, err := openRepository(worktreePath)
	if err != nil {
		return nil, err
	}

	before, err := repo.CommitObject(plumbing.NewHash(beforeHash))
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", beforeHash, err)
	}
	after, err := repo.CommitObject(plumbing.NewHash(afterHash))
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", afterHash, err)
	}

	patch, err := before.Patch(after)
	if err != nil {
		return nil, fmt.Errorf("failed to compute patch %s..%s: %w", beforeHash, afterHash, err)
	}

	result := &Result{
		Diff:       patch.String(),
		BeforeHash: beforeHash,
		AfterHash:  afterHash,
	}
	for _, fs := range patch.Stats() {
		result.ChangedFiles = append(result.ChangedFiles, fs.Name)
		result.Stats.Additions += fs.Addition
		result.Stats.Deletions += fs.Deletion
	}
	result.Stats.FilesChanged = len(result.ChangedFiles)

	return result, nil
}

// CaptureWorkingDiff captures uncommitted changes in the worktree, including
// untracked files. A clean tree yields a zero-stat result with empty diff.
func (c *GitCapturer) CaptureWorkingDiff(ctx context.Context, worktreePath string) (*Result, error) {
	repo, err := openRepository(worktreePath)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD in %s: %w", worktreePath, err)
	}
	headHash := head.Hash().String()

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read worktree status: %w", err)
	}

	result := &Result{
		BeforeHash: headHash,
		AfterHash:  headHash,
	}
	if status.IsClean() {
		return result, nil
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD tree: %w", err)
	}

	// Status is a map; sort for deterministic file ordering.
	var files []string
	for path := range status {
		if paths.IsInfrastructurePath(path) {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)

	var untracked []string
	for _, path := range files {
		fs := status.File(path)
		switch {
		case fs.Worktree == git.Untracked:
			content := readWorkingFile(worktreePath, path)
			result.Stats.Additions += countLines(content)
			untracked = append(untracked, path)
		case fs.Worktree == git.Deleted || fs.Staging == git.Deleted:
			result.Stats.Deletions += countLines(headFileContent(tree, path))
		default:
			added, removed := diffLineCounts(headFileContent(tree, path), readWorkingFile(worktreePath, path))
			result.Stats.Additions += added
			result.Stats.Deletions += removed
		}
		result.ChangedFiles = append(result.ChangedFiles, path)
	}
	result.Stats.FilesChanged = len(result.ChangedFiles)

	patch, err := workingTreePatch(ctx, worktreePath, untracked)
	if err != nil {
		return nil, err
	}
	result.Diff = patch

	return result, nil
}

// workingTreePatch produces unified diff text for uncommitted changes using
// the git CLI. Untracked files are appended via diff --no-index against
// /dev/null, which exits 1 when the files differ.
func workingTreePatch(ctx context.Context, worktreePath string, untracked []string) (string, error) {
	var buf bytes.Buffer

	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD", "--", ".", ":(exclude)"+paths.CrystalDir)
	cmd.Dir = worktreePath
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff failed: %w", err)
	}
	buf.Write(out)

	for _, path := range untracked {
		cmd := exec.CommandContext(ctx, "git", "diff", "--no-index", "--", os.DevNull, path)
		cmd.Dir = worktreePath
		out, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
				// Exit 1 means differences found, which is expected here.
			} else {
				return "", fmt.Errorf("git diff --no-index failed for %s: %w", path, err)
			}
		}
		buf.Write(out)
	}

	return buf.String(), nil
}

// headFileContent returns the file's content at HEAD, or "" if it did not
// exist there.
func headFileContent(tree *object.Tree, path string) string {
	file, err := tree.File(path)
	if err != nil {
		return ""
	}
	content, err := file.Contents()
	if err != nil {
		return ""
	}
	return content
}

func readWorkingFile(worktreePath, path string) string {
	data, err := os.ReadFile(filepath.Join(worktreePath, path)) //nolint:gosec // path comes from git status
	if err != nil {
		return ""
	}
	return string(data)
}

// diffLineCounts computes added and removed line counts between two versions
// of a file using a line-based diff.
func diffLineCounts(oldContent, newContent string) (added, removed int) {
	if oldContent == newContent {
		return 0, 0
	}
	if oldContent == "" {
		return countLines(newContent), 0
	}
	if newContent == "" {
		return 0, countLines(oldContent)
	}

	dmp := diffmatchpatch.New()
	text1, text2, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(text1, text2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		lines := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += lines
		case diffmatchpatch.DiffDelete:
			removed += lines
		case diffmatchpatch.DiffEqual:
		}
	}
	return added, removed
}

// countLines counts lines in content. Content without a trailing newline
// still counts its last line.
func countLines(content string) int {
	if content == "" {
		return 0
	}
	lines := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		lines++
	}
	return lines
}
