package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/session"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/testutil"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/tracker"
)

// runTrack executes the track command with the given args.
func runTrack(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newTrackCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// runDiffs executes the diffs command with the given args.
func runDiffs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newDiffsCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTrackEnd_HonorsModeConfiguredBySetup(t *testing.T) {
	root := setupTestRepo(t)
	before := testutil.GetHeadHash(t, root)

	var buf bytes.Buffer
	if err := runSetupWithMode(&buf, "disabled", "", 0, false, false); err != nil {
		t.Fatalf("runSetupWithMode() error = %v", err)
	}

	if _, err := runTrack(t, "start", "--session", "s1", "--prompt", "quiet change"); err != nil {
		t.Fatalf("track start error = %v", err)
	}

	testutil.WriteFile(t, root, "quiet.go", "package quiet\n")

	out, err := runTrack(t, "end", "--session", "s1", "--json")
	if err != nil {
		t.Fatalf("track end error = %v", err)
	}

	var diff session.ExecutionDiff
	if err := json.Unmarshal([]byte(out), &diff); err != nil {
		t.Fatalf("track end --json output is not valid JSON: %v\noutput: %s", err, out)
	}

	// No checkpoint commit: the configured mode applies to the session
	if got := testutil.GetHeadHash(t, root); got != before {
		t.Errorf("HEAD moved to %s, want unchanged %s", got, before)
	}
	if diff.AfterCommitHash != before {
		t.Errorf("AfterCommitHash = %s, want %s", diff.AfterCommitHash, before)
	}
	if diff.StatsFilesChanged != 1 {
		t.Errorf("StatsFilesChanged = %d, want 1", diff.StatsFilesChanged)
	}
}

func TestTrackStartEnd_CheckpointFlow(t *testing.T) {
	root := setupTestRepo(t)

	out, err := runTrack(t, "start", "--session", "s1", "--prompt", "add a feature")
	if err != nil {
		t.Fatalf("track start error = %v", err)
	}
	if !strings.Contains(out, "Tracking execution 1") {
		t.Errorf("Expected start confirmation, got: %s", out)
	}

	// The context must survive process boundaries via the pending file
	stateDir, err := paths.StateDir(root)
	if err != nil {
		t.Fatalf("StateDir() error = %v", err)
	}
	pending, err := tracker.LoadPending(stateDir, "s1")
	if err != nil {
		t.Fatalf("LoadPending() error = %v", err)
	}
	if pending == nil {
		t.Fatal("expected a pending execution after track start")
	}
	if pending.Prompt != "add a feature" {
		t.Errorf("Prompt = %q, want 'add a feature'", pending.Prompt)
	}

	testutil.WriteFile(t, root, "feature.go", "package feature\n")

	out, err = runTrack(t, "end", "--session", "s1", "--json")
	if err != nil {
		t.Fatalf("track end error = %v", err)
	}

	var diff session.ExecutionDiff
	if err := json.Unmarshal([]byte(out), &diff); err != nil {
		t.Fatalf("track end --json output is not valid JSON: %v\noutput: %s", err, out)
	}
	if diff.ExecutionSequence != 1 {
		t.Errorf("ExecutionSequence = %d, want 1", diff.ExecutionSequence)
	}
	if diff.StatsAdditions == 0 {
		t.Error("expected additions in the recorded diff")
	}

	// Checkpoint mode commits, so the head should have moved
	head := testutil.GetHeadHash(t, root)
	if head == pending.BeforeCommitHash {
		t.Error("expected a checkpoint commit to advance HEAD")
	}
	msg := testutil.GetCommitMessage(t, root, head)
	if !strings.HasPrefix(msg, "checkpoint: ") {
		t.Errorf("commit message = %q, want checkpoint prefix", msg)
	}

	// Pending context is consumed
	pending, err = tracker.LoadPending(stateDir, "s1")
	if err != nil {
		t.Fatalf("LoadPending() after end error = %v", err)
	}
	if pending != nil {
		t.Error("pending execution should be cleared after track end")
	}
}

func TestTrackEnd_NoPendingExecution(t *testing.T) {
	setupTestRepo(t)

	out, err := runTrack(t, "end", "--session", "s1")
	if err != nil {
		t.Fatalf("track end error = %v", err)
	}
	if !strings.Contains(out, "No active execution") {
		t.Errorf("Expected no-active-execution message, got: %s", out)
	}
}

func TestTrackCancel(t *testing.T) {
	root := setupTestRepo(t)

	if _, err := runTrack(t, "start", "--session", "s1", "--prompt", "x"); err != nil {
		t.Fatalf("track start error = %v", err)
	}

	out, err := runTrack(t, "cancel", "--session", "s1")
	if err != nil {
		t.Fatalf("track cancel error = %v", err)
	}
	if !strings.Contains(out, "Cancelled execution 1") {
		t.Errorf("Expected cancel confirmation, got: %s", out)
	}

	stateDir, err := paths.StateDir(root)
	if err != nil {
		t.Fatalf("StateDir() error = %v", err)
	}
	pending, err := tracker.LoadPending(stateDir, "s1")
	if err != nil {
		t.Fatalf("LoadPending() error = %v", err)
	}
	if pending != nil {
		t.Error("pending execution should be cleared after cancel")
	}

	// Cancelling again is a no-op
	out, err = runTrack(t, "cancel", "--session", "s1")
	if err != nil {
		t.Fatalf("second track cancel error = %v", err)
	}
	if !strings.Contains(out, "No active execution") {
		t.Errorf("Expected no-active-execution message, got: %s", out)
	}
}

func TestTrackStatus(t *testing.T) {
	setupTestRepo(t)

	out, err := runTrack(t, "status", "--session", "s1")
	if err != nil {
		t.Fatalf("track status error = %v", err)
	}
	if !strings.Contains(out, "No active execution") {
		t.Errorf("Expected no-active-execution message, got: %s", out)
	}

	if _, err := runTrack(t, "start", "--session", "s1", "--prompt", "x"); err != nil {
		t.Fatalf("track start error = %v", err)
	}

	out, err = runTrack(t, "status", "--session", "s1")
	if err != nil {
		t.Fatalf("track status error = %v", err)
	}
	if !strings.Contains(out, "Execution 1 pending") {
		t.Errorf("Expected pending execution line, got: %s", out)
	}
}

func TestTrackStart_DisabledGuard(t *testing.T) {
	root := setupTestRepo(t)
	writeSettings(t, root, testSettingsDisabled)

	out, err := runTrack(t, "start", "--session", "s1", "--prompt", "x")
	if err != nil {
		t.Fatalf("track start error = %v", err)
	}
	if !strings.Contains(out, "Crystal is disabled") {
		t.Errorf("Expected disabled message, got: %s", out)
	}

	stateDir, err := paths.StateDir(root)
	if err != nil {
		t.Fatalf("StateDir() error = %v", err)
	}
	pending, err := tracker.LoadPending(stateDir, "s1")
	if err != nil {
		t.Fatalf("LoadPending() error = %v", err)
	}
	if pending != nil {
		t.Error("no execution should be registered while disabled")
	}
}

func TestTrackStart_InvalidSessionID(t *testing.T) {
	setupTestRepo(t)

	_, err := runTrack(t, "start", "--session", "../escape", "--prompt", "x")
	if err == nil {
		t.Fatal("track start expected error for invalid session id, got nil")
	}
}

func TestDiffsCommand(t *testing.T) {
	root := setupTestRepo(t)

	// Two executions with one change each
	for i, file := range []string{"a.go", "b.go"} {
		if _, err := runTrack(t, "start", "--session", "s1", "--prompt", "change"); err != nil {
			t.Fatalf("track start %d error = %v", i+1, err)
		}
		testutil.WriteFile(t, root, file, "package p\n")
		if _, err := runTrack(t, "end", "--session", "s1"); err != nil {
			t.Fatalf("track end %d error = %v", i+1, err)
		}
	}

	out, err := runDiffs(t, "s1")
	if err != nil {
		t.Fatalf("diffs error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 diff lines, got %d: %s", len(lines), out)
	}

	out, err = runDiffs(t, "s1", "--json")
	if err != nil {
		t.Fatalf("diffs --json error = %v", err)
	}
	var records []*session.ExecutionDiff
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("diffs --json output is not valid JSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ExecutionSequence != 1 || records[1].ExecutionSequence != 2 {
		t.Errorf("records out of order: %d, %d",
			records[0].ExecutionSequence, records[1].ExecutionSequence)
	}

	out, err = runDiffs(t, "s1", "--combined")
	if err != nil {
		t.Fatalf("diffs --combined error = %v", err)
	}
	if !strings.Contains(out, "2 executions") {
		t.Errorf("Expected combined summary, got: %s", out)
	}

	out, err = runDiffs(t, "s1", "--sequence", "2")
	if err != nil {
		t.Fatalf("diffs --sequence error = %v", err)
	}
	if !strings.Contains(out, "execution 2") || !strings.Contains(out, "b.go") {
		t.Errorf("Expected single record with patch for b.go, got: %s", out)
	}

	if _, err := runDiffs(t, "s1", "--sequence", "9"); err == nil {
		t.Error("diffs --sequence expected error for missing record, got nil")
	}
}

func TestDiffsCommand_EmptySession(t *testing.T) {
	setupTestRepo(t)

	out, err := runDiffs(t, "nosuch")
	if err != nil {
		t.Fatalf("diffs error = %v", err)
	}
	if !strings.Contains(out, "No diffs recorded") {
		t.Errorf("Expected empty-session message, got: %s", out)
	}
}
