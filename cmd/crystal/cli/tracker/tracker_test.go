package tracker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/autocommit"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/events"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/gitdiff"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/session"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/settings"
	"github.com/eshaffer321/crystal/cmd/crystal/cli/testutil"
)

type harness struct {
	tracker  *Tracker
	store    *session.Store
	stateDir string

	mu     sync.Mutex
	events []events.Event
}

func (h *harness) recorded() []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.Event(nil), h.events...)
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{stateDir: t.TempDir()}
	h.store = session.NewStore(h.stateDir)

	capturer := gitdiff.NewCapturer()
	orchestrator := autocommit.New(capturer, h.store)
	orchestrator.SetPollInterval(10 * time.Millisecond)

	notifier := events.NewNotifier()
	notifier.Subscribe(events.ListenerFunc(func(e events.Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	}))

	h.tracker = New(h.store, capturer, orchestrator, notifier)
	return h
}

func (h *harness) setCommitMode(t *testing.T, sessionID, mode, serialized string) {
	t.Helper()
	record, err := h.store.GetSession(sessionID)
	require.NoError(t, err)
	record.CommitMode = mode
	record.CommitModeSettings = serialized
	require.NoError(t, h.store.SaveSession(record))
}

func (h *harness) outputs(t *testing.T, sessionID string) []session.OutputEvent {
	t.Helper()
	record, err := h.store.GetSession(sessionID)
	require.NoError(t, err)
	return record.Outputs
}

func TestStartExecutionRegistersContext(t *testing.T) {
	dir := t.TempDir()
	head := testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)

	assert.False(t, h.tracker.IsTracking("s1"))

	exec, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "fix the bug")
	require.NoError(t, err)
	assert.True(t, h.tracker.IsTracking("s1"))
	assert.Equal(t, head, exec.BeforeCommitHash)
	assert.Equal(t, 1, exec.ExecutionSequence)

	stored := h.tracker.ExecutionContext("s1")
	require.NotNil(t, stored)
	assert.Equal(t, dir, stored.WorktreePath)
	assert.Equal(t, "fix the bug", stored.Prompt)

	recorded := h.recorded()
	require.Len(t, recorded, 1)
	assert.Equal(t, events.ExecutionStarted, recorded[0].Name)
	assert.Equal(t, "s1", recorded[0].SessionID)
	assert.Equal(t, 1, recorded[0].ExecutionSequence)
}

func TestStartExecutionInvalidWorktree(t *testing.T) {
	h := newHarness(t)

	_, err := h.tracker.StartExecution(context.Background(), "s1", t.TempDir(), nil, "")
	require.Error(t, err)
	assert.False(t, h.tracker.IsTracking("s1"))
	assert.Empty(t, h.recorded())
}

func TestStartExecutionOverwrites(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)

	first, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "one")
	require.NoError(t, err)
	second, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "two")
	require.NoError(t, err)

	assert.Equal(t, first.ExecutionSequence+1, second.ExecutionSequence)
	assert.Equal(t, "two", h.tracker.ExecutionContext("s1").Prompt)
}

func TestCancelExecution(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)

	h.tracker.CancelExecution(context.Background(), "s1")
	assert.False(t, h.tracker.IsTracking("s1"))

	recorded := h.recorded()
	require.Len(t, recorded, 2)
	assert.Equal(t, events.ExecutionCancelled, recorded[1].Name)

	// Cancelling again is a silent no-op
	h.tracker.CancelExecution(context.Background(), "s1")
	assert.Len(t, h.recorded(), 2)
}

func TestEndExecutionWithoutContext(t *testing.T) {
	h := newHarness(t)

	record, err := h.tracker.EndExecution(context.Background(), "untracked")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Empty(t, h.recorded())
}

func TestEndExecutionCheckpointFlow(t *testing.T) {
	dir := t.TempDir()
	before := testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "add two files")
	require.NoError(t, err)

	testutil.WriteFile(t, dir, "one.go", "package one\n")
	testutil.WriteFile(t, dir, "two.go", "package two\n")

	diffRecord, err := h.tracker.EndExecution(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, diffRecord)

	assert.False(t, h.tracker.IsTracking("s1"))
	assert.Equal(t, 2, diffRecord.StatsFilesChanged)
	assert.Equal(t, before, diffRecord.BeforeCommitHash)
	assert.NotEqual(t, before, diffRecord.AfterCommitHash)
	assert.Equal(t, diffRecord.AfterCommitHash, testutil.GetHeadHash(t, dir))
	assert.ElementsMatch(t, []string{"one.go", "two.go"}, diffRecord.ChangedFiles)

	msg := testutil.GetCommitMessage(t, dir, diffRecord.AfterCommitHash)
	assert.True(t, strings.HasPrefix(msg, "checkpoint: "), "got message %q", msg)

	recorded := h.recorded()
	require.Len(t, recorded, 2)
	completed := recorded[1]
	assert.Equal(t, events.ExecutionCompleted, completed.Name)
	assert.Equal(t, diffRecord.ID, completed.DiffID)
	assert.Equal(t, 2, completed.Stats.FilesChanged)

	outputs := h.outputs(t, "s1")
	require.Len(t, outputs, 1)
	assert.Equal(t, session.SubtypeAutoCommitSuccess, outputs[0].Subtype)

	// The record is queryable afterwards
	diffs, err := h.store.GetExecutionDiffs("s1")
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, diffRecord.ID, diffs[0].ID)
}

func TestEndExecutionDisabledModeUsesWorkingDiff(t *testing.T) {
	dir := t.TempDir()
	head := testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)
	h.setCommitMode(t, "s1", "disabled", "")

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)

	testutil.WriteFile(t, dir, "pending.go", "package pending\n")

	diffRecord, err := h.tracker.EndExecution(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, diffRecord)

	// No commit was made
	assert.Equal(t, head, testutil.GetHeadHash(t, dir))
	assert.Equal(t, head, diffRecord.BeforeCommitHash)
	assert.Equal(t, head, diffRecord.AfterCommitHash)
	assert.Equal(t, 1, diffRecord.StatsFilesChanged)
	assert.Contains(t, diffRecord.Diff, "pending.go")

	// Disabled mode suppresses commit output events entirely
	assert.Empty(t, h.outputs(t, "s1"))
}

func TestEndExecutionWorktreeSettingsDisableCommits(t *testing.T) {
	dir := t.TempDir()
	head := testutil.InitRepoWithCommit(t, dir)
	require.NoError(t, settings.Save(dir, &settings.CrystalSettings{
		CommitMode: "disabled",
		Enabled:    true,
	}))
	h := newHarness(t)

	// The session record carries no policy of its own.
	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)

	testutil.WriteFile(t, dir, "pending.go", "package pending\n")

	diffRecord, err := h.tracker.EndExecution(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, diffRecord)

	assert.Equal(t, head, testutil.GetHeadHash(t, dir))
	assert.Equal(t, head, diffRecord.AfterCommitHash)
	assert.Equal(t, 1, diffRecord.StatsFilesChanged)
	assert.Empty(t, h.outputs(t, "s1"))
}

func TestEndExecutionRecordModeBeatsWorktreeSettings(t *testing.T) {
	dir := t.TempDir()
	head := testutil.InitRepoWithCommit(t, dir)
	require.NoError(t, settings.Save(dir, &settings.CrystalSettings{
		CommitMode: "disabled",
		Enabled:    true,
	}))
	h := newHarness(t)
	h.setCommitMode(t, "s1", "checkpoint", "")

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)

	testutil.WriteFile(t, dir, "wanted.go", "package wanted\n")

	diffRecord, err := h.tracker.EndExecution(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, diffRecord)

	assert.NotEqual(t, head, diffRecord.AfterCommitHash)
	assert.Equal(t, diffRecord.AfterCommitHash, testutil.GetHeadHash(t, dir))
}

func TestEndExecutionCleanTreePersistsZeroStatRecord(t *testing.T) {
	dir := t.TempDir()
	head := testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)

	diffRecord, err := h.tracker.EndExecution(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, diffRecord)

	assert.Zero(t, diffRecord.StatsFilesChanged)
	assert.Zero(t, diffRecord.StatsAdditions)
	assert.Equal(t, head, diffRecord.BeforeCommitHash)
	assert.Equal(t, head, diffRecord.AfterCommitHash)
}

func TestEndExecutionStructuredTimeout(t *testing.T) {
	dir := t.TempDir()
	head := testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)
	h.setCommitMode(t, "s1", "structured", `{"structuredTimeoutMs": 100}`)

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)

	testutil.WriteFile(t, dir, "uncommitted.go", "package uncommitted\n")

	diffRecord, err := h.tracker.EndExecution(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, diffRecord)

	// The agent never committed, so the diff is against the unchanged HEAD
	assert.Equal(t, head, diffRecord.AfterCommitHash)
	assert.Equal(t, 1, diffRecord.StatsFilesChanged)

	outputs := h.outputs(t, "s1")
	require.Len(t, outputs, 2)
	assert.Equal(t, session.SubtypeAutoCommitMode, outputs[0].Subtype)
	assert.Equal(t, session.SubtypeAutoCommitTimeout, outputs[1].Subtype)
}

func TestEndExecutionStructuredAgentCommit(t *testing.T) {
	dir := t.TempDir()
	before := testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)
	h.setCommitMode(t, "s1", "structured", `{"structuredTimeoutMs": 2000}`)

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)

	// The agent does its own commit during the execution
	testutil.WriteFile(t, dir, "agent.go", "package agent\n")
	agentHash := testutil.GitCommitAll(t, dir, "feat: agent work")

	diffRecord, err := h.tracker.EndExecution(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, diffRecord)

	assert.Equal(t, before, diffRecord.BeforeCommitHash)
	assert.Equal(t, agentHash, diffRecord.AfterCommitHash)
	assert.Equal(t, 1, diffRecord.StatsFilesChanged)

	outputs := h.outputs(t, "s1")
	require.Len(t, outputs, 2)
	assert.Equal(t, session.SubtypeAutoCommitMode, outputs[0].Subtype)
	assert.Equal(t, session.SubtypeAutoCommitClaudeSuccess, outputs[1].Subtype)
	assert.Equal(t, agentHash, outputs[1].CommitHash)
}

func TestEndExecutionMalformedSettingsStillCompletes(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)
	h.setCommitMode(t, "s1", "checkpoint", `{broken json`)

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)
	testutil.WriteFile(t, dir, "file.go", "package file\n")

	diffRecord, err := h.tracker.EndExecution(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, diffRecord)
	assert.Equal(t, 1, diffRecord.StatsFilesChanged)
}

func TestEndExecutionCleansUpOnFailure(t *testing.T) {
	dir := t.TempDir()
	testutil.InitRepoWithCommit(t, dir)
	h := newHarness(t)

	_, err := h.tracker.StartExecution(context.Background(), "s1", dir, nil, "")
	require.NoError(t, err)

	// Corrupt the stored session record so loading it fails during end
	sessionFile := filepath.Join(h.stateDir, "sessions", "s1.json")
	require.NoError(t, os.WriteFile(sessionFile, []byte("{not json"), 0o600))

	_, err = h.tracker.EndExecution(context.Background(), "s1")
	require.Error(t, err)

	// Context released despite the failure
	assert.False(t, h.tracker.IsTracking("s1"))
}

func TestConcurrentSessionsTrackIndependently(t *testing.T) {
	h := newHarness(t)

	dirs := make([]string, 4)
	for i := range dirs {
		dirs[i] = t.TempDir()
		testutil.InitRepoWithCommit(t, dirs[i])
	}

	var wg sync.WaitGroup
	for i, dir := range dirs {
		wg.Add(1)
		go func(id string, dir string) {
			defer wg.Done()
			_, err := h.tracker.StartExecution(context.Background(), id, dir, nil, "")
			assert.NoError(t, err)
			_, err = h.tracker.EndExecution(context.Background(), id)
			assert.NoError(t, err)
		}("sess-"+string(rune('a'+i)), dir)
	}
	wg.Wait()

	for i := range dirs {
		id := "sess-" + string(rune('a'+i))
		assert.False(t, h.tracker.IsTracking(id))
		diffs, err := h.store.GetExecutionDiffs(id)
		require.NoError(t, err)
		assert.Len(t, diffs, 1)
	}
}
