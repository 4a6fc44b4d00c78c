package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
)

func setupRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())
	t.Chdir(dir)
	paths.ClearRepoRootCache()
	t.Cleanup(paths.ClearRepoRootCache)
	return dir
}

func TestInitCreatesSessionLogFile(t *testing.T) {
	dir := setupRepo(t)

	require.NoError(t, Init("sess-123"))
	defer resetLogger()

	Info(context.Background(), "execution started", slog.String("mode", "checkpoint"))
	Close()

	logPath := filepath.Join(dir, LogsDir, "sess-123.log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "execution started", entry["msg"])
	assert.Equal(t, "sess-123", entry["session_id"])
	assert.Equal(t, "checkpoint", entry["mode"])
}

func TestInitRejectsPathTraversal(t *testing.T) {
	setupRepo(t)
	assert.Error(t, Init("../evil"))
}

func TestContextAttrs(t *testing.T) {
	dir := setupRepo(t)

	require.NoError(t, Init("sess-ctx"))
	defer resetLogger()

	ctx := WithExecution(context.Background(), "exec-9")
	ctx = WithComponent(ctx, "tracker")
	Info(ctx, "tracked")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, LogsDir, "sess-ctx.log"))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "exec-9", entry["execution_id"])
	assert.Equal(t, "tracker", entry["component"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("bogus"))
}

func TestLogBeforeInitDoesNotPanic(t *testing.T) {
	resetLogger()
	Info(context.Background(), "no logger yet")
	Debug(nil, "nil context") //nolint:staticcheck // exercising nil-context path
}
