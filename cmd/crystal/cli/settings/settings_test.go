package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/crystal/cmd/crystal/cli/paths"
)

func writeSettingsFile(t *testing.T, dir, name, content string) {
	t.Helper()
	crystalDir := filepath.Join(dir, paths.CrystalDir)
	require.NoError(t, os.MkdirAll(crystalDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(crystalDir, name), []byte(content), 0o600))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "checkpoint", s.CommitMode)
	assert.True(t, s.Enabled)
	assert.Nil(t, s.Telemetry)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writeSettingsFile(t, dir, "settings.json", `{
  "commit_mode": "structured",
  "structured_timeout_ms": 8000,
  "log_level": "debug"
}`)

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "structured", s.CommitMode)
	assert.Equal(t, 8000, s.StructuredTimeoutMs)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLocalOverrides(t *testing.T) {
	dir := t.TempDir()
	writeSettingsFile(t, dir, "settings.json", `{"commit_mode": "checkpoint", "enabled": true}`)
	writeSettingsFile(t, dir, "settings.local.json", `{"commit_mode": "disabled", "telemetry": false}`)

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "disabled", s.CommitMode)
	require.NotNil(t, s.Telemetry)
	assert.False(t, *s.Telemetry)
	assert.True(t, s.Enabled) // untouched by local file
}

func TestLocalOverrideEmptyModeIgnored(t *testing.T) {
	dir := t.TempDir()
	writeSettingsFile(t, dir, "settings.json", `{"commit_mode": "structured"}`)
	writeSettingsFile(t, dir, "settings.local.json", `{"commit_mode": ""}`)

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "structured", s.CommitMode)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeSettingsFile(t, dir, "settings.json", `{not json`)

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	optIn := true
	in := &CrystalSettings{
		CommitMode:       "checkpoint",
		CheckpointPrefix: "wip: ",
		Enabled:          true,
		Telemetry:        &optIn,
	}
	require.NoError(t, Save(dir, in))

	out, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, in.CommitMode, out.CommitMode)
	assert.Equal(t, in.CheckpointPrefix, out.CheckpointPrefix)
	require.NotNil(t, out.Telemetry)
	assert.True(t, *out.Telemetry)
}
