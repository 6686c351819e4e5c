package settings

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicobailon/pi-rewind-hook/internal/ownpaths"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, exec.Command("git", "init", dir).Run())
	t.Chdir(dir)
	ownpaths.ClearRepoRootCache()
	return dir
}

func TestLoad_DefaultsWhenMissing(t *testing.T) {
	initRepo(t)

	s, err := Load()
	require.NoError(t, err)
	assert.False(t, s.SilentCheckpoints)
	assert.False(t, s.TraceHook)
	assert.Nil(t, s.Telemetry)
}

func TestLoad_MergesLocalOverride(t *testing.T) {
	dir := initRepo(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".pi-trace"), 0o750))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ".pi-trace", "settings.json"),
		[]byte(`{"silent_checkpoints": true, "log_level": "info"}`), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ".pi-trace", "settings.local.json"),
		[]byte(`{"log_level": "debug"}`), 0o644))

	s, err := Load()
	require.NoError(t, err)
	assert.True(t, s.SilentCheckpoints)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestWrite_RoundTrips(t *testing.T) {
	initRepo(t)

	want := &Settings{SilentCheckpoints: true, TraceHook: true}
	require.NoError(t, Write(want))

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, want.SilentCheckpoints, got.SilentCheckpoints)
	assert.Equal(t, want.TraceHook, got.TraceHook)
}
