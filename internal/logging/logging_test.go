package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	assert.Contains(t, dir, ".memorybank")
	assert.Contains(t, dir, "logs")
}

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	assert.True(t, strings.HasSuffix(path, "indexer.log"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.WriteToStderr)
}

func TestDebugConfigUsesDebugLevel(t *testing.T) {
	assert.Equal(t, "debug", DebugConfig().Level)
}

func TestSetupWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")
	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path, MaxSizeMB: 10, MaxFiles: 3})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFromString("debug"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("warn"))
	assert.Equal(t, slog.LevelInfo, LevelFromString("unknown"))
}

func TestEnsureLogDirCreatesDirectory(t *testing.T) {
	require.NoError(t, EnsureLogDir())
	info, err := os.Stat(DefaultLogDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRotatingWriterRotatesOnSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indexer.log")
	w, err := NewRotatingWriter(path, 0, 2) // maxSizeMB=0 forces rotation on any write
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)

	rotated := path + ".1"
	_, err = os.Stat(rotated)
	assert.NoError(t, err)
}

func TestRotatingWriterSyncAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indexer.log")
	w, err := NewRotatingWriter(path, 10, 5)
	require.NoError(t, err)

	_, err = w.Write([]byte("data\n"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
}

func TestRotatingWriterImmediateSyncToggle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indexer.log")
	w, err := NewRotatingWriter(path, 10, 5)
	require.NoError(t, err)
	defer w.Close()

	w.SetImmediateSync(false)
	_, err = w.Write([]byte("data\n"))
	require.NoError(t, err)
}
