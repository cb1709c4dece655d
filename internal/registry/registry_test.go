package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "global_registry.json")
	r, err := Open(path)
	require.NoError(t, err)
	return r, path
}

func TestOpenStartsEmptyWhenFileMissing(t *testing.T) {
	r, _ := openTestRegistry(t)
	assert.Empty(t, r.List())
}

func TestRegisterPersistsAcrossReopen(t *testing.T) {
	r, path := openTestRegistry(t)
	require.NoError(t, r.Register(ProjectCard{ProjectID: "demo", Path: "/work/demo", ProjectType: "go"}))

	r2, err := Open(path)
	require.NoError(t, err)
	card, ok := r2.Get("demo")
	require.True(t, ok)
	assert.Equal(t, "/work/demo", card.Path)
}

func TestRegisterUpsertsByProjectID(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Register(ProjectCard{ProjectID: "demo", Path: "/work/demo", ProjectType: "go"}))
	require.NoError(t, r.Register(ProjectCard{ProjectID: "demo", Path: "/work/demo-renamed", ProjectType: "go"}))

	assert.Len(t, r.List(), 1)
	card, _ := r.Get("demo")
	assert.Equal(t, "/work/demo-renamed", card.Path)
}

func TestFindByPath(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Register(ProjectCard{ProjectID: "demo", Path: "/work/demo", ProjectType: "go"}))

	card, ok := r.FindByPath("/work/demo")
	require.True(t, ok)
	assert.Equal(t, "demo", card.ProjectID)

	_, ok = r.FindByPath("/work/missing")
	assert.False(t, ok)
}

func TestTouchUpdatesLastActive(t *testing.T) {
	r, _ := openTestRegistry(t)
	require.NoError(t, r.Register(ProjectCard{ProjectID: "demo", Path: "/work/demo", ProjectType: "go"}))
	before, _ := r.Get("demo")

	ok, err := r.Touch("demo")
	require.NoError(t, err)
	assert.True(t, ok)

	after, _ := r.Get("demo")
	assert.True(t, after.LastActive.After(before.LastActive) || after.LastActive.Equal(before.LastActive))
}

func TestTouchReturnsFalseForUnknownProject(t *testing.T) {
	r, _ := openTestRegistry(t)
	ok, err := r.Touch("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetectProjectTypeGoMod(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/demo\n\ngo 1.25\n"), 0o644))
	assert.Equal(t, "go", DetectProjectType(dir))
}

func TestDetectProjectTypeNode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"demo"}`), 0o644))
	assert.Equal(t, "node", DetectProjectType(dir))
}

func TestDetectProjectTypePython(t *testing.T) {
	dir := t.TempDir()
	content := "[project]\nname = \"demo\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(content), 0o644))
	assert.Equal(t, "python", DetectProjectType(dir))
}

func TestDetectProjectTypeUnknownFallback(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, "unknown", DetectProjectType(dir))
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/user", ".memorybank", "global_registry.json"), DefaultPath("/home/user"))
}
