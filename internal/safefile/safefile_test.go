package safefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestCreateCommit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.csv")

	f, err := Create(path)
	require.NoError(t, err)
	defer f.Abort()

	_, err = f.WriteString("hid\n1\n")
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "destination must not exist before commit")

	require.NoError(t, f.Commit())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hid\n1\n", string(data))
	assert.Equal(t, []string{"out.csv"}, listDir(t, filepath.Dir(path)))
}

func TestAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")

	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.WriteString("partial")
	require.NoError(t, err)
	f.Abort()

	assert.Empty(t, listDir(t, dir))
}

func TestAbortKeepsPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("complete"), 0o644))

	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.WriteString("trunc")
	require.NoError(t, err)
	f.Abort()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "complete", string(data))
}

func TestCommitTwice(t *testing.T) {
	f, err := Create(filepath.Join(t.TempDir(), "out.csv"))
	require.NoError(t, err)
	require.NoError(t, f.Commit())
	require.Error(t, f.Commit())
	f.Abort()
}

func TestTempPathPublish(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layer.gpkg")

	tmp, err := TempPath(path)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(tmp))
	assert.NotEqual(t, path, tmp)

	require.NoError(t, os.WriteFile(tmp, []byte("x"), 0o644))
	require.NoError(t, Publish(tmp, path))

	assert.Equal(t, []string{"layer.gpkg"}, listDir(t, dir))
}
