package fsutil

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, fsys FileSystem, name, data string) {
	t.Helper()
	w, err := fsys.Create(name)
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestFileSystems(t *testing.T) {
	t.Parallel()
	for name, fsys := range map[string]FileSystem{
		"os":     OSFileSystem{},
		"memory": NewMemoryFileSystem(),
	} {
		t.Run(name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "plots", "run1")
			file := filepath.Join(dir, "INDEX_Power.csv")

			_, err := fsys.Create(file)
			assert.Error(t, err, "parent directory is missing")

			require.NoError(t, fsys.MkdirAll(dir, 0o755))
			assert.True(t, fsys.Exists(dir))
			assert.False(t, fsys.Exists(file))

			write(t, fsys, file, "INDEX Power\n1,2\n")
			assert.True(t, fsys.Exists(file))
			data, err := fsys.ReadFile(file)
			require.NoError(t, err)
			assert.Equal(t, "INDEX Power\n1,2\n", string(data))

			// Create truncates
			write(t, fsys, file, "x")
			data, err = fsys.ReadFile(file)
			require.NoError(t, err)
			assert.Equal(t, "x", string(data))

			_, err = fsys.ReadFile(filepath.Join(dir, "missing"))
			assert.Error(t, err)
		})
	}
}

func TestMemoryFileSystem_Files(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("out", 0o755))
	write(t, m, "out/b.png", "b")
	write(t, m, "out/a.csv", "a")
	assert.Equal(t, []string{"out/a.csv", "out/b.png"}, m.Files())

	// readers get a copy
	data, err := m.ReadFile("out/a.csv")
	require.NoError(t, err)
	data[0] = 'z'
	again, err := m.ReadFile("out/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "a", string(again))
}
