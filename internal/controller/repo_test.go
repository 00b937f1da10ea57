package controller

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryList(t *testing.T) {
	dir := t.TempDir()
	writeBenchmark(t, dir, "zeta", map[string]string{"workload.yaml": "name: zeta\n"})
	writeBenchmark(t, dir, "alpha", map[string]string{"workload.yaml": "name: alpha\n"})
	writeBenchmark(t, dir, "notes", map[string]string{"README": "no workload here"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.yaml"), nil, 0o644))

	names, err := NewRepository(dir).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)

	names, err = NewRepository(filepath.Join(dir, "absent")).List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRepositoryOpen(t *testing.T) {
	dir := t.TempDir()
	writeBenchmark(t, dir, "shop", map[string]string{
		"workload.yaml":  "name: shop\n",
		"data/users.csv": "id\n1\n",
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("hidden"), 0o644))
	repo := NewRepository(dir)

	f, size, err := repo.Open("shop", "data/users.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(data))
	assert.EqualValues(t, 5, size)

	tests := []struct {
		name      string
		benchmark string
		resource  string
		target    error
	}{
		{"parent escape", "shop", "../secret.txt", ErrInvalidResource},
		{"absolute path", "shop", "/etc/passwd", ErrInvalidResource},
		{"empty name", "shop", "", ErrInvalidResource},
		{"directory", "shop", "data", ErrInvalidResource},
		{"unknown benchmark", "cart", "workload.yaml", ErrUnknownBenchmark},
		{"benchmark escape", "..", "secret.txt", ErrUnknownBenchmark},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := repo.Open(tt.benchmark, tt.resource)
			require.ErrorIs(t, err, tt.target)
		})
	}

	_, _, err = repo.Open("shop", "missing.csv")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRepositoryOpenRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	writeBenchmark(t, dir, "shop", map[string]string{"workload.yaml": "name: shop\n"})
	outside := filepath.Join(t.TempDir(), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))
	if err := os.Symlink(outside, filepath.Join(dir, "shop", "link.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, _, err := NewRepository(dir).Open("shop", "link.txt")
	require.Error(t, err)
}

func TestLogSinkLocksDestination(t *testing.T) {
	dir := t.TempDir()

	first, err := openLogSink(dir, "driver.log")
	require.NoError(t, err)
	_, err = first.Write([]byte("one\n"))
	require.NoError(t, err)

	_, err = openLogSink(dir, "driver.log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "being gathered")

	require.NoError(t, first.Close())

	second, err := openLogSink(dir, "driver.log")
	require.NoError(t, err)
	_, err = second.Write([]byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, second.Close())

	data, err := os.ReadFile(filepath.Join(dir, "driver.log"))
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))
}

func TestLogSinkRejectsNestedNames(t *testing.T) {
	for _, name := range []string{"", "../x.log", "sub/x.log", "/abs.log"} {
		_, err := openLogSink(t.TempDir(), name)
		require.ErrorIs(t, err, ErrInvalidResource, name)
	}
}
