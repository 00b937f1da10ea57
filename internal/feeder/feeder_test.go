package feeder

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/fleetbench/internal/variables"
	"github.com/torosent/fleetbench/internal/workload"
)

func TestRoundRobinCycles(t *testing.T) {
	rr, err := NewRoundRobin(variables.TypeInt, []any{1, "2", 3.0})
	require.NoError(t, err)
	require.Equal(t, 3, rr.Len())

	var got []any
	for i := 0; i < 7; i++ {
		got = append(got, rr.Next())
	}
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(1), int64(2), int64(3), int64(1)}, got)
}

func TestRoundRobinRejectsBadLiterals(t *testing.T) {
	_, err := NewRoundRobin(variables.TypeInt, nil)
	require.Error(t, err)

	_, err = NewRoundRobin(variables.TypeInt, []any{"1", "two"})
	require.ErrorContains(t, err, "value 1")
}

func TestRoundRobinConcurrentAccess(t *testing.T) {
	rr, err := NewRoundRobin(variables.TypeString, []any{"a", "b"})
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[any]int{}
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				v := rr.Next()
				mu.Lock()
				counts[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, counts["a"])
	assert.Equal(t, 400, counts["b"])
}

func TestRandomStaysWithinBounds(t *testing.T) {
	r, err := NewRandom(-3, 4)
	require.NoError(t, err)
	assert.Zero(t, r.Len())

	seen := map[int64]bool{}
	for i := 0; i < 10000; i++ {
		v := r.Next().(int64)
		require.GreaterOrEqual(t, v, int64(-3))
		require.LessOrEqual(t, v, int64(4))
		seen[v] = true
	}
	assert.Len(t, seen, 8)
}

func TestRandomSingleValueAndInvertedBounds(t *testing.T) {
	r, err := NewRandom(9, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), r.Next())

	_, err = NewRandom(5, 1)
	require.Error(t, err)
}

func TestLoadCSVColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(path, []byte("user_id,email\n1,alice@example.com\n2, bob@example.com\n"), 0o644))

	values, err := LoadCSVColumn(path, "email")
	require.NoError(t, err)
	assert.Equal(t, []any{"alice@example.com", "bob@example.com"}, values)

	_, err = LoadCSVColumn(path, "missing")
	require.ErrorContains(t, err, "missing")

	_, err = LoadCSVColumn(filepath.Join(dir, "nope.csv"), "email")
	require.Error(t, err)
}

func TestLoadCSVColumnHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, os.WriteFile(path, []byte("user_id\n"), 0o644))

	_, err := LoadCSVColumn(path, "user_id")
	require.Error(t, err)
}

func TestLoadJSONField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":1,"user":{"name":"alice"}},{"id":2,"user":{"name":"bob"}}]`), 0o644))

	ids, err := LoadJSONField(path, "id")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, ids)

	names, err := LoadJSONField(path, "user.name")
	require.NoError(t, err)
	assert.Equal(t, []any{"alice", "bob"}, names)

	_, err = LoadJSONField(path, "email")
	require.ErrorContains(t, err, "record 0")
}

func TestLoadJSONFieldInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"id":`), 0o644))
	_, err := LoadJSONField(bad, "id")
	require.Error(t, err)

	obj := filepath.Join(dir, "obj.json")
	require.NoError(t, os.WriteFile(obj, []byte(`{"id":1}`), 0o644))
	_, err = LoadJSONField(obj, "id")
	require.ErrorContains(t, err, "array")

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o644))
	_, err = LoadJSONField(empty, "id")
	require.ErrorContains(t, err, "empty")
}

func TestNewFromValueDef(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ids.csv"), []byte("id\n10\n20\n"), 0o644))

	gen, err := New(workload.ValueDef{Kind: workload.ValueCSV, File: "ids.csv", Column: "id"}, variables.TypeInt, dir)
	require.NoError(t, err)
	assert.Equal(t, int64(10), gen.Next())
	assert.Equal(t, int64(20), gen.Next())

	gen, err = New(workload.ValueDef{Kind: workload.ValueRandom, Min: 1, Max: 2}, variables.TypeInt, "")
	require.NoError(t, err)
	assert.Contains(t, []any{int64(1), int64(2)}, gen.Next())

	_, err = New(workload.ValueDef{Kind: workload.ValueRandom, Min: 1, Max: 2}, variables.TypeString, "")
	require.Error(t, err)

	_, err = New(workload.ValueDef{Kind: "zipf"}, variables.TypeInt, "")
	require.Error(t, err)
}
