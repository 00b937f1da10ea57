package controller

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/torosent/fleetbench/internal/workload"
)

var (
	// ErrUnknownBenchmark is returned for a benchmark missing from the repository.
	ErrUnknownBenchmark = errors.New("unknown benchmark")
	// ErrInvalidResource is returned for resource names that leave their benchmark.
	ErrInvalidResource = errors.New("invalid resource name")
)

// Repository serves benchmarks from a directory holding one subdirectory
// per benchmark. A benchmark directory must contain workload.yaml; every
// other file in it may be fetched by drivers during PREPARE.
type Repository struct {
	dir string
}

func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

func (r *Repository) Dir() string { return r.dir }

// List returns the names of all benchmarks, sorted.
func (r *Repository) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read repository: %w", err)
	}
	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.dir, entry.Name(), workload.FileName)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Has reports whether benchmark exists.
func (r *Repository) Has(benchmark string) bool {
	if !validBenchmarkName(benchmark) {
		return false
	}
	_, err := os.Stat(filepath.Join(r.dir, benchmark, workload.FileName))
	return err == nil
}

// Open opens a resource of benchmark for reading and returns its size.
// Names are resolved inside the benchmark directory; anything escaping it
// is rejected.
func (r *Repository) Open(benchmark, resource string) (*os.File, int64, error) {
	if !validBenchmarkName(benchmark) || !r.Has(benchmark) {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownBenchmark, benchmark)
	}
	clean := filepath.FromSlash(resource)
	if resource == "" || !filepath.IsLocal(clean) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidResource, resource)
	}

	root, err := os.OpenRoot(filepath.Join(r.dir, benchmark))
	if err != nil {
		return nil, 0, fmt.Errorf("open benchmark %s: %w", benchmark, err)
	}
	defer root.Close()

	f, err := root.Open(clean)
	if err != nil {
		return nil, 0, fmt.Errorf("open resource %s: %w", resource, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat resource %s: %w", resource, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: %q is a directory", ErrInvalidResource, resource)
	}
	return f, info.Size(), nil
}

func validBenchmarkName(name string) bool {
	return name != "" && filepath.IsLocal(name) && !strings.ContainsAny(name, `/\`)
}
