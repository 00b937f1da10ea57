package controller

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// logSink receives one gathered log file. The destination is locked for
// the duration of the transfer so concurrent gathers into the same
// directory cannot interleave.
type logSink struct {
	path string
	file *os.File
	lock *flock.Flock
}

func openLogSink(dir, name string) (*logSink, error) {
	if name == "" || !filepath.IsLocal(name) || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: log name %q", ErrInvalidResource, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create gather dir: %w", err)
	}
	path := filepath.Join(dir, name)
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s is being gathered by another transfer", path)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &logSink{path: path, file: file, lock: lock}, nil
}

func (s *logSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

func (s *logSink) Close() error {
	err := s.file.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
