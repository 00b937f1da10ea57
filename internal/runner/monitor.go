package runner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/metrics"
	"github.com/torosent/fleetbench/internal/output"
)

// Reporter receives every retired interval the monitor accepts.
type Reporter interface {
	Report(item metrics.QueueItem) error
	Close() error
}

// Monitor drains the statistics queue of one run. It exits once the queue is
// closed and empty.
type Monitor struct {
	ctl      *control
	reporter Reporter
	exporter *metrics.Exporter
	logger   *zap.Logger

	reported  atomic.Int64
	discarded atomic.Int64
}

func newMonitor(ctl *control, reporter Reporter, exporter *metrics.Exporter, logger *zap.Logger) *Monitor {
	return &Monitor{ctl: ctl, reporter: reporter, exporter: exporter, logger: logger}
}

// Run consumes items until the producers are done, then closes the reporter.
func (m *Monitor) Run() error {
	var firstErr error
	for item := range m.ctl.items {
		if !m.ctl.reporting.Load() {
			m.discarded.Add(1)
			continue
		}
		m.exporter.Observe(item.Mix, item.Stats)
		if err := m.reporter.Report(item); err != nil {
			if firstErr == nil {
				firstErr = err
				m.logger.Error("report interval", zap.Int("thread", item.Thread), zap.Error(err))
			}
			continue
		}
		m.reported.Add(1)
	}
	if err := m.reporter.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	m.logger.Debug("monitor finished",
		zap.Int64("reported", m.reported.Load()),
		zap.Int64("discarded", m.discarded.Load()))
	return firstErr
}

// FileReporter appends report blocks to a run log. The log is guarded by an
// advisory lock so two runs cannot interleave into the same file.
type FileReporter struct {
	path   string
	file   *os.File
	lock   *flock.Flock
	w      *bufio.Writer
	format ReportFormat
}

// NewFileReporter opens path for appending and takes its lock.
func NewFileReporter(path string, format ReportFormat) (*FileReporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock run log: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("run log %s is in use by another benchmark", path)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open run log: %w", err)
	}
	r := &FileReporter{path: path, file: file, lock: lock, w: bufio.NewWriter(file), format: format}
	if format == ReportFormatText {
		fmt.Fprintf(r.w, "# fleetbench run log opened %s\n", time.Now().Format(time.RFC3339))
	}
	return r, nil
}

// Path returns the log file location.
func (r *FileReporter) Path() string { return r.path }

func (r *FileReporter) Report(item metrics.QueueItem) error {
	if r.format == ReportFormatJSON {
		return output.WriteQueueItemJSON(r.w, item)
	}
	return output.WriteQueueItem(r.w, item)
}

// Close flushes and closes the log, then releases its lock.
func (r *FileReporter) Close() error {
	flushErr := r.w.Flush()
	closeErr := r.file.Close()
	_ = r.lock.Unlock()
	_ = os.Remove(r.path + ".lock")
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
