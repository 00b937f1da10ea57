package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/backend"
)

// Phase is the lifecycle state of a Benchmark.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseWarmup   Phase = "warmup"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// Status is a point-in-time view of a Benchmark.
type Status struct {
	RunID     string
	Phase     Phase
	Elapsed   time.Duration
	Clients   int
	Alive     int
	Reported  int64
	Discarded int64
	Err       string
}

func (s Status) String() string {
	line := fmt.Sprintf("run=%s phase=%s elapsed=%s clients=%d alive=%d reported=%d",
		s.RunID, s.Phase, s.Elapsed.Round(time.Millisecond), s.Clients, s.Alive, s.Reported)
	if s.Err != "" {
		line += " error=" + strconv.Quote(s.Err)
	}
	return line
}

// Benchmark runs one virtual user goroutine per configured mix instance plus
// a monitor goroutine draining their statistics.
type Benchmark struct {
	opt     Options
	engine  backend.Engine
	clients []*client
	closers []io.Closer
	ctl     *control
	monitor *Monitor
	logger  *zap.Logger

	started atomic.Bool
	phase   atomic.Value // Phase
	begin   time.Time
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// New prepares the backend and builds every client context. No goroutine is
// started until Start.
func New(opt Options, logger *zap.Logger) (*Benchmark, error) {
	if opt.Workload == nil {
		return nil, errors.New("workload is required")
	}
	opt.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	if opt.RunID == "" {
		opt.RunID = ulid.Make().String()
	}
	logger = logger.With(zap.String("component", "benchmark"), zap.String("run", opt.RunID))

	engine := opt.Backend
	if engine == nil {
		var err error
		engine, err = backend.New(opt.Workload.Backend.Name)
		if err != nil {
			return nil, err
		}
		if err := engine.Configure(opt.Workload.Backend.Config); err != nil {
			return nil, fmt.Errorf("configure backend: %w", err)
		}
	}
	for name, tr := range opt.Workload.Transactions {
		if err := engine.PrepareForStatement(name, tr.Inputs, tr.Exports); err != nil {
			return nil, fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	if err := engine.ConsolidateForRun(); err != nil {
		return nil, fmt.Errorf("consolidate backend: %w", err)
	}

	b := &Benchmark{
		opt:    opt,
		engine: engine,
		ctl:    newControl(opt.QueueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	b.phase.Store(PhaseIdle)

	if err := b.buildClients(); err != nil {
		b.closeAll()
		return nil, err
	}

	reporter := opt.Reporter
	if reporter == nil {
		fr, err := NewFileReporter(b.LogPath(), opt.ReportFormat)
		if err != nil {
			b.closeAll()
			return nil, err
		}
		reporter = fr
	}
	b.monitor = newMonitor(b.ctl, reporter, opt.Exporter, logger.With(zap.String("component", "monitor")))
	return b, nil
}

func (b *Benchmark) buildClients() error {
	opt := &b.opt
	thread := 0
	for mixID, mix := range opt.Workload.Mixes {
		users := opt.usersFor(mix)
		for u := 0; u < users; u++ {
			nctx, err := NewNContext(opt.Workload, mixID, opt.BaseDir)
			if err != nil {
				return err
			}
			bc, err := b.engine.CreateClient()
			if err != nil {
				return fmt.Errorf("create backend client: %w", err)
			}
			b.closers = append(b.closers, bc)
			if opt.LogFailures {
				bc = withFailureLogging(bc, b.logger)
			}
			c := &client{
				id:      thread,
				nctx:    nctx,
				wl:      opt.Workload,
				backend: bc,
				ctl:     b.ctl,
				opt:     opt,
				pacer:   newPacer(opt, int64(thread)),
				logger:  b.logger.With(zap.Int("thread", thread)),
			}
			if opt.Dump {
				f, err := os.OpenFile(b.DumpPath(thread), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return fmt.Errorf("open dump file: %w", err)
				}
				b.closers = append(b.closers, f)
				c.dump = f
			}
			b.clients = append(b.clients, c)
			thread++
		}
	}
	if len(b.clients) == 0 {
		return errors.New("no virtual users configured")
	}
	return nil
}

// RunID identifies the run in log file names.
func (b *Benchmark) RunID() string { return b.opt.RunID }

// LogPath is the monitor's run log.
func (b *Benchmark) LogPath() string {
	return filepath.Join(b.opt.LogDir, "run-"+b.opt.RunID+".log")
}

// DumpPath is the transaction dump of one client.
func (b *Benchmark) DumpPath(thread int) string {
	return filepath.Join(b.opt.LogDir, fmt.Sprintf("dump-%s-%d.log", b.opt.RunID, thread))
}

// Start launches the monitor and every client, then opens the start gate.
// Items retired before EnableReporting are discarded.
func (b *Benchmark) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("benchmark already started")
	}
	b.mu.Lock()
	b.begin = time.Now()
	b.mu.Unlock()
	b.phase.Store(PhaseWarmup)
	b.ctl.running.Store(true)
	b.ctl.alive.Store(int32(len(b.clients)))

	monitorDone := make(chan error, 1)
	go func() { monitorDone <- b.monitor.Run() }()

	var wg sync.WaitGroup
	wg.Add(len(b.clients))
	for _, c := range b.clients {
		go func(c *client) {
			defer wg.Done()
			defer b.ctl.alive.Add(-1)
			if err := c.run(ctx); err != nil {
				c.logger.Error("virtual user aborted", zap.Error(err))
				b.fail(err)
			}
		}(c)
	}
	close(b.ctl.startGate)
	b.logger.Info("benchmark started", zap.Int("clients", len(b.clients)))

	go func() {
		wg.Wait()
		close(b.ctl.items)
		if err := <-monitorDone; err != nil {
			b.fail(fmt.Errorf("monitor: %w", err))
		}
		b.closeAll()
		if b.Err() != nil {
			b.phase.Store(PhaseFailed)
		} else {
			b.phase.Store(PhaseDone)
		}
		b.logger.Info("benchmark finished", zap.Duration("elapsed", b.elapsed()), zap.Error(b.Err()))
		close(b.done)
	}()
	return nil
}

// EnableReporting ends the warm-up: intervals retired from now on are logged.
func (b *Benchmark) EnableReporting() {
	b.ctl.reporting.Store(true)
	b.phase.CompareAndSwap(PhaseWarmup, PhaseRunning)
}

// Stop asks every client to finish its current mix and waits for the run to
// drain.
func (b *Benchmark) Stop() error {
	if !b.started.Load() {
		b.closeAll()
		return b.monitor.reporter.Close()
	}
	if b.ctl.running.CompareAndSwap(true, false) {
		b.phase.Store(PhaseStopping)
	}
	return b.Wait()
}

// Wait blocks until all clients and the monitor have exited.
func (b *Benchmark) Wait() error {
	<-b.done
	return b.Err()
}

// Done is closed when the run has fully drained.
func (b *Benchmark) Done() <-chan struct{} { return b.done }

// Err returns the first fatal error of the run.
func (b *Benchmark) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Benchmark) elapsed() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.begin.IsZero() {
		return 0
	}
	return time.Since(b.begin)
}

func (b *Benchmark) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.ctl.running.Store(false)
}

// Status reports the current phase and counters.
func (b *Benchmark) Status() Status {
	s := Status{
		RunID:     b.opt.RunID,
		Phase:     b.phase.Load().(Phase),
		Clients:   len(b.clients),
		Alive:     int(b.ctl.alive.Load()),
		Reported:  b.monitor.reported.Load(),
		Discarded: b.monitor.discarded.Load(),
	}
	s.Elapsed = b.elapsed()
	if err := b.Err(); err != nil {
		s.Err = err.Error()
	}
	return s
}

// Run executes a complete benchmark: warm-up, measured duration, drain. A
// zero duration runs until ctx is cancelled or every client has exited.
func (b *Benchmark) Run(ctx context.Context, warmup, duration time.Duration) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	return b.Drive(ctx, warmup, duration)
}

// Drive times a started run: it ends the warm-up after warmup, stops the run
// after duration and waits for it to drain.
func (b *Benchmark) Drive(ctx context.Context, warmup, duration time.Duration) error {
	if warmup > 0 && !b.countdown(ctx, warmup) {
		return b.Stop()
	}
	b.EnableReporting()
	b.countdown(ctx, duration)
	return b.Stop()
}

// countdown waits d (forever when d is zero) and reports whether the run is
// still going.
func (b *Benchmark) countdown(ctx context.Context, d time.Duration) bool {
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-timeout:
		return true
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	}
}

func (b *Benchmark) closeAll() {
	b.mu.Lock()
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()
	for _, c := range closers {
		if err := c.Close(); err != nil {
			b.logger.Warn("close resource", zap.Error(err))
		}
	}
}
