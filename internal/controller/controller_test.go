package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
)

// callLog records driver calls across all fakes of a test in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(driver, op string) {
	l.mu.Lock()
	l.calls = append(l.calls, driver+"."+op)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeDriver struct {
	name   string
	log    *callLog
	fail   map[string]error
	status string
	run    config.RunConfig
	closed bool
}

func newFake(name string, log *callLog) *fakeDriver {
	return &fakeDriver{name: name, log: log, fail: map[string]error{}, status: "phase=running"}
}

func (f *fakeDriver) call(op string) error {
	f.log.add(f.name, op)
	return f.fail[op]
}

func (f *fakeDriver) Name() string { return f.name }

func (f *fakeDriver) Prepare(context.Context, string) error { return f.call("prepare") }

func (f *fakeDriver) Setup(_ context.Context, run config.RunConfig) error {
	f.run = run
	return f.call("setup")
}

func (f *fakeDriver) Start(context.Context) error { return f.call("start") }

func (f *fakeDriver) Status(context.Context) (string, error) {
	if err := f.call("status"); err != nil {
		return "", err
	}
	return f.status, nil
}

func (f *fakeDriver) Stop(context.Context) error { return f.call("stop") }

func (f *fakeDriver) GatherLog(context.Context) error { return f.call("gather") }

func (f *fakeDriver) Shutdown(string) error { return f.call("shutdown") }

func (f *fakeDriver) Close() error {
	f.closed = true
	return nil
}

func rejected(driver, request string) error {
	return &RejectedError{Driver: driver, Request: request, Reason: "refused"}
}

func writeBenchmark(t *testing.T, repoDir, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(repoDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for file, content := range files {
		path := filepath.Join(dir, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// newTestController returns a controller with three fake drivers d1, d2, d3
// registered in order and a repository holding benchmark "shop".
func newTestController(t *testing.T) (*Controller, []*fakeDriver, *callLog) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default().Controller
	cfg.RepoDir = filepath.Join(root, "repo")
	cfg.GatherDir = filepath.Join(root, "gathered")
	writeBenchmark(t, cfg.RepoDir, "shop", map[string]string{"workload.yaml": "name: shop\n"})

	c := New(cfg, zap.NewNop())
	log := &callLog{}
	var fakes []*fakeDriver
	for i := 1; i <= 3; i++ {
		f := newFake(fmt.Sprintf("d%d", i), log)
		require.NoError(t, c.Register(f))
		fakes = append(fakes, f)
	}
	return c, fakes, log
}

func TestStartAbortsOnFirstFailure(t *testing.T) {
	c, fakes, log := newTestController(t)
	fakes[1].fail["start"] = rejected("d2", "START_REQUEST")

	ok := c.HandleStart(context.Background())

	assert.False(t, ok)
	assert.Equal(t, []string{"d1.start", "d2.start"}, log.snapshot())
	assert.Equal(t, []string{"start/d2: d2 rejected START_REQUEST: refused"}, c.Result().Errors())
	assert.Empty(t, c.Result().Warnings())
	assert.Len(t, c.Drivers(), 3)
}

func TestStopIsBestEffort(t *testing.T) {
	c, fakes, log := newTestController(t)
	fakes[1].fail["stop"] = rejected("d2", "STOP_REQUEST")

	ok := c.HandleStop(context.Background())

	assert.False(t, ok)
	assert.Equal(t, []string{"d1.stop", "d2.stop", "d3.stop"}, log.snapshot())
	assert.Equal(t, []string{"stop/d2: d2 rejected STOP_REQUEST: refused"}, c.Result().Warnings())
	assert.Empty(t, c.Result().Errors())
}

func TestPrepareAndSetupAbortOnFailure(t *testing.T) {
	c, fakes, log := newTestController(t)
	fakes[0].fail["prepare"] = rejected("d1", "PREPARE_REQUEST")

	assert.False(t, c.HandlePrepare(context.Background(), "shop"))
	assert.Equal(t, []string{"d1.prepare"}, log.snapshot())

	fakes[0].fail = map[string]error{}
	fakes[2].fail["setup"] = rejected("d3", "SETUP_REQUEST")
	run := config.DefaultRun()
	run.Users = map[string]int{"buyer": 2}

	assert.False(t, c.HandleSetup(context.Background(), run))
	assert.Equal(t, []string{"d1.prepare", "d1.setup", "d2.setup", "d3.setup"}, log.snapshot())
	assert.Equal(t, map[string]int{"buyer": 2}, fakes[1].run.Users)
}

func TestPrepareUnknownBenchmark(t *testing.T) {
	c, _, log := newTestController(t)

	assert.False(t, c.HandlePrepare(context.Background(), "missing"))
	assert.False(t, c.HandlePrepare(context.Background(), "../shop"))
	assert.Empty(t, log.snapshot())
	require.Len(t, c.Result().Errors(), 2)
	assert.Contains(t, c.Result().Errors()[0], `prepare: unknown benchmark: "missing"`)

	c.Result().Clear()
	assert.True(t, c.HandlePrepare(context.Background(), "shop"))
	assert.Equal(t, []string{"d1.prepare", "d2.prepare", "d3.prepare"}, log.snapshot())
}

func TestStatus(t *testing.T) {
	c, fakes, _ := newTestController(t)
	fakes[2].status = "phase=warmup"

	assert.Equal(t, []string{
		"d1: phase=running",
		"d2: phase=running",
		"d3: phase=warmup",
	}, c.HandleStatus(context.Background()))

	fakes[0].fail["status"] = rejected("d1", "STATUS_REQUEST")
	assert.Nil(t, c.HandleStatus(context.Background()))
	assert.True(t, c.Result().HasErrors())
}

func TestBrokenDriverIsRemoved(t *testing.T) {
	c, fakes, log := newTestController(t)
	fakes[1].fail["gather"] = errors.New("connection reset")

	assert.False(t, c.HandleGather(context.Background()))
	assert.Equal(t, []string{"d1.gather", "d2.gather", "d3.gather"}, log.snapshot())
	assert.Equal(t, []string{"d1", "d3"}, c.DriverNames())
	assert.True(t, fakes[1].closed)
	assert.Equal(t, []string{"gather/d2: connection reset"}, c.Result().Warnings())
}

func TestShutdownRemovesEveryDriver(t *testing.T) {
	c, fakes, log := newTestController(t)
	fakes[0].fail["shutdown"] = errors.New("already gone")

	assert.False(t, c.HandleShutdown(context.Background()))
	assert.Equal(t, []string{"d1.shutdown", "d2.shutdown", "d3.shutdown"}, log.snapshot())
	assert.Empty(t, c.Drivers())
	assert.False(t, fakes[0].closed)
}

func TestNoDrivers(t *testing.T) {
	c := New(config.Default().Controller, nil)

	ctx := context.Background()

	assert.True(t, c.HandleSetup(ctx, config.DefaultRun()))
	assert.True(t, c.HandleStart(ctx))
	assert.Empty(t, c.Result().Errors())
	assert.Equal(t, []string{"setup: no drivers registered", "start: no drivers registered"}, c.Result().Warnings())

	c.Result().Clear()
	statuses := c.HandleStatus(ctx)
	require.NotNil(t, statuses)
	assert.Empty(t, statuses)

	c.Result().Clear()
	assert.True(t, c.HandleStop(ctx))
	assert.Equal(t, []string{"stop: no drivers registered"}, c.Result().Warnings())
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	c, _, log := newTestController(t)

	err := c.Register(newFake("d2", log))
	require.ErrorIs(t, err, ErrDuplicateDriver)
	assert.Equal(t, []string{"d1", "d2", "d3"}, c.DriverNames())

	c.Unregister(newFake("d9", log))
	assert.Len(t, c.Drivers(), 3)
}

func TestIsRejected(t *testing.T) {
	assert.True(t, IsRejected(fmt.Errorf("wrapped: %w", rejected("d1", "STOP_REQUEST"))))
	assert.False(t, IsRejected(errors.New("eof")))
	assert.Equal(t, "d1 rejected STOP_REQUEST", (&RejectedError{Driver: "d1", Request: "STOP_REQUEST"}).Error())
}

func TestCloseWaitsForSpawnedWork(t *testing.T) {
	c := New(config.Default().Controller, nil)

	release := make(chan struct{})
	var finished atomic.Bool
	require.True(t, c.spawn(func() {
		<-release
		finished.Store(true)
	}))

	closed := make(chan struct{})
	go func() {
		_ = c.Close()
		close(closed)
	}()
	require.Eventually(t, c.closed.Load, time.Second, time.Millisecond)
	assert.False(t, c.spawn(func() { t.Error("spawned after close") }))

	close(release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not return")
	}
	assert.True(t, finished.Load())
}
