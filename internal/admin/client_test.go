package admin_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/fleetbench/internal/admin"
	_ "github.com/torosent/fleetbench/internal/backend/sim"
	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/controller"
	"github.com/torosent/fleetbench/internal/driver"
)

// stubDriver answers every command without a connection.
type stubDriver struct {
	name string

	mu       sync.Mutex
	startErr error
	stopErr  error
	run      config.RunConfig
	calls    []string
}

func (s *stubDriver) record(op string) {
	s.mu.Lock()
	s.calls = append(s.calls, op)
	s.mu.Unlock()
}

func (s *stubDriver) called(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == op {
			return true
		}
	}
	return false
}

func (s *stubDriver) lastRun() config.RunConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

func (s *stubDriver) Name() string { return s.name }

func (s *stubDriver) Prepare(context.Context, string) error {
	s.record("prepare")
	return nil
}

func (s *stubDriver) Setup(_ context.Context, run config.RunConfig) error {
	s.record("setup")
	s.mu.Lock()
	s.run = run
	s.mu.Unlock()
	return nil
}

func (s *stubDriver) Start(context.Context) error {
	s.record("start")
	return s.startErr
}

func (s *stubDriver) Status(context.Context) (string, error) {
	s.record("status")
	return "phase=running", nil
}

func (s *stubDriver) Stop(context.Context) error {
	s.record("stop")
	return s.stopErr
}

func (s *stubDriver) GatherLog(context.Context) error {
	s.record("gather")
	return nil
}

func (s *stubDriver) Shutdown(string) error {
	s.record("shutdown")
	return nil
}

func (s *stubDriver) Close() error { return nil }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type testController struct {
	*controller.Controller
	adminAddr  string
	driverAddr string
	gatherDir  string
}

func startController(t *testing.T, workloads map[string]string) *testController {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default().Controller
	cfg.RepoDir = filepath.Join(root, "repo")
	cfg.GatherDir = filepath.Join(root, "gathered")
	for name, content := range workloads {
		writeFile(t, filepath.Join(cfg.RepoDir, name, "workload.yaml"), content)
	}

	c := controller.New(cfg, nil)
	adminLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	driverLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = c.ListenAdmin(context.Background(), adminLn) }()
	go func() { _ = c.ListenDrivers(context.Background(), driverLn) }()
	t.Cleanup(func() { _ = c.Close() })
	return &testController{Controller: c, adminAddr: adminLn.Addr().String(), driverAddr: driverLn.Addr().String(), gatherDir: cfg.GatherDir}
}

func dial(t *testing.T, addr string) *admin.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := admin.Dial(ctx, addr, "tester", nil, admin.WithTimeout(10*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestListings(t *testing.T) {
	tc := startController(t, map[string]string{"shop": "name: shop\n", "bank": "name: bank\n"})
	require.NoError(t, tc.Register(&stubDriver{name: "d1"}))
	require.NoError(t, tc.Register(&stubDriver{name: "d2"}))
	client := dial(t, tc.adminAddr)
	ctx := context.Background()

	benchmarks, err := client.ListRepo(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bank", "shop"}, benchmarks)

	drivers, err := client.ListRunner(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, drivers)
}

func TestCommandsReportControllerResult(t *testing.T) {
	tc := startController(t, map[string]string{"shop": "name: shop\n"})
	d1 := &stubDriver{name: "d1"}
	d2 := &stubDriver{name: "d2", startErr: &controller.RejectedError{Driver: "d2", Request: "START_REQUEST", Reason: "busy"}}
	d3 := &stubDriver{name: "d3", stopErr: errors.New("connection reset")}
	for _, d := range []*stubDriver{d1, d2, d3} {
		require.NoError(t, tc.Register(d))
	}
	client := dial(t, tc.adminAddr)
	ctx := context.Background()

	ok, err := client.Prepare(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{`prepare: unknown benchmark: "missing"`}, client.Result().Errors())

	ok, err = client.Prepare(ctx, "shop")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, client.Result().Errors())

	run := config.DefaultRun()
	run.Users = map[string]int{"buyer": 4}
	run.Duration = 90 * time.Second
	ok, err = client.Setup(ctx, run)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, run, d3.lastRun())

	ok, err = client.Start(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"start/d2: d2 rejected START_REQUEST: busy"}, client.Result().Errors())
	assert.False(t, d3.called("start"))

	statuses, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1: phase=running", "d2: phase=running", "d3: phase=running"}, statuses)

	ok, err = client.Stop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"stop/d3: connection reset"}, client.Result().Warnings())
	assert.Empty(t, client.Result().Errors())

	drivers, err := client.ListRunner(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, drivers)
	assert.Empty(t, client.Result().Warnings())

	ok, err = client.Shutdown(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, tc.Drivers())

	ok, err = client.Gather(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"gather: no drivers registered"}, client.Result().Warnings())

	statuses, err = client.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, statuses)
	assert.Empty(t, statuses)
}

func TestInvalidSettingsAreRejected(t *testing.T) {
	tc := startController(t, nil)
	d1 := &stubDriver{name: "d1"}
	require.NoError(t, tc.Register(d1))
	client := dial(t, tc.adminAddr)

	run := config.DefaultRun()
	run.ArrivalModel = "burst"
	ok, err := client.Setup(context.Background(), run)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, client.Result().Errors(), 1)
	assert.Contains(t, client.Result().Errors()[0], "arrival_model")
	assert.False(t, d1.called("setup"))
}

func TestSessionsAreServedInTurn(t *testing.T) {
	tc := startController(t, map[string]string{"shop": "name: shop\n"})

	first, err := admin.Dial(context.Background(), tc.adminAddr, "first", nil)
	require.NoError(t, err)
	_, err = first.ListRepo(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := dial(t, tc.adminAddr)
	benchmarks, err := second.ListRepo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, benchmarks)
}

const e2eWorkload = `
name: e2e
backend:
  name: sim
  config:
    latency: 1ms
transactions:
  t1: {}
mixes:
  - name: m
    steps:
      - transaction t1
      - sleep 50
`

func TestEndToEnd(t *testing.T) {
	tc := startController(t, map[string]string{"e2e": e2eWorkload})

	cfg := config.Default().Driver
	cfg.Name = "loadgen-1"
	cfg.ControllerAddr = tc.driverAddr
	cfg.WorkDir = t.TempDir()
	cfg.LogDir = t.TempDir()
	d, err := driver.New(cfg, nil)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	client := dial(t, tc.adminAddr)
	ctx := context.Background()
	require.Eventually(t, func() bool {
		drivers, err := client.ListRunner(ctx)
		return err == nil && len(drivers) == 1
	}, 5*time.Second, 20*time.Millisecond)

	ok, err := client.Prepare(ctx, "e2e")
	require.NoError(t, err)
	require.True(t, ok, client.Result().Errors())

	run := config.DefaultRun()
	run.Users = map[string]int{"m": 2}
	run.ReportInterval = time.Second
	run.Duration = 1500 * time.Millisecond
	ok, err = client.Setup(ctx, run)
	require.NoError(t, err)
	require.True(t, ok, client.Result().Errors())

	ok, err = client.Start(ctx)
	require.NoError(t, err)
	require.True(t, ok, client.Result().Errors())

	require.Eventually(t, func() bool {
		statuses, err := client.Status(ctx)
		return err == nil && len(statuses) == 1 && strings.Contains(statuses[0], "phase=done")
	}, 10*time.Second, 100*time.Millisecond)

	ok, err = client.Stop(ctx)
	require.NoError(t, err)
	require.True(t, ok, client.Result().Errors())

	ok, err = client.Gather(ctx)
	require.NoError(t, err)
	require.True(t, ok, client.Result().Warnings())
	logs, err := filepath.Glob(filepath.Join(tc.gatherDir, "loadgen-1", "run-*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	content, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "transaction[t1]")

	ok, err = client.Shutdown(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not exit after shutdown")
	}
}
