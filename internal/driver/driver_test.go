package driver_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/torosent/fleetbench/internal/backend/sim"
	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/controller"
	"github.com/torosent/fleetbench/internal/driver"
)

const shopWorkload = `
name: shop
backend:
  name: sim
  config:
    latency: 1ms
sample_spaces:
  customers:
    email:
      kind: csv
      file: data/users.csv
transactions:
  t1:
    inputs:
      - name: email
        var: email
mixes:
  - name: buyer
    users: 1
    sample_space: customers
    steps:
      - transaction t1
      - sleep 50
`

type cluster struct {
	ctrl      *controller.Controller
	driverLn  net.Listener
	repoDir   string
	gatherDir string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default().Controller
	cfg.RepoDir = filepath.Join(root, "repo")
	cfg.GatherDir = filepath.Join(root, "gathered")
	cfg.RPCTimeout = 10 * time.Second
	writeFile(t, filepath.Join(cfg.RepoDir, "shop", "workload.yaml"), shopWorkload)
	writeFile(t, filepath.Join(cfg.RepoDir, "shop", "data", "users.csv"), "email\na@example.com\nb@example.com\n")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := controller.New(cfg, nil)
	go func() { _ = c.ListenDrivers(context.Background(), ln) }()
	t.Cleanup(func() { _ = c.Close() })
	return &cluster{ctrl: c, driverLn: ln, repoDir: cfg.RepoDir, gatherDir: cfg.GatherDir}
}

// startDriver runs a driver against the cluster and waits for it to register.
func (cl *cluster) startDriver(t *testing.T, name string) (config.DriverConfig, <-chan error) {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default().Driver
	cfg.Name = name
	cfg.ControllerAddr = cl.driverLn.Addr().String()
	cfg.WorkDir = filepath.Join(root, "work")
	cfg.LogDir = filepath.Join(root, "logs")

	d, err := driver.New(cfg, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		done <- d.Run(ctx)
		close(exited)
	}()
	t.Cleanup(func() {
		cancel()
		<-exited
	})

	require.Eventually(t, func() bool {
		for _, n := range cl.ctrl.DriverNames() {
			if n == name {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return cfg, done
}

func testRun() config.RunConfig {
	run := config.DefaultRun()
	run.Users = map[string]int{"buyer": 2}
	run.ReportInterval = 100 * time.Millisecond
	return run
}

func TestBenchmarkLifecycle(t *testing.T) {
	cl := newCluster(t)
	d1, _ := cl.startDriver(t, "d1")
	_, _ = cl.startDriver(t, "d2")
	ctx := context.Background()
	c := cl.ctrl

	require.True(t, c.HandlePrepare(ctx, "shop"), c.Result().Errors())
	data, err := os.ReadFile(filepath.Join(d1.WorkDir, "shop", "data", "users.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "a@example.com")

	require.True(t, c.HandleSetup(ctx, testRun()), c.Result().Errors())
	require.True(t, c.HandleStart(ctx), c.Result().Errors())

	require.Eventually(t, func() bool {
		statuses := c.HandleStatus(ctx)
		if len(statuses) != 2 {
			return false
		}
		for _, s := range statuses {
			if !strings.Contains(s, "phase=running") || strings.Contains(s, "reported=0") {
				return false
			}
		}
		return true
	}, 10*time.Second, 50*time.Millisecond)

	statuses := c.HandleStatus(ctx)
	assert.True(t, strings.HasPrefix(statuses[0], "d1: benchmark=shop run="), statuses[0])
	assert.True(t, strings.HasPrefix(statuses[1], "d2: "), statuses[1])

	require.True(t, c.HandleStop(ctx), c.Result().Warnings())
	for _, s := range c.HandleStatus(ctx) {
		assert.Contains(t, s, "phase=done")
	}

	require.True(t, c.HandleGather(ctx), c.Result().Warnings())
	for _, name := range []string{"d1", "d2"} {
		logs, err := filepath.Glob(filepath.Join(cl.gatherDir, name, "run-*.log"))
		require.NoError(t, err)
		require.Len(t, logs, 1, name)
		content, err := os.ReadFile(logs[0])
		require.NoError(t, err)
		assert.Contains(t, string(content), "transaction[t1]")
	}
}

func TestStartWithoutSetupIsRejected(t *testing.T) {
	cl := newCluster(t)
	_, _ = cl.startDriver(t, "d1")
	c := cl.ctrl

	assert.False(t, c.HandleStart(context.Background()))
	require.Len(t, c.Result().Errors(), 1)
	assert.Contains(t, c.Result().Errors()[0], "start/d1: d1 rejected START_REQUEST: no benchmark set up")
	assert.Equal(t, []string{"d1"}, c.DriverNames())

	c.Result().Clear()
	assert.False(t, c.HandleSetup(context.Background(), testRun()))
	assert.Contains(t, c.Result().Errors()[0], "no benchmark prepared")
}

func TestPrepareFailsOnMissingResource(t *testing.T) {
	cl := newCluster(t)
	writeFile(t, filepath.Join(cl.repoDir, "broken", "workload.yaml"),
		strings.Replace(shopWorkload, "data/users.csv", "data/absent.csv", 1))
	_, _ = cl.startDriver(t, "d1")
	c := cl.ctrl

	assert.False(t, c.HandlePrepare(context.Background(), "broken"))
	require.Len(t, c.Result().Errors(), 1)
	assert.Contains(t, c.Result().Errors()[0], "data/absent.csv")

	// the connection survives a refused resource
	c.Result().Clear()
	assert.True(t, c.HandlePrepare(context.Background(), "shop"), c.Result().Errors())
}

func TestStopWithoutRunWarns(t *testing.T) {
	cl := newCluster(t)
	_, _ = cl.startDriver(t, "d1")
	c := cl.ctrl

	assert.True(t, c.HandleStop(context.Background()))
	assert.Equal(t, []string{"stop/d1: no benchmark running"}, c.Result().Warnings())
	assert.Equal(t, []string{"d1: phase=idle"}, c.HandleStatus(context.Background()))
}

func TestShutdownEndsDriver(t *testing.T) {
	cl := newCluster(t)
	_, done := cl.startDriver(t, "d1")

	assert.True(t, cl.ctrl.HandleShutdown(context.Background()))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("driver did not exit after shutdown")
	}
	assert.Empty(t, cl.ctrl.DriverNames())
}

func TestDuplicateDriverIsDisconnected(t *testing.T) {
	cl := newCluster(t)
	_, _ = cl.startDriver(t, "d1")

	cfg := config.Default().Driver
	cfg.Name = "d1"
	cfg.ControllerAddr = cl.driverLn.Addr().String()
	cfg.WorkDir = t.TempDir()
	cfg.LogDir = t.TempDir()
	d, err := driver.New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Run(ctx))
	assert.NoError(t, ctx.Err())
	assert.Equal(t, []string{"d1"}, cl.ctrl.DriverNames())
}
