package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/controller"
)

const testWorkload = `
name: smoke
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
      - sleep 20
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"controller", "driver", "admin", "run"})

	adminCmd, _, err := root.Find([]string{"admin"})
	require.NoError(t, err)
	var ops []string
	for _, c := range adminCmd.Commands() {
		ops = append(ops, c.Name())
	}
	assert.ElementsMatch(t, []string{
		"list-repo", "list-runner", "status", "prepare", "setup",
		"start", "stop", "gather", "shutdown",
	}, ops)
}

func TestRunExecutesWorkload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testWorkload), 0o644))
	logDir := filepath.Join(dir, "logs")

	stdout, _, err := execute(t, "run", path,
		"--log-dir", logDir,
		"--users", "m=2",
		"--report-interval", "100ms",
		"--duration", "300ms",
		"--progress=false")
	require.NoError(t, err)
	assert.Contains(t, stdout, "phase=done")

	logs, err := filepath.Glob(filepath.Join(logDir, "run-*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Contains(t, stdout, "log: "+logs[0])
}

func TestRunRejectsInvalidSettings(t *testing.T) {
	_, _, err := execute(t, "run", "workload.yaml", "--arrival-model", "burst")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arrival_model")

	_, _, err = execute(t, "run")
	require.Error(t, err)
}

func TestDriverRequiresName(t *testing.T) {
	_, _, err := execute(t, "driver", "--controller", "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver.name is required")
}

func startController(t *testing.T) string {
	t.Helper()
	cfg := config.Default().Controller
	cfg.RepoDir = t.TempDir()
	cfg.GatherDir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.RepoDir, "smoke"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.RepoDir, "smoke", "workload.yaml"), []byte(testWorkload), 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := controller.New(cfg, nil)
	go func() { _ = c.ListenAdmin(context.Background(), ln) }()
	t.Cleanup(func() { _ = c.Close() })
	return ln.Addr().String()
}

func TestAdminCommands(t *testing.T) {
	addr := startController(t)

	stdout, _, err := execute(t, "admin", "list-repo", "--controller", addr)
	require.NoError(t, err)
	assert.Equal(t, "smoke\n", stdout)

	stdout, _, err = execute(t, "admin", "list-runner", "--controller", addr)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	stdout, stderr, err := execute(t, "admin", "stop", "--controller", addr)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", stdout)
	assert.Contains(t, stderr, "warning: stop: no drivers registered")

	_, stderr, err = execute(t, "admin", "prepare", "missing", "--controller", addr)
	require.Error(t, err)
	assert.Equal(t, "prepare failed", err.Error())
	assert.True(t, strings.Contains(stderr, `error: prepare: unknown benchmark: "missing"`), stderr)
}

func TestAdminFailsWithoutController(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, _, err = execute(t, "admin", "list-repo", "--controller", addr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial controller")
}
