package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/ncp"
	"github.com/torosent/fleetbench/internal/runner"
	"github.com/torosent/fleetbench/internal/tracing"
	"github.com/torosent/fleetbench/internal/workload"
)

// handle answers one controller request. Refusals are recorded in the
// engine's result and reported through the response; only transport and
// protocol failures are returned.
func (d *Driver) handle(ctx context.Context, engine *ncp.Engine, req *ncp.Message) (*ncp.Message, error) {
	ctx = tracing.Extract(ctx, req.StringMap(ncp.FieldTrace))
	ctx, span := tracing.StartHandlerSpan(ctx, d.tracing.Tracer(), req.Name)

	result := engine.Result()
	var resp *ncp.Message
	var err error
	switch req.Name {
	case ncp.MsgPrepareRequest:
		benchmark := req.String(ncp.FieldBenchmark)
		span.SetAttributes(tracing.AttrBench.String(benchmark))
		resp, err = d.prepare(ctx, engine, benchmark)
	case ncp.MsgSetupRequest:
		resp = d.setup(result, req.Object(ncp.FieldSettings))
	case ncp.MsgStartRequest:
		resp = d.start(result)
	case ncp.MsgStatusRequest:
		resp = ncp.NewMessage(ncp.MsgStatusResponse, ncp.Fields{ncp.FieldStatus: d.Status()})
	case ncp.MsgStopRequest:
		resp = d.stop(result)
	case ncp.MsgGatherRequest:
		resp, err = d.gather(engine)
	default:
		err = &ncp.ProtocolError{Reason: "unexpected request " + req.Name}
	}
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}

	ok := !result.HasErrors()
	if !ok {
		tracing.EndSpan(span, errors.New(strings.Join(result.Errors(), "; ")))
	} else {
		tracing.EndSpan(span, nil)
	}
	return resp.Set(ncp.FieldSuccess, ok), nil
}

// prepare fetches workload.yaml of benchmark and every file it references
// into work_dir/<benchmark>.
func (d *Driver) prepare(ctx context.Context, engine *ncp.Engine, benchmark string) (*ncp.Message, error) {
	resp := ncp.NewMessage(ncp.MsgPrepareResponse, nil)
	result := engine.Result()

	if benchmark == "" || !filepath.IsLocal(benchmark) || strings.ContainsAny(benchmark, `/\`) {
		result.Errorf("invalid benchmark name %q", benchmark)
		return resp, nil
	}
	if d.running() {
		result.AddError("a benchmark is running; stop it first")
		return resp, nil
	}

	dir := filepath.Join(d.cfg.WorkDir, benchmark)
	if err := os.RemoveAll(dir); err != nil {
		result.Errorf("clear %s: %v", dir, err)
		return resp, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Errorf("create %s: %v", dir, err)
		return resp, nil
	}

	ok, err := d.fetch(ctx, engine, dir, workload.FileName)
	if err != nil || !ok {
		return resp, err
	}
	wl, err := workload.Load(filepath.Join(dir, workload.FileName))
	if err != nil {
		result.AddError(err.Error())
		return resp, nil
	}
	files := wl.Files()
	for _, file := range files {
		ok, err := d.fetch(ctx, engine, dir, file)
		if err != nil || !ok {
			return resp, err
		}
	}

	d.mu.Lock()
	d.releaseLocked()
	d.benchmark = benchmark
	d.benchDir = dir
	d.workload = wl
	d.mu.Unlock()
	d.logger.Info("benchmark prepared", zap.String("benchmark", benchmark), zap.Int("resources", len(files)))
	return resp, nil
}

// setup builds a benchmark run from the prepared workload and settings.
func (d *Driver) setup(result *ncp.Result, settings map[string]interface{}) *ncp.Message {
	resp := ncp.NewMessage(ncp.MsgSetupResponse, nil)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.workload == nil {
		result.AddError("no benchmark prepared")
		return resp
	}
	if d.runningLocked() {
		result.AddError("a benchmark is running; stop it first")
		return resp
	}
	run, err := config.ParseRun(settings)
	if err != nil {
		result.AddError(err.Error())
		return resp
	}
	d.releaseLocked()

	if err := os.MkdirAll(d.cfg.LogDir, 0o755); err != nil {
		result.Errorf("create log dir: %v", err)
		return resp
	}
	opts := run.RunnerOptions(d.workload)
	opts.BaseDir = d.benchDir
	opts.LogDir = d.cfg.LogDir
	opts.Exporter = d.exporter
	bench, err := runner.New(opts, d.logger)
	if err != nil {
		result.AddError(err.Error())
		return resp
	}
	d.bench = bench
	d.run = run
	d.logger.Info("benchmark set up",
		zap.String("benchmark", d.benchmark),
		zap.String("run", bench.RunID()),
		zap.Duration("warmup", run.Warmup),
		zap.Duration("duration", run.Duration))
	return resp.Set(ncp.FieldName, bench.RunID())
}

// start launches the run in the background; the response does not wait for
// the warm-up.
func (d *Driver) start(result *ncp.Result) *ncp.Message {
	resp := ncp.NewMessage(ncp.MsgStartResponse, nil)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bench == nil {
		result.AddError("no benchmark set up")
		return resp
	}
	if d.runDone != nil {
		result.AddError("benchmark already started; set it up again")
		return resp
	}

	ctx, cancel := context.WithCancel(d.runCtx)
	bench, run := d.bench, d.run
	if err := bench.Start(ctx); err != nil {
		cancel()
		result.AddError(err.Error())
		return resp
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		if err := bench.Drive(ctx, run.Warmup, run.Duration); err != nil {
			d.logger.Error("benchmark failed", zap.String("run", bench.RunID()), zap.Error(err))
			return
		}
		d.logger.Info("benchmark finished", zap.String("run", bench.RunID()))
	}()
	d.cancelRun = cancel
	d.runDone = done
	return resp
}

// Status renders the current benchmark state.
func (d *Driver) Status() string {
	d.mu.Lock()
	bench, benchmark := d.bench, d.benchmark
	d.mu.Unlock()

	switch {
	case benchmark == "":
		return "phase=" + string(runner.PhaseIdle)
	case bench == nil:
		return fmt.Sprintf("benchmark=%s phase=%s", benchmark, runner.PhaseIdle)
	default:
		return fmt.Sprintf("benchmark=%s %s", benchmark, bench.Status())
	}
}

// stop ends a started run and waits for it to drain: every client finishes
// the mix it is executing. A run that already finished is only checked for
// its failure.
func (d *Driver) stop(result *ncp.Result) *ncp.Message {
	resp := ncp.NewMessage(ncp.MsgStopResponse, nil)

	d.mu.Lock()
	bench, cancel, done := d.bench, d.cancelRun, d.runDone
	d.mu.Unlock()
	if done == nil {
		result.AddWarning("no benchmark running")
		return resp
	}
	err := bench.Stop()
	cancel()
	<-done
	if err != nil {
		result.AddError(err.Error())
	}
	d.logger.Info("benchmark stopped", zap.String("run", bench.RunID()))
	return resp
}

// gather streams every file of log_dir as a LOG_INFO message followed by
// its content.
func (d *Driver) gather(engine *ncp.Engine) (*ncp.Message, error) {
	resp := ncp.NewMessage(ncp.MsgGatherResponse, nil)
	result := engine.Result()

	if d.running() {
		result.AddWarning("benchmark still running; logs may be incomplete")
	}
	names, err := logFiles(d.cfg.LogDir)
	if err != nil {
		result.AddError(err.Error())
		return resp, nil
	}
	if len(names) == 0 {
		result.AddWarning("no logs to gather")
		return resp, nil
	}

	var sent int64
	for _, name := range names {
		f, err := os.Open(filepath.Join(d.cfg.LogDir, name))
		if err != nil {
			result.Warnf("skip %s: %v", name, err)
			continue
		}
		if err := engine.Send(ncp.NewMessage(ncp.MsgLogInfo, ncp.Fields{ncp.FieldName: name})); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("send log info: %w", err)
		}
		n, err := engine.SendRaw(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", name, err)
		}
		sent += n
	}
	d.logger.Info("logs gathered", zap.Int("files", len(names)), zap.Int64("bytes", sent))
	return resp, nil
}

// logFiles lists the regular files of dir, sorted, leaving out lock files.
func logFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasSuffix(entry.Name(), ".lock") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *Driver) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runningLocked()
}

func (d *Driver) runningLocked() bool {
	if d.runDone == nil {
		return false
	}
	select {
	case <-d.runDone:
		return false
	default:
		return true
	}
}

// releaseLocked drops the current run. A benchmark that was set up but
// never started still holds its log files open.
func (d *Driver) releaseLocked() {
	if d.bench != nil && d.runDone == nil {
		if err := d.bench.Stop(); err != nil {
			d.logger.Warn("release benchmark", zap.Error(err))
		}
	}
	d.bench = nil
	d.cancelRun = nil
	d.runDone = nil
}
