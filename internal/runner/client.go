package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/backend"
	"github.com/torosent/fleetbench/internal/metrics"
	"github.com/torosent/fleetbench/internal/variables"
	"github.com/torosent/fleetbench/internal/workload"
)

// ErrInterrupted is returned when a sleep step is cut short by cancellation.
var ErrInterrupted = errors.New("sleep interrupted")

type stepOutcome int

const (
	stepOK stepOutcome = iota
	stepSkipped
	stepFailed
)

// client is one virtual user. It owns its NContext and backend client and is
// driven by a single goroutine.
type client struct {
	id      int
	nctx    *NContext
	wl      *workload.WorkLoad
	backend backend.Client
	ctl     *control
	opt     *Options
	pacer   pacer
	dump    io.Writer
	logger  *zap.Logger
}

// run replays the mix until the run flag drops. Statistics are retired to the
// queue every report interval and once more on exit.
func (c *client) run(ctx context.Context) error {
	select {
	case <-c.ctl.startGate:
	case <-ctx.Done():
		return nil
	}

	intervalStart := time.Now()
	for c.ctl.running.Load() && ctx.Err() == nil {
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				break
			}
		}
		if err := c.executeMix(ctx); err != nil {
			c.flush(intervalStart, time.Now())
			if errors.Is(err, ErrInterrupted) && ctx.Err() != nil {
				return nil
			}
			return err
		}
		if now := time.Now(); now.Sub(intervalStart) >= c.opt.ReportInterval {
			c.flush(intervalStart, now)
			intervalStart = now
		}
	}
	c.flush(intervalStart, time.Now())
	return nil
}

// flush swaps the statistics array and hands the retired one to the monitor.
func (c *client) flush(start, end time.Time) {
	retired := c.nctx.Swap()
	if !anyRecorded(retired) {
		return
	}
	c.ctl.items <- metrics.QueueItem{
		Thread: c.id,
		Mix:    c.nctx.MixID,
		Start:  start,
		End:    end,
		Stats:  retired,
	}
}

func anyRecorded(stats metrics.Stats) bool {
	for _, st := range stats {
		if st.Total > 0 {
			return true
		}
	}
	return false
}

// executeMix runs every step of the mix once against a fresh frame.
func (c *client) executeMix(ctx context.Context) error {
	mix := c.nctx.Mix
	frame := variables.NewFrame(c.nctx.Roll())
	mixStart := time.Now()

	for i, step := range mix.Steps {
		stepStart := time.Now()
		stats := c.nctx.Stats()
		switch step.Kind {
		case workload.StepNoop:
			stats[i+1].Record(time.Since(stepStart), 0)

		case workload.StepSleep:
			if err := sleep(ctx, step.Sleep); err != nil {
				return &EvalError{Mix: mix.Name, Step: i, Err: err}
			}
			stats[i+1].Record(time.Since(stepStart), 0)

		case workload.StepTransaction:
			if tr := c.wl.Transactions[step.Value]; tr != nil && c.nctx.failedWithin(i, tr.Backoff, stepStart) {
				continue
			}
			outcome, res, err := c.executeTransaction(ctx, step.Value, frame)
			if err != nil {
				return &EvalError{Mix: mix.Name, Step: i, Err: err}
			}
			switch outcome {
			case stepFailed:
				failTime := time.Now()
				c.nctx.markFailed(i, failTime)
				stats[i+1].RecordFailure(failTime.Sub(stepStart), c.opt.FailTimeout, res.Err)
			case stepOK:
				c.nctx.clearFailures()
				stats[i+1].Record(time.Since(stepStart), 0)
			}

		default:
			return &EvalError{Mix: mix.Name, Step: i, Err: fmt.Errorf("unsupported action %s", step.Kind)}
		}
	}

	c.nctx.Stats()[0].Record(time.Since(mixStart), metrics.NeverTimeout)
	return nil
}

// executeTransaction evaluates the guard, builds the arguments, calls the
// backend and binds exports. A returned error is an evaluation error; backend
// failures are reported through the outcome.
func (c *client) executeTransaction(ctx context.Context, name string, frame *variables.Frame) (stepOutcome, backend.Result, error) {
	tr, ok := c.wl.Transactions[name]
	if !ok {
		return stepSkipped, backend.Result{}, fmt.Errorf("unknown transaction %q", name)
	}

	pass, err := checkCondition(tr.Condition, frame)
	if err != nil {
		return stepSkipped, backend.Result{}, err
	}
	if !pass {
		return stepSkipped, backend.Result{}, nil
	}

	args, err := buildArgs(tr, frame)
	if err != nil {
		return stepSkipped, backend.Result{}, err
	}

	res := c.backend.Execute(ctx, tr.Name, args)
	c.writeDump(tr.Name, args, res)
	if res.Failed() {
		return stepFailed, res, nil
	}

	if err := bindExports(tr, res.Scopes, frame); err != nil {
		return stepSkipped, res, err
	}
	return stepOK, res, nil
}

func (c *client) writeDump(name string, args variables.Scope, res backend.Result) {
	if c.dump == nil {
		return
	}
	fmt.Fprintf(c.dump, "%s thread=%d transaction=%s in=%v",
		time.Now().Format(time.RFC3339Nano), c.id, name, variables.Snapshot(args))
	if res.Failed() {
		fmt.Fprintf(c.dump, " err=%q\n", res.Err.Error())
		return
	}
	for i, rs := range res.Scopes {
		fmt.Fprintf(c.dump, " out[%d]=%v", i, variables.Snapshot(rs))
	}
	fmt.Fprintln(c.dump)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
	}
}
