package runner

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torosent/fleetbench/internal/backend"
	"github.com/torosent/fleetbench/internal/backend/sim"
	"github.com/torosent/fleetbench/internal/metrics"
	"github.com/torosent/fleetbench/internal/variables"
	"github.com/torosent/fleetbench/internal/workload"
)

type memReporter struct {
	mu     sync.Mutex
	items  []metrics.QueueItem
	closed bool
}

func (r *memReporter) Report(item metrics.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return nil
}

func (r *memReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *memReporter) snapshot() []metrics.QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]metrics.QueueItem(nil), r.items...)
}

func (r *memReporter) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func mustStep(t *testing.T, s string) workload.Step {
	t.Helper()
	step, err := workload.ParseStep(s)
	require.NoError(t, err)
	return step
}

// simpleWorkload has one mix replaying steps and a plain transaction t1.
func simpleWorkload(t *testing.T, steps ...string) *workload.WorkLoad {
	t.Helper()
	mix := &workload.Mix{Name: "m"}
	for _, s := range steps {
		mix.Steps = append(mix.Steps, mustStep(t, s))
	}
	return &workload.WorkLoad{
		Name:         "test",
		SampleSpaces: map[string]*workload.SampleSpace{},
		Transactions: map[string]*workload.Transaction{
			"t1": {Name: "t1"},
		},
		Mixes:   []*workload.Mix{mix},
		Backend: workload.Backend{Name: sim.Name},
	}
}

// prepareSim configures a sim engine for every transaction of w.
func prepareSim(t *testing.T, w *workload.WorkLoad, config map[string]any) *sim.Engine {
	t.Helper()
	engine := sim.New()
	require.NoError(t, engine.Configure(config))
	for name, tr := range w.Transactions {
		require.NoError(t, engine.PrepareForStatement(name, tr.Inputs, tr.Exports))
	}
	require.NoError(t, engine.ConsolidateForRun())
	return engine
}

func newTestClient(t *testing.T, w *workload.WorkLoad, engine backend.Engine, opt *Options) *client {
	t.Helper()
	opt.Workload = w
	opt.normalize()
	nctx, err := NewNContext(w, 0, "")
	require.NoError(t, err)
	bc, err := engine.CreateClient()
	require.NoError(t, err)
	return &client{
		nctx:    nctx,
		wl:      w,
		backend: bc,
		ctl:     newControl(64),
		opt:     opt,
	}
}

func scopeOf(vars map[string]any) *variables.Frame {
	f := variables.NewFrame(nil)
	for name, v := range vars {
		switch v.(type) {
		case int64:
			f.Set(name, variables.TypeInt, v)
		case float64:
			f.Set(name, variables.TypeFloat, v)
		default:
			f.Set(name, variables.TypeString, v)
		}
	}
	return f
}
