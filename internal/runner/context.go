package runner

import (
	"fmt"
	"time"

	"github.com/torosent/fleetbench/internal/feeder"
	"github.com/torosent/fleetbench/internal/metrics"
	"github.com/torosent/fleetbench/internal/variables"
	"github.com/torosent/fleetbench/internal/workload"
)

// NContext is the execution state of one virtual user: the mix it replays,
// the statistics of the current reporting interval and its own instances of
// every sample space.
type NContext struct {
	Mix   *workload.Mix
	MixID int

	stats    metrics.Stats
	mixScope feeder.SampleValue
	scopes   map[string]*variables.SampleScope
	// failedAt holds, per step, when the step last failed. Every marker is
	// cleared by the next successful transaction.
	failedAt []time.Time
}

// NewNContext builds the context for mix mixID of w. Sample value files are
// resolved against baseDir.
func NewNContext(w *workload.WorkLoad, mixID int, baseDir string) (*NContext, error) {
	if mixID < 0 || mixID >= len(w.Mixes) {
		return nil, fmt.Errorf("mix %d out of range", mixID)
	}
	mix := w.Mixes[mixID]

	sigs := make([]string, 0, len(mix.Steps)+1)
	sigs = append(sigs, "mix["+mix.Name+"]")
	for _, step := range mix.Steps {
		sigs = append(sigs, step.Signature())
	}

	c := &NContext{
		Mix:      mix,
		MixID:    mixID,
		stats:    metrics.NewStats(sigs),
		scopes:   make(map[string]*variables.SampleScope, len(w.SampleSpaces)),
		failedAt: make([]time.Time, len(mix.Steps)),
	}

	for name, ss := range w.SampleSpaces {
		scope := variables.NewSampleScope(name)
		for _, sv := range ss.Vars {
			gen, err := feeder.New(sv.Value, sv.Type, baseDir)
			if err != nil {
				return nil, fmt.Errorf("sample space %q variable %q: %w", name, sv.Name, err)
			}
			if err := scope.Add(sv.Name, sv.Type, gen); err != nil {
				return nil, err
			}
		}
		c.scopes[name] = scope
	}

	if len(mix.SampleSpaces) > 0 {
		names := make([]any, len(mix.SampleSpaces))
		for i, name := range mix.SampleSpaces {
			if _, ok := c.scopes[name]; !ok {
				return nil, fmt.Errorf("mix %q: unknown sample space %q", mix.Name, name)
			}
			names[i] = name
		}
		rr, err := feeder.NewRoundRobin(variables.TypeString, names)
		if err != nil {
			return nil, err
		}
		c.mixScope = rr
	}
	return c, nil
}

// Roll selects the sample space for the next mix execution, rolls it and
// returns it. It returns nil when the mix uses no sample space.
func (c *NContext) Roll() variables.Scope {
	if c.mixScope == nil {
		return nil
	}
	scope := c.scopes[c.mixScope.Next().(string)]
	scope.Roll()
	return scope
}

// Stats returns the statistics of the current interval.
func (c *NContext) Stats() metrics.Stats {
	return c.stats
}

// Swap retires the current statistics and installs an empty copy.
func (c *NContext) Swap() metrics.Stats {
	retired := c.stats
	c.stats = retired.Fresh()
	return retired
}

func (c *NContext) markFailed(i int, at time.Time) {
	c.failedAt[i] = at
}

func (c *NContext) clearFailures() {
	clear(c.failedAt)
}

// failedWithin reports whether step i failed less than window before now
// with no transaction succeeding since.
func (c *NContext) failedWithin(i int, window time.Duration, now time.Time) bool {
	if window <= 0 || c.failedAt[i].IsZero() {
		return false
	}
	return now.Sub(c.failedAt[i]) < window
}
