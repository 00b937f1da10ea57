package runner

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces the mix executions of one virtual user. Each client owns its
// pacer, so implementations need no locking.
type pacer interface {
	Wait(ctx context.Context) error
}

// newPacer returns nil for unpaced runs.
func newPacer(opt *Options, thread int64) pacer {
	if opt.Rate <= 0 {
		return nil
	}
	if opt.ArrivalModel == ArrivalModelPoisson {
		sample := opt.PoissonSampler
		if sample == nil {
			seed := uint64(opt.RandomSeed + thread)
			sample = rand.New(rand.NewPCG(seed, seed>>1|1)).ExpFloat64
		}
		return &poissonPacer{mean: float64(time.Second) / opt.Rate, sample: sample}
	}
	return limiterPacer{opt.LimiterFactory(opt.Rate)}
}

// limiterPacer spaces executions evenly.
type limiterPacer struct {
	limiter *rate.Limiter
}

func (p limiterPacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// poissonPacer draws exponential gaps with the configured mean.
type poissonPacer struct {
	mean   float64 // nanoseconds
	sample func() float64
}

func (p *poissonPacer) nextDelay() time.Duration {
	d := p.mean * p.sample()
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	return sleep(ctx, p.nextDelay())
}
