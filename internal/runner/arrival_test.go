package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestPoissonPacerScalesSample(t *testing.T) {
	opt := Options{Rate: 200, ArrivalModel: ArrivalModelPoisson, PoissonSampler: func() float64 { return 1 }}
	opt.normalize()
	p, ok := newPacer(&opt, 0).(*poissonPacer)
	require.True(t, ok)
	require.Equal(t, time.Second/200, p.nextDelay())
}

func TestPoissonPacerWaitCancelledContext(t *testing.T) {
	p := &poissonPacer{mean: float64(time.Hour), sample: func() float64 { return 1 }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Wait(ctx), ErrInterrupted)
}

func TestNewPacerUnpaced(t *testing.T) {
	opt := Options{}
	opt.normalize()
	require.Nil(t, newPacer(&opt, 0))
}

func TestNewPacerUniform(t *testing.T) {
	var gotRate float64
	opt := Options{Rate: 7, LimiterFactory: func(rps float64) *rate.Limiter {
		gotRate = rps
		return rate.NewLimiter(rate.Inf, 0)
	}}
	opt.normalize()
	p, ok := newPacer(&opt, 1).(limiterPacer)
	require.True(t, ok)
	require.Equal(t, 7.0, gotRate)
	require.NoError(t, p.Wait(context.Background()))
}

func TestPoissonPacerSeededPerThread(t *testing.T) {
	opt := Options{Rate: 10, ArrivalModel: ArrivalModelPoisson, RandomSeed: 42}
	opt.normalize()
	delays := func(thread int64) []time.Duration {
		p := newPacer(&opt, thread).(*poissonPacer)
		out := make([]time.Duration, 4)
		for i := range out {
			out[i] = p.nextDelay()
		}
		return out
	}

	require.Equal(t, delays(3), delays(3))
	require.NotEqual(t, delays(3), delays(4))
	for _, d := range delays(5) {
		require.Positive(t, d)
	}
}
