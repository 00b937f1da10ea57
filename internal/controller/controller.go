package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/ncp"
	"github.com/torosent/fleetbench/internal/tracing"
)

// ErrDuplicateDriver is returned when a driver registers under a name that
// is already taken.
var ErrDuplicateDriver = errors.New("driver name already registered")

// Option configures a Controller.
type Option func(*Controller)

// WithTracing records spans for every fan-out and driver exchange.
func WithTracing(p *tracing.Provider) Option {
	return func(c *Controller) { c.tracing = p }
}

// Controller is the prime controller. It owns the registry of connected
// drivers and fans every lifecycle command out to them in registration
// order, one driver at a time.
type Controller struct {
	cfg     config.ControllerConfig
	repo    *Repository
	result  *ncp.Result
	tracing *tracing.Provider
	logger  *zap.Logger

	// serializes fan-out operations
	opMu sync.Mutex

	regMu   sync.RWMutex
	drivers []LoadGenerator

	lnMu      sync.Mutex
	listeners []net.Listener
	admin     *ncp.Engine
	wg        sync.WaitGroup
	closed    atomic.Bool

	// cancelled by Close to abort an admin request in flight
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg config.ControllerConfig, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:    cfg,
		repo:   NewRepository(cfg.RepoDir),
		result: ncp.NewResult(),
		logger: logger.With(zap.String("component", "controller")),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result holds the errors and warnings of the current admin request.
func (c *Controller) Result() *ncp.Result { return c.result }

func (c *Controller) Repository() *Repository { return c.repo }

// Register adds a driver to the end of the fan-out order.
func (c *Controller) Register(lg LoadGenerator) error {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	for _, existing := range c.drivers {
		if existing.Name() == lg.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateDriver, lg.Name())
		}
	}
	c.drivers = append(c.drivers, lg)
	c.logger.Info("driver registered", zap.String("driver", lg.Name()), zap.Int("drivers", len(c.drivers)))
	return nil
}

// Unregister removes lg; unknown drivers are ignored.
func (c *Controller) Unregister(lg LoadGenerator) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	for i, existing := range c.drivers {
		if existing == lg {
			c.drivers = append(c.drivers[:i], c.drivers[i+1:]...)
			c.logger.Info("driver removed", zap.String("driver", lg.Name()), zap.Int("drivers", len(c.drivers)))
			return
		}
	}
}

// Drivers returns the registered drivers in fan-out order.
func (c *Controller) Drivers() []LoadGenerator {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	return append([]LoadGenerator(nil), c.drivers...)
}

// DriverNames returns the names of the registered drivers in fan-out order.
func (c *Controller) DriverNames() []string {
	drivers := c.Drivers()
	names := make([]string, len(drivers))
	for i, lg := range drivers {
		names[i] = lg.Name()
	}
	return names
}

// HandlePrepare has every driver fetch benchmark. It stops at the first
// driver that fails.
func (c *Controller) HandlePrepare(ctx context.Context, benchmark string) bool {
	if !c.repo.Has(benchmark) {
		c.result.Push("prepare")
		c.result.Errorf("%v: %q", ErrUnknownBenchmark, benchmark)
		c.result.Pop()
		return false
	}
	return c.fanOut(ctx, "prepare", true, func(ctx context.Context, lg LoadGenerator) error {
		return lg.Prepare(ctx, benchmark)
	})
}

// HandleSetup sends run settings to every driver. It stops at the first
// driver that fails.
func (c *Controller) HandleSetup(ctx context.Context, run config.RunConfig) bool {
	return c.fanOut(ctx, "setup", true, func(ctx context.Context, lg LoadGenerator) error {
		return lg.Setup(ctx, run)
	})
}

// HandleStart starts every driver. It stops at the first driver that fails.
func (c *Controller) HandleStart(ctx context.Context) bool {
	return c.fanOut(ctx, "start", true, func(ctx context.Context, lg LoadGenerator) error {
		return lg.Start(ctx)
	})
}

// HandleStatus returns one "<driver>: <status>" line per driver, empty when
// none is registered, or nil as soon as one driver fails to answer.
func (c *Controller) HandleStatus(ctx context.Context) []string {
	statuses := []string{}
	ok := c.fanOut(ctx, "status", true, func(ctx context.Context, lg LoadGenerator) error {
		status, err := lg.Status(ctx)
		if err != nil {
			return err
		}
		statuses = append(statuses, lg.Name()+": "+status)
		return nil
	})
	if !ok {
		return nil
	}
	return statuses
}

// HandleStop stops every driver. Failures are recorded as warnings and do
// not prevent the remaining drivers from being stopped.
func (c *Controller) HandleStop(ctx context.Context) bool {
	return c.fanOut(ctx, "stop", false, func(ctx context.Context, lg LoadGenerator) error {
		return lg.Stop(ctx)
	})
}

// HandleGather collects the logs of every driver, best effort.
func (c *Controller) HandleGather(ctx context.Context) bool {
	return c.fanOut(ctx, "gather", false, func(ctx context.Context, lg LoadGenerator) error {
		return lg.GatherLog(ctx)
	})
}

// HandleShutdown disconnects every driver, best effort. Drivers are removed
// from the registry whether or not the abort request reached them.
func (c *Controller) HandleShutdown(ctx context.Context) bool {
	return c.fanOut(ctx, "shutdown", false, func(_ context.Context, lg LoadGenerator) error {
		err := lg.Shutdown("shutdown requested")
		c.Unregister(lg)
		return err
	})
}

// fanOut calls fn for each registered driver in order. An empty registry
// succeeds with a warning. A strict fan-out
// records the first failure as an error and stops; otherwise failures are
// recorded as warnings and the loop goes on. Drivers whose connection
// broke are removed from the registry.
func (c *Controller) fanOut(ctx context.Context, op string, strict bool, fn func(context.Context, LoadGenerator) error) bool {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	drivers := c.Drivers()
	ctx, span := c.tracing.Tracer().Start(ctx, "controller "+op)
	span.SetAttributes(tracing.AttrDrivers.Int(len(drivers)))

	c.result.Push(op)
	defer c.result.Pop()

	if len(drivers) == 0 {
		c.result.AddWarning("no drivers registered")
		tracing.EndSpan(span, nil)
		return true
	}

	ok := true
	var failed []error
	for _, lg := range drivers {
		err := fn(ctx, lg)
		if err == nil {
			continue
		}
		ok = false
		failed = append(failed, err)
		c.logger.Warn("driver call failed", zap.String("op", op), zap.String("driver", lg.Name()), zap.Error(err))

		c.result.Push(lg.Name())
		if strict {
			c.result.AddError(err.Error())
		} else {
			c.result.AddWarning(err.Error())
		}
		c.result.Pop()

		if !IsRejected(err) && op != "shutdown" {
			c.Unregister(lg)
			_ = lg.Close()
		}
		if strict {
			break
		}
	}
	tracing.EndSpan(span, errors.Join(failed...))
	return ok
}
