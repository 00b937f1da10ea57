// Package driver implements the load-generator side of the controller
// protocol: it fetches benchmarks, runs the workload engine on command and
// ships its logs back.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/metrics"
	"github.com/torosent/fleetbench/internal/ncp"
	"github.com/torosent/fleetbench/internal/runner"
	"github.com/torosent/fleetbench/internal/tracing"
	"github.com/torosent/fleetbench/internal/workload"
)

// Option configures a Driver.
type Option func(*Driver)

// WithTracing continues the controller's traces in request handlers.
func WithTracing(p *tracing.Provider) Option {
	return func(d *Driver) { d.tracing = p }
}

// WithRegistry registers the benchmark exporter with reg instead of a
// private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *Driver) { d.registry = reg }
}

// Driver serves one controller connection at a time.
type Driver struct {
	cfg      config.DriverConfig
	tracing  *tracing.Provider
	registry *prometheus.Registry
	exporter *metrics.Exporter
	logger   *zap.Logger

	mu        sync.Mutex
	benchmark string
	benchDir  string
	workload  *workload.WorkLoad
	run       config.RunConfig
	bench     *runner.Benchmark
	runCtx    context.Context
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

func New(cfg config.DriverConfig, logger *zap.Logger, opts ...Option) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "driver"), zap.String("driver", cfg.Name)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = prometheus.NewRegistry()
	}
	exporter, err := metrics.NewExporter(d.registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	d.exporter = exporter
	return d, nil
}

// Registry holds the live benchmark series.
func (d *Driver) Registry() *prometheus.Registry { return d.registry }

// Run connects to the controller and serves it until the controller aborts
// the connection or ctx is done. The metrics endpoint, when configured,
// lives as long as Run.
func (d *Driver) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("listen metrics: %w", err)
		}
		go func() {
			if err := serveMetrics(ctx, ln, d.registry, d.logger); err != nil {
				d.logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.cfg.ControllerAddr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", d.cfg.ControllerAddr, err)
	}
	return d.Serve(ctx, conn)
}

// Serve performs the handshake on conn and answers controller requests one
// at a time. It returns nil when the controller disconnects the driver or
// ctx is done; a running benchmark is stopped either way.
func (d *Driver) Serve(ctx context.Context, conn net.Conn) error {
	engine := ncp.NewEngine(conn, nil, d.logger, ncp.WithCatalog(ncp.DriverCatalog))
	defer engine.Close()

	runCtx, cancelRuns := context.WithCancel(ctx)
	d.mu.Lock()
	d.runCtx = runCtx
	d.mu.Unlock()
	defer func() {
		cancelRuns()
		d.halt()
	}()

	stop := context.AfterFunc(ctx, func() { _ = engine.Close() })
	err := engine.Connect(d.cfg.Name)
	stop()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	d.logger.Info("connected to controller", zap.String("controller", engine.RemoteAddr().String()))

	result := engine.Result()
	for {
		result.Clear()
		proc := ncp.NextRequest()
		if err := engine.Process(ctx, proc); err != nil {
			switch {
			case errors.Is(err, ncp.ErrAborted):
				d.logger.Info("controller closed the connection", zap.String("reason", err.Error()))
				return nil
			case ctx.Err() != nil:
				_ = engine.Disconnect("driver shutting down")
				return nil
			default:
				return err
			}
		}

		resp, err := d.handle(ctx, engine, proc.Request)
		if err != nil {
			return err
		}
		if err := engine.Send(result.Annotate(resp)); err != nil {
			return fmt.Errorf("send %s: %w", resp.Name, err)
		}
	}
}

// halt stops a benchmark left running when the connection ends.
func (d *Driver) halt() {
	d.mu.Lock()
	cancel, done := d.cancelRun, d.runDone
	d.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	d.mu.Lock()
	d.releaseLocked()
	d.mu.Unlock()
}
