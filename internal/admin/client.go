// Package admin is the command-channel client of the controller. Every
// method is one request/response exchange; the errors and warnings the
// controller attached to the response are available from Result until the
// next call.
package admin

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/ncp"
	"github.com/torosent/fleetbench/internal/tracing"
)

// Option configures a Client.
type Option func(*Client)

// WithTracing records a span per request and, when the provider propagates,
// sends the trace context along.
func WithTracing(p *tracing.Provider) Option {
	return func(c *Client) {
		c.tracer = p.Tracer()
		c.propagate = p.ShouldPropagate()
	}
}

// WithTimeout bounds every request. Zero waits forever.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client holds one admin session.
type Client struct {
	engine    *ncp.Engine
	result    *ncp.Result
	tracer    trace.Tracer
	propagate bool
	timeout   time.Duration
	logger    *zap.Logger

	mu sync.Mutex
}

// Dial connects to the controller's admin address and identifies as whoami.
func Dial(ctx context.Context, addr, whoami string, logger *zap.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial controller %s: %w", addr, err)
	}

	result := ncp.NewResult()
	c := &Client{
		engine: ncp.NewEngine(conn, result, logger, ncp.WithCatalog(ncp.AdminCatalog)),
		result: result,
		tracer: (*tracing.Provider)(nil).Tracer(),
		logger: logger.With(zap.String("component", "admin")),
	}
	for _, opt := range opts {
		opt(c)
	}

	stop := context.AfterFunc(ctx, func() { _ = c.engine.Close() })
	err = c.engine.Connect(whoami)
	stop()
	if err != nil {
		_ = c.engine.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return c, nil
}

// Result holds the errors and warnings of the last request.
func (c *Client) Result() *ncp.Result { return c.result }

// ListRepo returns the benchmarks available on the controller.
func (c *Client) ListRepo(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, ncp.NewMessage(ncp.MsgListRepoRequest, nil), ncp.MsgListRepoResponse)
	if err != nil {
		return nil, err
	}
	return resp.Strings(ncp.FieldBenchmarks), nil
}

// ListRunner returns the registered drivers in fan-out order.
func (c *Client) ListRunner(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, ncp.NewMessage(ncp.MsgListRunnerRequest, nil), ncp.MsgListRunnerResponse)
	if err != nil {
		return nil, err
	}
	return resp.Strings(ncp.FieldDrivers), nil
}

func (c *Client) Prepare(ctx context.Context, benchmark string) (bool, error) {
	req := ncp.NewMessage(ncp.MsgPrepareRequest, ncp.Fields{ncp.FieldBenchmark: benchmark})
	return c.command(ctx, req, ncp.MsgPrepareResponse)
}

func (c *Client) Setup(ctx context.Context, run config.RunConfig) (bool, error) {
	req := ncp.NewMessage(ncp.MsgSetupRequest, ncp.Fields{ncp.FieldSettings: run.Fields()})
	return c.command(ctx, req, ncp.MsgSetupResponse)
}

func (c *Client) Start(ctx context.Context) (bool, error) {
	return c.command(ctx, ncp.NewMessage(ncp.MsgStartRequest, nil), ncp.MsgStartResponse)
}

// Status returns one "<driver>: <status>" line per driver, or nil when a
// driver did not answer.
func (c *Client) Status(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, ncp.NewMessage(ncp.MsgStatusRequest, nil), ncp.MsgStatusResponse)
	if err != nil || !resp.Success() {
		return nil, err
	}
	statuses := resp.Strings(ncp.FieldStatus)
	if statuses == nil {
		statuses = []string{}
	}
	return statuses, nil
}

func (c *Client) Stop(ctx context.Context) (bool, error) {
	return c.command(ctx, ncp.NewMessage(ncp.MsgStopRequest, nil), ncp.MsgStopResponse)
}

func (c *Client) Gather(ctx context.Context) (bool, error) {
	return c.command(ctx, ncp.NewMessage(ncp.MsgGatherRequest, nil), ncp.MsgGatherResponse)
}

// Shutdown disconnects every driver from the controller.
func (c *Client) Shutdown(ctx context.Context) (bool, error) {
	return c.command(ctx, ncp.NewMessage(ncp.MsgShutdownRequest, nil), ncp.MsgShutdownResponse)
}

// Close ends the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Disconnect("admin session closed")
}

func (c *Client) command(ctx context.Context, req *ncp.Message, response string) (bool, error) {
	resp, err := c.call(ctx, req, response)
	if err != nil {
		return false, err
	}
	return resp.Success(), nil
}

// call runs one exchange. The controller's __error__ and __warning__ lines
// land in Result; only transport and protocol failures are returned.
func (c *Client) call(ctx context.Context, req *ncp.Message, response string) (resp *ncp.Message, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := tracing.StartCallSpan(ctx, c.tracer, req.Name, "controller")
	defer func() { tracing.EndSpan(span, err) }()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.propagate {
		if carrier := tracing.Inject(ctx); carrier != nil {
			req.Set(ncp.FieldTrace, carrier)
		}
	}

	c.result.Clear()
	resp, err = c.engine.Call(ctx, req, response)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Name, err)
	}
	c.logger.Debug("request answered",
		zap.String("request", req.Name),
		zap.Bool("success", resp.Success()),
		zap.Int("errors", len(c.result.Errors())))
	return resp, nil
}
