package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/ncp"
	"github.com/torosent/fleetbench/internal/tracing"
)

// LoadGenerator is the controller's view of one registered driver. Every
// call is one request/response exchange.
type LoadGenerator interface {
	Name() string
	Prepare(ctx context.Context, benchmark string) error
	Setup(ctx context.Context, run config.RunConfig) error
	Start(ctx context.Context) error
	Status(ctx context.Context) (string, error)
	Stop(ctx context.Context) error
	GatherLog(ctx context.Context) error
	// Shutdown asks the driver to exit and closes the connection.
	Shutdown(reason string) error
	Close() error
}

// RejectedError reports a driver that answered a request with a failure.
// The connection stays usable.
type RejectedError struct {
	Driver  string
	Request string
	Reason  string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s rejected %s", e.Driver, e.Request)
	}
	return fmt.Sprintf("%s rejected %s: %s", e.Driver, e.Request, e.Reason)
}

// IsRejected reports whether err is a driver-side refusal as opposed to a
// broken connection.
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}

// LoadGeneratorServer is the controller-side proxy of one driver connection.
type LoadGeneratorServer struct {
	name      string
	engine    *ncp.Engine
	shared    *ncp.Result
	repo      *Repository
	gatherDir string
	timeout   time.Duration
	tracer    trace.Tracer
	propagate bool
	logger    *zap.Logger

	// one exchange at a time
	mu sync.Mutex
}

func (s *LoadGeneratorServer) Name() string { return s.name }

func (s *LoadGeneratorServer) RemoteAddr() net.Addr { return s.engine.RemoteAddr() }

func (s *LoadGeneratorServer) Prepare(ctx context.Context, benchmark string) error {
	proc := &prepareProc{
		benchmark: benchmark,
		engine:    s.engine,
		repo:      s.repo,
		logger:    s.logger.With(zap.String("benchmark", benchmark)),
	}
	req := ncp.NewMessage(ncp.MsgPrepareRequest, ncp.Fields{ncp.FieldBenchmark: benchmark})
	_, err := s.exchange(ctx, req, proc)
	if err == nil {
		s.logger.Info("driver prepared", zap.String("benchmark", benchmark), zap.Strings("resources", proc.served))
	}
	return err
}

func (s *LoadGeneratorServer) Setup(ctx context.Context, run config.RunConfig) error {
	req := ncp.NewMessage(ncp.MsgSetupRequest, ncp.Fields{ncp.FieldSettings: run.Fields()})
	_, err := s.exchange(ctx, req, expect(ncp.MsgSetupResponse))
	return err
}

func (s *LoadGeneratorServer) Start(ctx context.Context) error {
	_, err := s.exchange(ctx, ncp.NewMessage(ncp.MsgStartRequest, nil), expect(ncp.MsgStartResponse))
	return err
}

func (s *LoadGeneratorServer) Status(ctx context.Context) (string, error) {
	resp, err := s.exchange(ctx, ncp.NewMessage(ncp.MsgStatusRequest, nil), expect(ncp.MsgStatusResponse))
	if err != nil {
		return "", err
	}
	return resp.String(ncp.FieldStatus), nil
}

func (s *LoadGeneratorServer) Stop(ctx context.Context) error {
	_, err := s.exchange(ctx, ncp.NewMessage(ncp.MsgStopRequest, nil), expect(ncp.MsgStopResponse))
	return err
}

// GatherLog receives the driver's log files into gather_dir/<driver>/.
func (s *LoadGeneratorServer) GatherLog(ctx context.Context) error {
	proc := &gatherProc{
		dir:    filepath.Join(s.gatherDir, s.name),
		logger: s.logger,
	}
	defer proc.abandon()
	_, err := s.exchange(ctx, ncp.NewMessage(ncp.MsgGatherRequest, nil), proc)
	if err == nil {
		s.logger.Info("logs gathered", zap.Int("files", len(proc.files)))
	}
	return err
}

func (s *LoadGeneratorServer) Shutdown(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Disconnect(reason)
}

func (s *LoadGeneratorServer) Close() error {
	return s.engine.Close()
}

// exchange sends req and runs proc until the response arrives. Warnings the
// driver attached are forwarded to the shared result; a response without
// success becomes a *RejectedError.
func (s *LoadGeneratorServer) exchange(ctx context.Context, req *ncp.Message, proc exchange) (resp *ncp.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracing.StartCallSpan(ctx, s.tracer, req.Name, s.name)
	defer func() { tracing.EndSpan(span, err) }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if s.propagate {
		if carrier := tracing.Inject(ctx); carrier != nil {
			req.Set(ncp.FieldTrace, carrier)
		}
	}

	local := s.engine.Result()
	local.Clear()
	defer s.forwardWarnings()

	if err := s.engine.Send(req); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", req.Name, s.name, err)
	}
	if err := s.engine.Process(ctx, proc); err != nil {
		return nil, fmt.Errorf("%s on %s: %w", req.Name, s.name, err)
	}
	resp = proc.response()
	if !resp.Success() {
		return resp, &RejectedError{
			Driver:  s.name,
			Request: req.Name,
			Reason:  strings.Join(local.Errors(), "; "),
		}
	}
	return resp, nil
}

func (s *LoadGeneratorServer) forwardWarnings() {
	warnings := s.engine.Result().Warnings()
	if s.shared == nil || len(warnings) == 0 {
		return
	}
	s.shared.Push(s.name)
	defer s.shared.Pop()
	for _, w := range warnings {
		s.shared.AddWarning(w)
	}
}
