package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/config"
	"github.com/torosent/fleetbench/internal/ncp"
	"github.com/torosent/fleetbench/internal/tracing"
)

const handshakeTimeout = 10 * time.Second

// ListenDrivers accepts driver connections on ln until ctx is done or the
// controller is closed. Each connection is registered once its handshake
// completes.
func (c *Controller) ListenDrivers(ctx context.Context, ln net.Listener) error {
	return c.serve(ctx, ln, "driver", func(conn net.Conn) {
		if !c.spawn(func() { c.acceptDriver(conn) }) {
			_ = conn.Close()
		}
	})
}

// spawn runs fn in a goroutine Close waits for. It returns false without
// running fn once the controller is closed.
func (c *Controller) spawn(fn func()) bool {
	c.lnMu.Lock()
	defer c.lnMu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// ListenAdmin accepts admin sessions on ln until ctx is done or the
// controller is closed. Sessions are served one at a time; a second admin
// waits in the listen backlog until the first disconnects.
func (c *Controller) ListenAdmin(ctx context.Context, ln net.Listener) error {
	return c.serve(ctx, ln, "admin", func(conn net.Conn) {
		c.serveAdmin(ctx, conn)
	})
}

func (c *Controller) serve(ctx context.Context, ln net.Listener, kind string, handle func(net.Conn)) error {
	c.lnMu.Lock()
	if c.closed.Load() {
		c.lnMu.Unlock()
		_ = ln.Close()
		return net.ErrClosed
	}
	c.listeners = append(c.listeners, ln)
	c.lnMu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	logger := c.logger.With(zap.String("listener", kind))
	logger.Info("listening", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Error("accept error", zap.Error(err))
			continue
		}
		handle(conn)
	}
}

func (c *Controller) acceptDriver(conn net.Conn) {
	logger := c.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	engine := ncp.NewEngine(conn, nil, c.logger, ncp.WithCatalog(ncp.DriverCatalog))

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	name, err := engine.Accept()
	_ = conn.SetDeadline(time.Time{})
	if err != nil {
		logger.Warn("driver handshake failed", zap.Error(err))
		_ = engine.Close()
		return
	}
	if !validDriverName(name) {
		logger.Warn("driver rejected", zap.String("driver", name), zap.String("reason", "invalid name"))
		_ = engine.Disconnect(fmt.Sprintf("invalid driver name %q", name))
		return
	}

	lg := &LoadGeneratorServer{
		name:      name,
		engine:    engine,
		shared:    c.result,
		repo:      c.repo,
		gatherDir: c.cfg.GatherDir,
		timeout:   c.cfg.RPCTimeout,
		tracer:    c.tracing.Tracer(),
		propagate: c.tracing.ShouldPropagate(),
		logger:    c.logger.With(zap.String("driver", name)),
	}
	if err := c.Register(lg); err != nil {
		logger.Warn("driver rejected", zap.String("driver", name), zap.Error(err))
		_ = engine.Disconnect(err.Error())
		return
	}
	if c.closed.Load() {
		c.Unregister(lg)
		_ = engine.Disconnect("controller shutting down")
	}
}

func validDriverName(name string) bool {
	return name != "" && filepath.IsLocal(name) && !strings.ContainsAny(name, `/\`)
}

// serveAdmin runs one admin session: every request is dispatched, answered
// with the accumulated errors and warnings, and the result is cleared.
func (c *Controller) serveAdmin(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	engine := ncp.NewEngine(conn, c.result, c.logger, ncp.WithCatalog(ncp.AdminCatalog))
	c.lnMu.Lock()
	c.admin = engine
	c.lnMu.Unlock()
	defer func() {
		c.lnMu.Lock()
		c.admin = nil
		c.lnMu.Unlock()
		_ = engine.Close()
		c.result.Clear()
	}()

	c.result.Clear()
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	whoami, err := engine.Accept()
	_ = conn.SetDeadline(time.Time{})
	if err != nil {
		c.logger.Warn("admin handshake failed", zap.Error(err))
		return
	}
	logger := c.logger.With(zap.String("admin", whoami))
	logger.Info("admin session opened")

	for {
		proc := ncp.NextRequest()
		if err := engine.Process(ctx, proc); err != nil {
			switch {
			case errors.Is(err, ncp.ErrAborted), errors.Is(err, io.EOF), ctx.Err() != nil, c.closed.Load():
				logger.Info("admin session closed", zap.String("reason", err.Error()))
			default:
				logger.Warn("admin session failed", zap.Error(err))
			}
			return
		}

		resp := c.dispatch(ctx, proc.Request)
		if resp == nil {
			_ = engine.Disconnect("unexpected " + proc.Request.Name)
			return
		}
		err := engine.Send(c.result.Annotate(resp))
		c.result.Clear()
		if err != nil {
			logger.Warn("admin response failed", zap.Error(err))
			return
		}
	}
}

// dispatch runs one admin request and builds its response. It returns nil
// for messages that are not requests.
func (c *Controller) dispatch(ctx context.Context, req *ncp.Message) *ncp.Message {
	ctx = tracing.Extract(ctx, req.StringMap(ncp.FieldTrace))
	ctx, span := tracing.StartHandlerSpan(ctx, c.tracing.Tracer(), req.Name)
	var resp *ncp.Message
	defer func() {
		var err error
		if resp != nil && !resp.Success() {
			err = fmt.Errorf("%s failed", req.Name)
		}
		tracing.EndSpan(span, err)
	}()

	var ok bool
	switch req.Name {
	case ncp.MsgListRepoRequest:
		names, err := c.repo.List()
		if err != nil {
			c.result.AddError(err.Error())
		}
		ok = err == nil
		resp = ncp.NewMessage(ncp.MsgListRepoResponse, ncp.Fields{ncp.FieldBenchmarks: names})
	case ncp.MsgListRunnerRequest:
		ok = true
		resp = ncp.NewMessage(ncp.MsgListRunnerResponse, ncp.Fields{ncp.FieldDrivers: c.DriverNames()})
	case ncp.MsgPrepareRequest:
		ok = c.HandlePrepare(ctx, req.String(ncp.FieldBenchmark))
		resp = ncp.NewMessage(ncp.MsgPrepareResponse, nil)
	case ncp.MsgSetupRequest:
		run, err := config.ParseRun(req.Object(ncp.FieldSettings))
		if err != nil {
			c.result.Push("setup")
			c.result.AddError(err.Error())
			c.result.Pop()
		} else {
			ok = c.HandleSetup(ctx, run)
		}
		resp = ncp.NewMessage(ncp.MsgSetupResponse, nil)
	case ncp.MsgStartRequest:
		ok = c.HandleStart(ctx)
		resp = ncp.NewMessage(ncp.MsgStartResponse, nil)
	case ncp.MsgStatusRequest:
		statuses := c.HandleStatus(ctx)
		ok = statuses != nil
		resp = ncp.NewMessage(ncp.MsgStatusResponse, nil)
		if ok {
			resp.Set(ncp.FieldStatus, statuses)
		}
	case ncp.MsgStopRequest:
		ok = c.HandleStop(ctx)
		resp = ncp.NewMessage(ncp.MsgStopResponse, nil)
	case ncp.MsgGatherRequest:
		ok = c.HandleGather(ctx)
		resp = ncp.NewMessage(ncp.MsgGatherResponse, nil)
	case ncp.MsgShutdownRequest:
		ok = c.HandleShutdown(ctx)
		resp = ncp.NewMessage(ncp.MsgShutdownResponse, nil)
	default:
		c.logger.Warn("unexpected admin message", zap.String("message", req.Name))
		return nil
	}
	return resp.Set(ncp.FieldSuccess, ok)
}

// Close stops the listeners, ends the admin session and disconnects every
// driver.
func (c *Controller) Close() error {
	c.lnMu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.lnMu.Unlock()
		return nil
	}
	c.cancel()
	listeners := c.listeners
	c.listeners = nil
	admin := c.admin
	c.lnMu.Unlock()

	var errs []error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if admin != nil {
		_ = admin.Close()
	}
	c.wg.Wait()

	for _, lg := range c.Drivers() {
		_ = lg.Shutdown("controller shutting down")
		c.Unregister(lg)
	}
	return errors.Join(errs...)
}
