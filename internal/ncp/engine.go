package ncp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// maxMessageSize bounds a reassembled control message.
const maxMessageSize = 16 << 20

// Procedure is the state machine of one exchange driven by Engine.Process.
type Procedure interface {
	// OnMessage handles a control message other than an abort request. Its
	// __error__ and __warning__ lines are already recorded in the engine's
	// Result.
	OnMessage(m *Message) error
	// OnRawDataStart returns the sink for a raw stream that just began.
	OnRawDataStart() (io.Writer, error)
	// OnRawDataEnd is called once the stream's final frame was written.
	OnRawDataEnd() error
	// OnEnd is called when the peer aborts the exchange.
	OnEnd(reason string)
	// Done reports whether the exchange is complete.
	Done() bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog restricts inbound messages to the names of c.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// Engine speaks the protocol over one connection. Sends may come from any
// goroutine; reads (Accept, Connect, Receive, Process) must come from one
// goroutine at a time.
type Engine struct {
	conn    net.Conn
	r       *bufio.Reader
	wmu     sync.Mutex
	w       *bufio.Writer
	result  *Result
	catalog *Catalog
	logger  *zap.Logger

	pmu   sync.RWMutex
	props map[string]string

	closeOnce sync.Once
	closeErr  error
}

// NewEngine wraps conn. Errors of Process are recorded in result; a nil
// result gets a private one.
func NewEngine(conn net.Conn, result *Result, logger *zap.Logger, opts ...Option) *Engine {
	if result == nil {
		result = NewResult()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		conn:   conn,
		r:      bufio.NewReader(conn),
		w:      bufio.NewWriter(conn),
		result: result,
		logger: logger.With(zap.String("remote", conn.RemoteAddr().String())),
		props:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Result() *Result { return e.result }

func (e *Engine) RemoteAddr() net.Addr { return e.conn.RemoteAddr() }

// Connect performs the client side of the handshake.
func (e *Engine) Connect(whoami string) error {
	if err := e.Send(NewMessage(MsgConnectionRequest, Fields{FieldWhoami: whoami})); err != nil {
		return fmt.Errorf("send connection request: %w", err)
	}
	m, err := e.Receive()
	if err != nil {
		return fmt.Errorf("read connection response: %w", err)
	}
	if m.Name != MsgConnectionResponse {
		return protocolErrorf("expected %s, got %s", MsgConnectionResponse, m.Name)
	}
	if text := m.ErrorText(); text != "" {
		return fmt.Errorf("connection rejected: %s", text)
	}
	nonce := m.String(FieldNonce)
	if nonce == "" {
		return protocolErrorf("connection response without %s", FieldNonce)
	}
	e.setProperty(FieldWhoami, whoami)
	e.setProperty(FieldNonce, nonce)
	e.logger.Debug("handshake complete", zap.String("whoami", whoami), zap.String("nonce", nonce))
	return nil
}

// Accept performs the server side of the handshake and returns the peer's
// self-declared name.
func (e *Engine) Accept() (string, error) {
	m, err := e.Receive()
	if err != nil {
		return "", fmt.Errorf("read connection request: %w", err)
	}
	if m.Name != MsgConnectionRequest {
		return "", protocolErrorf("expected %s, got %s", MsgConnectionRequest, m.Name)
	}
	whoami := m.String(FieldWhoami)
	if whoami == "" {
		return "", protocolErrorf("connection request without %s", FieldWhoami)
	}
	nonce := ulid.Make().String()
	if err := e.Send(NewMessage(MsgConnectionResponse, Fields{FieldNonce: nonce})); err != nil {
		return "", fmt.Errorf("send connection response: %w", err)
	}
	e.setProperty(FieldWhoami, whoami)
	e.setProperty(FieldNonce, nonce)
	e.logger.Debug("handshake accepted", zap.String("whoami", whoami), zap.String("nonce", nonce))
	return whoami, nil
}

func (e *Engine) setProperty(name, value string) {
	e.pmu.Lock()
	e.props[name] = value
	e.pmu.Unlock()
}

// Property returns a handshake property such as __whoami__ or __nonce__.
func (e *Engine) Property(name string) (string, error) {
	e.pmu.RLock()
	defer e.pmu.RUnlock()
	v, ok := e.props[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingProperty, name)
	}
	return v, nil
}

// Send writes m, split across continuation frames when needed.
func (e *Engine) Send(m *Message) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if err := writeMessage(e.w, m); err != nil {
		return err
	}
	if err := e.w.Flush(); err != nil {
		return err
	}
	e.logger.Debug("message sent", zap.String("message", m.Name))
	return nil
}

// SendRaw streams r as raw frames: continuation on all but the last frame, or
// a single empty frame when r is empty. A read error from r is fatal to the
// connection since the peer cannot tell a cut stream from a complete one.
func (e *Engine) SendRaw(r io.Reader) (int64, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	cur := make([]byte, MaxFramePayload)
	next := make([]byte, MaxFramePayload)
	var total int64

	n, err := io.ReadFull(r, cur)
	for {
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			_ = e.Close()
			return total, fmt.Errorf("read raw source: %w", err)
		}
		final := err != nil
		var m int
		var nextErr error
		if !final {
			m, nextErr = io.ReadFull(r, next)
			final = m == 0 && errors.Is(nextErr, io.EOF)
		}
		if err := WriteFrame(e.w, Frame{Raw: true, Continuation: !final, Payload: cur[:n]}); err != nil {
			return total, err
		}
		total += int64(n)
		if final {
			break
		}
		cur, next = next, cur
		n, err = m, nextErr
	}
	if err := e.w.Flush(); err != nil {
		return total, err
	}
	e.logger.Debug("raw stream sent", zap.Int64("bytes", total))
	return total, nil
}

// Receive reads the next control message, reassembling continuation frames.
func (e *Engine) Receive() (*Message, error) {
	f, err := ReadFrame(e.r)
	if err != nil {
		return nil, err
	}
	return e.readMessage(f)
}

func (e *Engine) readMessage(first Frame) (*Message, error) {
	if first.Raw {
		return nil, protocolErrorf("unexpected raw frame")
	}
	if !first.Continuation {
		m, err := DecodeFrame(first)
		if err == nil {
			e.logger.Debug("message received", zap.String("message", m.Name))
		}
		return m, err
	}
	payload := append([]byte(nil), first.Payload...)
	for {
		f, err := ReadFrame(e.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("read continuation frame: %w", err)
		}
		if f.Raw {
			return nil, protocolErrorf("raw frame inside a fragmented control message")
		}
		payload = append(payload, f.Payload...)
		if len(payload) > maxMessageSize {
			return nil, protocolErrorf("control message exceeds %d bytes", maxMessageSize)
		}
		if !f.Continuation {
			break
		}
	}
	m, err := DecodeMessage(payload)
	if err == nil {
		e.logger.Debug("message received", zap.String("message", m.Name), zap.Int("bytes", len(payload)))
	}
	return m, err
}

// Process reads frames and feeds proc until proc reports done. Raw streams go
// to the sink returned by OnRawDataStart; an abort request ends the loop with
// ErrAborted. Any other failure is recorded in the engine's Result and
// returned.
func (e *Engine) Process(ctx context.Context, proc Procedure) (err error) {
	stop := context.AfterFunc(ctx, func() {
		_ = e.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			_ = e.conn.SetReadDeadline(time.Time{})
			if err != nil && ctx.Err() != nil {
				err = ctx.Err()
			}
		}
		if err != nil && !errors.Is(err, ErrAborted) {
			e.result.AddError(err.Error())
		}
	}()

	for !proc.Done() {
		f, err := ReadFrame(e.r)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if f.Raw {
			if err := e.pipeRaw(f, proc); err != nil {
				return err
			}
			continue
		}
		m, err := e.readMessage(f)
		if err != nil {
			return err
		}
		if m.Name == MsgAbortRequest {
			reason := m.String(FieldReason)
			proc.OnEnd(reason)
			return fmt.Errorf("%w: %s", ErrAborted, reason)
		}
		if e.catalog != nil && !e.catalog.Contains(m.Name) {
			return protocolErrorf("unexpected message %s on %s channel", m.Name, e.catalog.Name())
		}
		e.result.Absorb(m)
		if err := proc.OnMessage(m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pipeRaw(first Frame, proc Procedure) error {
	sink, err := proc.OnRawDataStart()
	if err != nil {
		return err
	}
	if sink == nil {
		sink = io.Discard
	}
	var total int
	f := first
	for {
		if !f.Raw {
			return protocolErrorf("control frame inside a raw stream")
		}
		if len(f.Payload) > 0 {
			if _, err := sink.Write(f.Payload); err != nil {
				return fmt.Errorf("write raw data: %w", err)
			}
			total += len(f.Payload)
		}
		if !f.Continuation {
			break
		}
		if f, err = ReadFrame(e.r); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("read raw frame: %w", err)
		}
	}
	e.logger.Debug("raw stream received", zap.Int("bytes", total))
	return proc.OnRawDataEnd()
}

// Call sends req and waits for the response named response.
func (e *Engine) Call(ctx context.Context, req *Message, response string) (*Message, error) {
	if err := e.Send(req); err != nil {
		e.result.AddError(fmt.Sprintf("send %s: %v", req.Name, err))
		return nil, err
	}
	proc := ExpectResponse(response)
	if err := e.Process(ctx, proc); err != nil {
		return nil, err
	}
	return proc.Response, nil
}

// Disconnect sends an abort request carrying reason, then closes the
// connection.
func (e *Engine) Disconnect(reason string) error {
	sendErr := e.Send(NewMessage(MsgAbortRequest, Fields{FieldReason: reason}))
	closeErr := e.Close()
	if sendErr != nil {
		return fmt.Errorf("send abort request: %w", sendErr)
	}
	return closeErr
}

// Close closes the connection without notifying the peer.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}
