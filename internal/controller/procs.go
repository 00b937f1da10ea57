package controller

import (
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/ncp"
)

// exchange is a procedure that ends with a response message.
type exchange interface {
	ncp.Procedure
	response() *ncp.Message
}

type expectProc struct {
	*ncp.ResponseProc
}

func expect(name string) expectProc {
	return expectProc{ncp.ExpectResponse(name)}
}

func (p expectProc) response() *ncp.Message { return p.Response }

type prepareState int

const (
	prepareAwaitResponse prepareState = iota
	prepareServeResource
	prepareDone
)

func (s prepareState) String() string {
	switch s {
	case prepareAwaitResponse:
		return "await-response"
	case prepareServeResource:
		return "serve-resource"
	case prepareDone:
		return "done"
	default:
		return fmt.Sprintf("prepareState(%d)", int(s))
	}
}

// prepareProc drives PREPARE. Before answering, the driver may ask for any
// number of benchmark files with RESOURCE_REQUEST; each is answered with a
// RESOURCE_RESPONSE followed, on success, by the file as a raw stream.
type prepareProc struct {
	benchmark string
	engine    *ncp.Engine
	repo      *Repository
	logger    *zap.Logger

	state  prepareState
	served []string
	resp   *ncp.Message
}

func (p *prepareProc) OnMessage(m *ncp.Message) error {
	switch {
	case p.state == prepareAwaitResponse && m.Name == ncp.MsgResourceRequest:
		p.state = prepareServeResource
		err := p.serve(m.String(ncp.FieldResource))
		p.state = prepareAwaitResponse
		return err
	case p.state == prepareAwaitResponse && m.Name == ncp.MsgPrepareResponse:
		p.resp = m
		p.state = prepareDone
		return nil
	default:
		return &ncp.ProtocolError{Reason: fmt.Sprintf("unexpected %s during prepare (%s)", m.Name, p.state)}
	}
}

// serve answers one resource request. A missing resource is reported to the
// driver, which decides whether PREPARE can go on; only transport errors
// end the exchange.
func (p *prepareProc) serve(resource string) error {
	f, size, err := p.repo.Open(p.benchmark, resource)
	if err != nil {
		p.logger.Warn("resource unavailable", zap.String("resource", resource), zap.Error(err))
		return p.engine.Send(ncp.NewMessage(ncp.MsgResourceResponse, ncp.Fields{
			ncp.FieldResource: resource,
			ncp.FieldSuccess:  false,
			ncp.FieldError:    err.Error(),
		}))
	}
	defer f.Close()

	if err := p.engine.Send(ncp.NewMessage(ncp.MsgResourceResponse, ncp.Fields{
		ncp.FieldResource: resource,
		ncp.FieldSuccess:  true,
		ncp.FieldSize:     size,
	})); err != nil {
		return err
	}
	n, err := p.engine.SendRaw(f)
	if err != nil {
		return fmt.Errorf("stream %s: %w", resource, err)
	}
	p.served = append(p.served, resource)
	p.logger.Debug("resource served", zap.String("resource", resource), zap.Int64("bytes", n))
	return nil
}

func (p *prepareProc) OnRawDataStart() (io.Writer, error) {
	return nil, &ncp.ProtocolError{Reason: "unexpected raw data during prepare"}
}

func (p *prepareProc) OnRawDataEnd() error { return nil }

func (p *prepareProc) OnEnd(string) {}

func (p *prepareProc) Done() bool { return p.state == prepareDone }

func (p *prepareProc) response() *ncp.Message { return p.resp }

// gatherProc drives GATHER: every LOG_INFO names the file carried by the
// raw stream that follows it, until GATHER_RESPONSE.
type gatherProc struct {
	dir    string
	logger *zap.Logger

	pending string
	sink    *logSink
	files   []string
	resp    *ncp.Message
}

func (p *gatherProc) OnMessage(m *ncp.Message) error {
	if p.pending != "" {
		return &ncp.ProtocolError{Reason: fmt.Sprintf("%s while waiting for the data of %s", m.Name, p.pending)}
	}
	switch m.Name {
	case ncp.MsgLogInfo:
		name := m.String(ncp.FieldName)
		if name == "" {
			return &ncp.ProtocolError{Reason: "LOG_INFO without a name"}
		}
		p.pending = name
		return nil
	case ncp.MsgGatherResponse:
		p.resp = m
		return nil
	default:
		return &ncp.ProtocolError{Reason: fmt.Sprintf("unexpected %s during gather", m.Name)}
	}
}

func (p *gatherProc) OnRawDataStart() (io.Writer, error) {
	if p.pending == "" {
		return nil, &ncp.ProtocolError{Reason: "raw data without LOG_INFO"}
	}
	sink, err := openLogSink(p.dir, p.pending)
	if err != nil {
		return nil, err
	}
	p.sink = sink
	return sink, nil
}

func (p *gatherProc) OnRawDataEnd() error {
	err := p.sink.Close()
	p.files = append(p.files, filepath.Join(p.dir, p.pending))
	p.logger.Debug("log gathered", zap.String("path", p.sink.path))
	p.sink = nil
	p.pending = ""
	return err
}

func (p *gatherProc) OnEnd(string) { p.abandon() }

// abandon closes a sink left open by an interrupted stream.
func (p *gatherProc) abandon() {
	if p.sink != nil {
		_ = p.sink.Close()
		p.sink = nil
	}
}

func (p *gatherProc) Done() bool { return p.resp != nil }

func (p *gatherProc) response() *ncp.Message { return p.resp }
