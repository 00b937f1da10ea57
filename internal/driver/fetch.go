package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/torosent/fleetbench/internal/ncp"
)

// fetch asks the controller for one benchmark resource and stores it under
// dir. It reports false when the controller or the local file system
// refused the resource; the reason is already in the engine's result.
func (d *Driver) fetch(ctx context.Context, engine *ncp.Engine, dir, resource string) (bool, error) {
	result := engine.Result()
	local := filepath.FromSlash(resource)
	if resource == "" || !filepath.IsLocal(local) {
		result.Errorf("invalid resource name %q", resource)
		return false, nil
	}

	if err := engine.Send(ncp.NewMessage(ncp.MsgResourceRequest, ncp.Fields{ncp.FieldResource: resource})); err != nil {
		return false, fmt.Errorf("request %s: %w", resource, err)
	}
	proc := &resourceProc{resource: resource, path: filepath.Join(dir, local), result: result}
	defer proc.abandon()
	if err := engine.Process(ctx, proc); err != nil {
		return false, err
	}

	if !proc.resp.Success() {
		if proc.resp.ErrorText() == "" {
			result.Errorf("resource %s unavailable", resource)
		}
		return false, nil
	}
	if proc.failed {
		return false, nil
	}
	if size := proc.resp.Get(ncp.FieldSize); size.Exists() && size.Int() != proc.written {
		result.Errorf("resource %s: received %d of %d bytes", resource, proc.written, size.Int())
		return false, nil
	}
	d.logger.Debug("resource fetched", zap.String("resource", resource), zap.Int64("bytes", proc.written))
	return true, nil
}

// resourceProc receives RESOURCE_RESPONSE and, on success, the raw stream
// carrying the file.
type resourceProc struct {
	resource string
	path     string
	result   *ncp.Result

	resp     *ncp.Message
	file     *os.File
	written  int64
	received bool
	failed   bool
}

func (p *resourceProc) OnMessage(m *ncp.Message) error {
	if p.resp != nil || m.Name != ncp.MsgResourceResponse {
		return &ncp.ProtocolError{Reason: fmt.Sprintf("unexpected %s while fetching %s", m.Name, p.resource)}
	}
	if got := m.String(ncp.FieldResource); got != p.resource {
		return &ncp.ProtocolError{Reason: fmt.Sprintf("asked for %s, got %s", p.resource, got)}
	}
	p.resp = m
	return nil
}

// OnRawDataStart opens the destination file. A local failure still drains
// the stream so the connection stays usable.
func (p *resourceProc) OnRawDataStart() (io.Writer, error) {
	if p.resp == nil || !p.resp.Success() {
		return nil, &ncp.ProtocolError{Reason: "raw data before RESOURCE_RESPONSE"}
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return p.discard(err), nil
	}
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return p.discard(err), nil
	}
	p.file = f
	return p, nil
}

func (p *resourceProc) discard(err error) io.Writer {
	p.failed = true
	p.result.Errorf("store %s: %v", p.resource, err)
	return io.Discard
}

func (p *resourceProc) Write(b []byte) (int, error) {
	n, err := p.file.Write(b)
	p.written += int64(n)
	return n, err
}

func (p *resourceProc) OnRawDataEnd() error {
	p.received = true
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	if err != nil {
		p.failed = true
		p.result.Errorf("store %s: %v", p.resource, err)
	}
	return nil
}

func (p *resourceProc) OnEnd(string) { p.abandon() }

func (p *resourceProc) Done() bool {
	return p.resp != nil && (!p.resp.Success() || p.received)
}

func (p *resourceProc) abandon() {
	if p.file != nil {
		_ = p.file.Close()
		p.file = nil
	}
}
