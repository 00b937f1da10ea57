package ncp

import "io"

// ResponseProc waits for exactly one response message and rejects anything
// else.
type ResponseProc struct {
	expect   string
	Response *Message
}

func ExpectResponse(name string) *ResponseProc {
	return &ResponseProc{expect: name}
}

func (p *ResponseProc) OnMessage(m *Message) error {
	if m.Name != p.expect {
		return protocolErrorf("unexpected %s while waiting for %s", m.Name, p.expect)
	}
	p.Response = m
	return nil
}

func (p *ResponseProc) OnRawDataStart() (io.Writer, error) {
	return nil, protocolErrorf("unexpected raw data while waiting for %s", p.expect)
}

func (p *ResponseProc) OnRawDataEnd() error { return nil }

func (p *ResponseProc) OnEnd(string) {}

func (p *ResponseProc) Done() bool { return p.Response != nil }

// RequestProc reads exactly one message of any name the engine's catalog
// allows. Serving loops use it to wait for the next request.
type RequestProc struct {
	Request *Message
}

func NextRequest() *RequestProc { return &RequestProc{} }

func (p *RequestProc) OnMessage(m *Message) error {
	p.Request = m
	return nil
}

func (p *RequestProc) OnRawDataStart() (io.Writer, error) {
	return nil, protocolErrorf("unexpected raw data while waiting for a request")
}

func (p *RequestProc) OnRawDataEnd() error { return nil }

func (p *RequestProc) OnEnd(string) {}

func (p *RequestProc) Done() bool { return p.Request != nil }
