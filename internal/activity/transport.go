package activity

import (
	"io"
	"net/http"
	"sync"
)

// Transport is an http.RoundTripper that counts every request as one
// operation. The operation ends when the round trip fails or when the
// response body is closed or fully read, whichever happens first.
// Protocol upgrades end at the handshake and keep their raw connection as
// the body.
type Transport struct {
	// Base is the underlying transport. nil means http.DefaultTransport.
	Base    http.RoundTripper
	Counter *Counter
}

// NewTransport wraps base so its requests drive c.
func NewTransport(base http.RoundTripper, c *Counter) *Transport {
	return &Transport{Base: base, Counter: c}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	t.Counter.Begin()
	resp, err := base.RoundTrip(req)
	if err != nil {
		t.Counter.End()
		return nil, err
	}

	if resp.StatusCode == http.StatusSwitchingProtocols || resp.Body == nil || resp.Body == http.NoBody {
		t.Counter.End()
		return resp, nil
	}

	resp.Body = &trackedBody{ReadCloser: resp.Body, end: t.Counter.End}
	return resp, nil
}

// trackedBody calls end exactly once, on EOF, read error or Close.
type trackedBody struct {
	io.ReadCloser
	once sync.Once
	end  func()
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil {
		b.done()
	}
	return n, err
}

func (b *trackedBody) Close() error {
	err := b.ReadCloser.Close()
	b.done()
	return err
}

func (b *trackedBody) done() {
	b.once.Do(b.end)
}
