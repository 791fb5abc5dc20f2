package gemini

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Request is one Gemini request as received on the wire.
type Request struct {
	// Line is the request line as it is forwarded, always terminated by
	// CRLF: a line the client ended with a bare LF is rewritten to CRLF.
	Line string

	// Peer is the client's certificate, or nil if it presented none.
	Peer *x509.Certificate

	// RemoteAddr is the client's network address.
	RemoteAddr string

	// ID identifies the request in logs.
	ID string

	ctx context.Context
}

// Context returns the request context, cancelled when the server closes.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// WithContext returns a shallow copy of r with its context changed to ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// URL parses the request line. The URL must be absolute and carry a host.
func (r *Request) URL() (*url.URL, error) {
	raw := strings.TrimRight(r.Line, "\r\n")
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("request %q has no host", raw)
	}
	return u, nil
}

// Handler responds to a Gemini request by writing a header and body to w.
// w is flushed and the connection closed after ServeGemini returns.
type Handler interface {
	ServeGemini(w io.Writer, r *Request)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(w io.Writer, r *Request)

// ServeGemini calls f(w, r).
func (f HandlerFunc) ServeGemini(w io.Writer, r *Request) {
	f(w, r)
}
