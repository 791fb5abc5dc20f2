package bridge

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-i2p/gemini-sam-proxy/lib/gemini"
	"github.com/go-i2p/gemini-sam-proxy/lib/identity"
	"github.com/go-i2p/gemini-sam-proxy/lib/metrics"
	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
	"github.com/go-i2p/gemini-sam-proxy/lib/resolver"
	"github.com/go-i2p/gemini-sam-proxy/lib/samclient"
	"github.com/go-i2p/gemini-sam-proxy/lib/samtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

var (
	testIdentityOnce sync.Once
	testIdentity     *identity.Identity
	testIdentityErr  error
)

func remoteIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	testIdentityOnce.Do(func() {
		opts := identity.DefaultOptions()
		opts.KeySize = identity.MinKeySize
		opts.CommonName = "example.i2p"
		testIdentity, testIdentityErr = identity.Generate(opts)
	})
	if testIdentityErr != nil {
		t.Fatalf("identity.Generate failed: %v", testIdentityErr)
	}
	return testIdentity
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeSession struct {
	healthy  bool
	failures uint64
}

func (s *fakeSession) ID() string       { return "GeminiProxy" }
func (s *fakeSession) Version() string  { return "3.1" }
func (s *fakeSession) Healthy() bool    { return s.healthy }
func (s *fakeSession) Failures() uint64 { return s.failures }

// countingDialer counts dials before delegating.
type countingDialer struct {
	next  Dialer
	dials atomic.Int32
}

func (d *countingDialer) DialHandshake(ctx context.Context) (*samclient.Client, error) {
	d.dials.Add(1)
	return d.next.DialHandshake(ctx)
}

// remoteRequest is what the fake Gemini server saw.
type remoteRequest struct {
	dest       string
	line       string
	serverName string
}

// geminiServer returns an OnStream func that runs a TLS Gemini server
// answering every request with response.
func geminiServer(t *testing.T, response string, seen chan<- remoteRequest) samtest.StreamFunc {
	cert := remoteIdentity(t).TLSCertificate()
	return func(conn net.Conn, dest string) {
		srv := tls.Server(conn, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		defer srv.Close()
		if err := srv.Handshake(); err != nil {
			return
		}
		line, err := bufio.NewReader(srv).ReadString('\n')
		if err != nil {
			return
		}
		seen <- remoteRequest{dest: dest, line: line, serverName: srv.ConnectionState().ServerName}
		_, _ = io.WriteString(srv, response)
	}
}

func newHandler(b *samtest.Bridge) (*Handler, *countingDialer) {
	d := &countingDialer{next: &samclient.Dialer{Addr: b.Addr(), Logger: quietLogger()}}
	return NewHandler(&fakeSession{healthy: true}, d, quietLogger()), d
}

func serve(h *Handler, line string) string {
	var buf bytes.Buffer
	h.ServeGemini(&buf, &gemini.Request{Line: line, RemoteAddr: "127.0.0.1:1", ID: "test"})
	return buf.String()
}

func TestHandler_Status(t *testing.T) {
	b := samtest.NewBridge(t)
	h, d := newHandler(b)

	got := serve(h, "gemini://status/\r\n")

	want := "20 text/gemini\r\n# Proxy status\r\nThe proxy works!\r\nSAM API: 3.1\r\n"
	if !strings.HasPrefix(got, want) {
		t.Errorf("status page = %q, want prefix %q", got, want)
	}
	for _, line := range []string{"Session: GeminiProxy\r\n", "Keepalive: ok\r\n", "Requests: 1\r\n"} {
		if !strings.Contains(got, line) {
			t.Errorf("status page = %q, want line %q", got, line)
		}
	}
	if n := d.dials.Load(); n != 0 {
		t.Errorf("dials = %d, want 0", n)
	}
	if n := b.Connections(); n != 0 {
		t.Errorf("bridge connections = %d, want 0", n)
	}
}

func TestHandler_StatusKeepaliveFailing(t *testing.T) {
	h := NewHandler(&fakeSession{failures: 3}, nil, quietLogger())
	got := serve(h, "gemini://status/\r\n")
	if !strings.Contains(got, "Keepalive: failing (3 failed probes)\r\n") {
		t.Errorf("status page = %q, want failing keepalive", got)
	}
}

func TestHandler_BadRequest(t *testing.T) {
	h := NewHandler(&fakeSession{}, nil, quietLogger())

	tests := []struct {
		name string
		line string
	}{
		{name: "no host", line: "gemini:///path\r\n"},
		{name: "relative", line: "example.i2p/\r\n"},
		{name: "unparseable", line: "gemini://exa mple%zz/\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serve(h, tt.line)
			if !strings.HasPrefix(got, "59 ") || !strings.HasSuffix(got, "\r\n") {
				t.Errorf("ServeGemini(%q) = %q, want a 59 header", tt.line, got)
			}
			if strings.Count(got, "\r\n") != 1 {
				t.Errorf("ServeGemini(%q) = %q, want exactly one line", tt.line, got)
			}
		})
	}
}

func TestHandler_StreamConnectRefused(t *testing.T) {
	b := samtest.NewBridge(t)
	b.ConnectResult = func(string) string { return protocol.ResultCantReachPeer }
	h, _ := newHandler(b)

	got := serve(h, "gemini://example.i2p/\r\n")

	if want := "53 Failed to connect to example.i2p\r\n"; got != want {
		t.Errorf("ServeGemini() = %q, want %q", got, want)
	}
}

func TestHandler_HandshakeFailed(t *testing.T) {
	b := samtest.NewBridge(t)
	b.HelloResult = protocol.ResultNoVersion
	h, _ := newHandler(b)

	got := serve(h, "gemini://example.i2p/\r\n")

	if !strings.HasPrefix(got, "53 ") || strings.Count(got, "\r\n") != 1 {
		t.Errorf("ServeGemini() = %q, want a single 53 header", got)
	}
	if b.HasCommand("STREAM CONNECT") {
		t.Error("STREAM CONNECT sent after failed handshake")
	}
}

func TestHandler_BridgeUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	h := NewHandler(&fakeSession{}, &samclient.Dialer{Addr: addr, Logger: quietLogger()}, quietLogger())
	got := serve(h, "gemini://example.i2p/\r\n")
	if !strings.HasPrefix(got, "53 ") {
		t.Errorf("ServeGemini() = %q, want 53", got)
	}
}

func TestHandler_Proxy(t *testing.T) {
	const response = "20 text/gemini\r\n# Hello from I2P\r\n=> gemini://example.i2p/next Next\r\n"

	b := samtest.NewBridge(t)
	seen := make(chan remoteRequest, 1)
	b.OnStream = geminiServer(t, response, seen)
	h, _ := newHandler(b)

	line := "gemini://example.i2p/path?q=1\r\n"
	got := serve(h, line)

	if got != response {
		t.Errorf("ServeGemini() = %q, want %q", got, response)
	}
	select {
	case req := <-seen:
		if req.line != line {
			t.Errorf("remote request line = %q, want %q", req.line, line)
		}
		if req.dest != "example.i2p" {
			t.Errorf("STREAM CONNECT destination = %q, want example.i2p", req.dest)
		}
		if req.serverName != "example.i2p" {
			t.Errorf("TLS ServerName = %q, want example.i2p", req.serverName)
		}
	default:
		t.Fatal("remote server saw no request")
	}
	if !b.HasCommand("STREAM CONNECT ID=GeminiProxy DESTINATION=example.i2p") {
		t.Errorf("bridge commands = %q, want STREAM CONNECT with session ID", b.Commands())
	}
	if h.BytesProxied() != uint64(len(response)) {
		t.Errorf("BytesProxied() = %d, want %d", h.BytesProxied(), len(response))
	}
}

func TestHandler_ProxyLargeBody(t *testing.T) {
	body := strings.Repeat("0123456789abcdef", 64*1024)
	response := "20 application/octet-stream\r\n" + body

	b := samtest.NewBridge(t)
	b.OnStream = geminiServer(t, response, make(chan remoteRequest, 1))
	h, _ := newHandler(b)

	got := serve(h, "gemini://example.i2p/big\r\n")
	if got != response {
		t.Errorf("ServeGemini() returned %d bytes, want %d", len(got), len(response))
	}
}

func TestHandler_TLSFailure(t *testing.T) {
	b := samtest.NewBridge(t)
	b.OnStream = func(conn net.Conn, _ string) {
		_, _ = io.WriteString(conn, "this is not TLS\r\n")
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h, _ := newHandler(b)
	h.WithMetrics(m)

	got := serve(h, "gemini://example.i2p/\r\n")

	if !strings.HasPrefix(got, "53 ") || strings.Count(got, "\r\n") != 1 {
		t.Errorf("ServeGemini() = %q, want a single 53 header", got)
	}
	if v := testutil.ToFloat64(m.Requests.WithLabelValues(metrics.OutcomeFailed)); v != 1 {
		t.Errorf("failed requests = %v, want 1", v)
	}
}

func TestHandler_Metrics(t *testing.T) {
	b := samtest.NewBridge(t)
	b.OnStream = geminiServer(t, "20 text/plain\r\nok", make(chan remoteRequest, 1))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h, _ := newHandler(b)
	h.WithMetrics(m)

	serve(h, "gemini://status/\r\n")
	serve(h, "gemini://example.i2p/\r\n")
	serve(h, "not a url\r\n")

	tests := []struct {
		outcome string
		want    float64
	}{
		{metrics.OutcomeStatus, 1},
		{metrics.OutcomeProxied, 1},
		{metrics.OutcomeBadRequest, 1},
		{metrics.OutcomeRefused, 0},
	}
	for _, tt := range tests {
		if v := testutil.ToFloat64(m.Requests.WithLabelValues(tt.outcome)); v != tt.want {
			t.Errorf("requests{outcome=%q} = %v, want %v", tt.outcome, v, tt.want)
		}
	}
	if v := testutil.ToFloat64(m.BytesProxied); v != float64(len("20 text/plain\r\nok")) {
		t.Errorf("bytes proxied = %v, want %d", v, len("20 text/plain\r\nok"))
	}
}

func TestHandler_Resolver(t *testing.T) {
	const response = "20 text/gemini\r\nresolved\r\n"

	b := samtest.NewBridge(t)
	b.Names = map[string]string{"example.i2p": samtest.FakeDestination}
	seen := make(chan remoteRequest, 1)
	b.OnStream = geminiServer(t, response, seen)
	h, _ := newHandler(b)
	r := resolver.New(0, 0, quietLogger(), nil)
	h.WithResolver(r)

	if got := serve(h, "gemini://example.i2p/\r\n"); got != response {
		t.Errorf("ServeGemini() = %q, want %q", got, response)
	}
	req := <-seen
	if req.dest != samtest.FakeDestination {
		t.Errorf("STREAM CONNECT destination has %d bytes, want the resolved destination", len(req.dest))
	}
	if req.serverName != "example.i2p" {
		t.Errorf("TLS ServerName = %q, want the host name", req.serverName)
	}
	if r.Len() != 1 {
		t.Errorf("resolver Len() = %d, want 1", r.Len())
	}
}

func TestHandler_ResolverMissingName(t *testing.T) {
	b := samtest.NewBridge(t)
	h, _ := newHandler(b)
	h.WithResolver(resolver.New(0, 0, quietLogger(), nil))

	got := serve(h, "gemini://missing.i2p/\r\n")

	if want := "53 Failed to resolve missing.i2p\r\n"; got != want {
		t.Errorf("ServeGemini() = %q, want %q", got, want)
	}
	if b.HasCommand("STREAM CONNECT") {
		t.Error("STREAM CONNECT sent for an unresolved name")
	}
}

func TestHandler_ConcurrentRequests(t *testing.T) {
	cert := remoteIdentity(t).TLSCertificate()
	b := samtest.NewBridge(t)
	b.OnStream = func(conn net.Conn, _ string) {
		srv := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
		defer srv.Close()
		line, err := bufio.NewReader(srv).ReadString('\n')
		if err != nil {
			return
		}
		_, _ = io.WriteString(srv, "20 text/plain\r\n"+strings.TrimSpace(line))
	}
	h, _ := newHandler(b)

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = serve(h, "gemini://example.i2p/"+strings.Repeat("x", i)+"\r\n")
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		want := "20 text/plain\r\ngemini://example.i2p/" + strings.Repeat("x", i)
		if got != want {
			t.Errorf("request %d = %q, want %q", i, got, want)
		}
	}
	if got := h.Requests(); got != n {
		t.Errorf("Requests() = %d, want %d", got, n)
	}
}

func TestClientTLSConfig(t *testing.T) {
	cfg := ClientTLSConfig("example.i2p")
	if cfg.ServerName != "example.i2p" {
		t.Errorf("ServerName = %q, want example.i2p", cfg.ServerName)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify = false, want true")
	}
	if ClientTLSConfig("a") == ClientTLSConfig("a") {
		t.Error("ClientTLSConfig() returned a shared config")
	}
}
