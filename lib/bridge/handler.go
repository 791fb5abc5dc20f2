// Package bridge forwards Gemini requests into I2P.
//
// Each request gets its own SAM control connection. After STREAM CONNECT
// succeeds that socket carries the virtual stream, a TLS client session is
// opened over it, the request line is written and the remote response is
// copied back to the Gemini client.
package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-i2p/gemini-sam-proxy/lib/gemini"
	"github.com/go-i2p/gemini-sam-proxy/lib/metrics"
	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
	"github.com/go-i2p/gemini-sam-proxy/lib/resolver"
	"github.com/go-i2p/gemini-sam-proxy/lib/samclient"
	"github.com/go-i2p/gemini-sam-proxy/lib/util"
	"github.com/sirupsen/logrus"
)

// StatusHost is the pseudo-host answered locally with a status page.
const StatusHost = "status"

// Session is the long-lived SAM session requests are routed through.
// *session.Manager implements it.
type Session interface {
	ID() string
	Version() string
	Healthy() bool
	Failures() uint64
}

// Dialer opens a handshaken SAM control connection.
// *samclient.Dialer implements it.
type Dialer interface {
	DialHandshake(ctx context.Context) (*samclient.Client, error)
}

// Handler is the gemini.Handler that bridges requests into I2P.
type Handler struct {
	session  Session
	dialer   Dialer
	resolver *resolver.Resolver
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	started  time.Time
	requests atomic.Uint64
	proxied  atomic.Uint64
	bytes    atomic.Uint64
}

var _ gemini.Handler = (*Handler)(nil)

// NewHandler returns a Handler routing through sess. A nil log uses the
// logrus standard logger.
func NewHandler(sess Session, dialer Dialer, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		session: sess,
		dialer:  dialer,
		log:     log,
		started: time.Now(),
	}
}

// WithResolver enables NAMING LOOKUP of non-b32 hosts before STREAM
// CONNECT. Without a resolver the host name is passed to the bridge as is.
func (h *Handler) WithResolver(r *resolver.Resolver) *Handler {
	h.resolver = r
	return h
}

// WithMetrics records request outcomes in m.
func (h *Handler) WithMetrics(m *metrics.Metrics) *Handler {
	h.metrics = m
	return h
}

// Requests returns the number of requests handled.
func (h *Handler) Requests() uint64 {
	return h.requests.Load()
}

// BytesProxied returns the number of response bytes copied from I2P.
func (h *Handler) BytesProxied() uint64 {
	return h.bytes.Load()
}

// ServeGemini implements gemini.Handler.
func (h *Handler) ServeGemini(w io.Writer, r *gemini.Request) {
	h.requests.Add(1)
	log := h.log.WithFields(logrus.Fields{
		"remote":     r.RemoteAddr,
		"request_id": r.ID,
	})

	u, err := r.URL()
	if err != nil {
		log.WithError(err).Debug("Bad request")
		h.metrics.RecordRequest(metrics.OutcomeBadRequest)
		_ = gemini.WriteHeader(w, gemini.StatusBadRequest, gemini.SanitizeMeta(err.Error()))
		return
	}
	host := u.Hostname()
	log = log.WithField("host", host)

	if host == StatusHost {
		h.writeStatus(w)
		h.metrics.RecordRequest(metrics.OutcomeStatus)
		return
	}

	log.Debug("Proxying request")
	written, err := h.proxy(r.Context(), w, r.Line, host, log)
	switch {
	case err == nil:
		h.proxied.Add(1)
		h.metrics.RecordRequest(metrics.OutcomeProxied)
		log.WithField("bytes", written).Debug("Request proxied")
	case written > 0:
		// The response header is already out; nothing more can be said.
		h.metrics.RecordRequest(metrics.OutcomeFailed)
		log.WithError(err).WithField("bytes", written).Warn("Response truncated")
	default:
		outcome := metrics.OutcomeFailed
		if isRefused(err) {
			outcome = metrics.OutcomeRefused
		}
		h.metrics.RecordRequest(outcome)
		log.WithError(err).Info("Request failed")
		_ = gemini.WriteHeader(w, gemini.StatusProxyRequestRefused, failureMeta(err))
	}
}

// proxy performs one request over a fresh control connection and returns
// the number of response bytes written to w.
func (h *Handler) proxy(ctx context.Context, w io.Writer, line, host string, log logrus.FieldLogger) (int64, error) {
	client, err := h.dialer.DialHandshake(ctx)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	dest := host
	if h.resolver != nil {
		if dest, err = h.resolver.Resolve(client, host); err != nil {
			return 0, &refusedError{meta: "Failed to resolve " + host, err: err}
		}
	}

	begin := time.Now()
	ok, conn, reply, err := client.StreamConnect(protocol.Options{
		{Key: "ID", Value: h.session.ID()},
		{Key: "DESTINATION", Value: dest},
	})
	h.metrics.RecordStreamConnect(time.Since(begin))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &refusedError{
			meta: "Failed to connect to " + host,
			err:  util.NewProtocolError(protocol.VerbStream, protocol.ActionConnect, reply, util.ErrStreamConnectFailed),
		}
	}
	log.Debug("Stream connected")

	secure := tls.Client(conn, ClientTLSConfig(host))
	defer secure.Close()
	stop := context.AfterFunc(ctx, func() { secure.Close() })
	defer stop()

	if err := secure.HandshakeContext(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", util.ErrTLSFailure, err)
	}
	if _, err := io.WriteString(secure, line); err != nil {
		return 0, util.NewTransportError(host, "write request", err)
	}

	n, err := io.Copy(w, secure)
	h.bytes.Add(uint64(n))
	h.metrics.RecordBytes(n)
	if err != nil {
		return n, util.NewTransportError(host, "copy response", err)
	}
	return n, nil
}

func (h *Handler) writeStatus(w io.Writer) {
	_ = gemini.WriteHeader(w, gemini.StatusSuccess, "text/gemini")
	lines := []string{
		"# Proxy status",
		"The proxy works!",
		"SAM API: " + h.session.Version(),
		"Session: " + h.session.ID(),
		"Keepalive: " + keepaliveState(h.session),
		"Started: " + humanize.Time(h.started),
		"Requests: " + humanize.Comma(int64(h.requests.Load())),
		"Proxied: " + humanize.Comma(int64(h.proxied.Load())) + " (" + humanize.Bytes(h.bytes.Load()) + ")",
	}
	for _, l := range lines {
		_, _ = io.WriteString(w, l+"\r\n")
	}
}

func keepaliveState(s Session) string {
	if s.Healthy() {
		return "ok"
	}
	return fmt.Sprintf("failing (%d failed probes)", s.Failures())
}

// refusedError carries the exact meta line reported to the client.
type refusedError struct {
	meta string
	err  error
}

func (e *refusedError) Error() string { return e.meta + ": " + e.err.Error() }

func (e *refusedError) Unwrap() error { return e.err }

func isRefused(err error) bool {
	var r *refusedError
	return errors.As(err, &r)
}

func failureMeta(err error) string {
	var r *refusedError
	if errors.As(err, &r) {
		return r.meta
	}
	return gemini.SanitizeMeta(err.Error())
}
