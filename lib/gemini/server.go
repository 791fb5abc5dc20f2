package gemini

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/util"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ErrLineTooLong is returned when a request line exceeds
// Limits.MaxLineLength.
var ErrLineTooLong = util.ErrLineTooLong

// ErrNoTLSConfig is returned by ListenAndServe without Config.TLSConfig.
var ErrNoTLSConfig = errors.New("no TLS configuration")

// ConnTracker is notified when connections open and close. May be nil.
type ConnTracker interface {
	ConnOpened()
	ConnClosed()
}

// Server accepts client connections and serves one request on each.
type Server struct {
	config  *Config
	handler Handler
	log     logrus.FieldLogger
	tracker ConnTracker
	slots   *semaphore.Weighted

	mu          sync.Mutex
	listener    net.Listener
	connections map[*Connection]struct{}
	wg          sync.WaitGroup
	closed      atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	// done is closed when the server shuts down.
	done chan struct{}
}

// NewServer creates a server dispatching every request to handler.
func NewServer(config *Config, handler Handler, log logrus.FieldLogger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("gemini: nil handler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      config,
		handler:     handler,
		log:         log,
		connections: make(map[*Connection]struct{}),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	if n := config.Limits.MaxConnections; n > 0 {
		s.slots = semaphore.NewWeighted(int64(n))
	}
	return s, nil
}

// SetConnTracker installs t. Call before Serve.
func (s *Server) SetConnTracker(t ConnTracker) {
	s.tracker = t
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// ListenAndServe listens on the configured address with TLS and serves
// clients. It blocks until the server is closed.
func (s *Server) ListenAndServe() error {
	if s.config.TLSConfig == nil {
		return ErrNoTLSConfig
	}
	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(tls.NewListener(listener, s.config.TLSConfig))
}

// Serve accepts connections on the listener and handles each in its own
// goroutine. It blocks until the server is closed. Connections that are
// not *tls.Conn are served without a peer certificate.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	for {
		if s.slots != nil {
			if err := s.slots.Acquire(s.ctx, 1); err != nil {
				return nil // Server was closed
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			s.release()
			if s.closed.Load() {
				return nil // Server was closed
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.WithError(err).Warn("Accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) release() {
	if s.slots != nil {
		s.slots.Release(1)
	}
}

// handleConnection serves exactly one request and closes the connection.
func (s *Server) handleConnection(raw net.Conn) {
	c := NewConnection(raw, s.config.Limits.ReadBufferSize)
	log := s.log.WithField("remote", c.RemoteAddr())

	s.mu.Lock()
	s.connections[c] = struct{}{}
	s.mu.Unlock()
	if s.tracker != nil {
		s.tracker.ConnOpened()
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Handler panic")
		}
		s.mu.Lock()
		delete(s.connections, c)
		s.mu.Unlock()
		c.Close()
		if s.tracker != nil {
			s.tracker.ConnClosed()
		}
		s.release()
		s.wg.Done()
	}()

	var peer *x509.Certificate
	if tlsConn, ok := raw.(*tls.Conn); ok {
		if err := s.handshake(tlsConn); err != nil {
			log.WithError(err).Debug("TLS handshake failed")
			return
		}
		peer = peerCertificate(tlsConn.ConnectionState())
	}
	c.SetState(StateReading)

	w := bufio.NewWriter(raw)
	defer w.Flush()

	if d := s.config.Timeouts.Request; d > 0 {
		if err := c.SetReadDeadline(time.Now().Add(d)); err != nil {
			return
		}
	}
	line, err := util.ReadLine(c.Reader(), s.config.Limits.MaxLineLength)
	if err != nil {
		switch {
		case errors.Is(err, ErrLineTooLong):
			_ = WriteHeader(w, StatusBadRequest, "Request too long")
		case isTimeout(err):
			_ = WriteHeader(w, StatusBadRequest, "Request timed out")
		default:
			log.WithError(err).Debug("Failed to read request")
		}
		return
	}
	_ = c.SetReadDeadline(time.Time{})

	if strings.TrimSpace(line) == "" {
		_ = WriteHeader(w, StatusBadRequest, "Empty request")
		return
	}

	req := &Request{
		Line:       line + "\r\n",
		Peer:       peer,
		RemoteAddr: c.RemoteAddr(),
		ID:         ulid.Make().String(),
		ctx:        s.ctx,
	}

	c.SetState(StateServing)
	s.handler.ServeGemini(w, req)
}

// handshake completes the TLS handshake within Timeouts.Handshake.
func (s *Server) handshake(conn *tls.Conn) error {
	ctx := s.ctx
	if d := s.config.Timeouts.Handshake; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return conn.HandshakeContext(ctx)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Close stops accepting and closes every open client connection.
// Handlers in flight see their connection closed.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)
	s.cancel()

	s.mu.Lock()
	listener := s.listener
	connections := make([]*Connection, 0, len(s.connections))
	for c := range s.connections {
		connections = append(connections, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range connections {
		c.Close()
	}
	return nil
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Done returns a channel that is closed when the server shuts down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}
