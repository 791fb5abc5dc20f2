// Package samclient implements a SAM v3 control connection client.
// A Client owns one TCP connection to the SAM bridge of an I2P router and
// issues strictly synchronous command/reply round trips on it. After a
// successful STREAM CONNECT or STREAM ACCEPT the same socket becomes the
// data path of the virtual stream.
package samclient

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
	"github.com/go-i2p/gemini-sam-proxy/lib/util"
	"github.com/sirupsen/logrus"
)

// DefaultMaxLineLength bounds a single reply line. Replies carrying private
// keys (DEST REPLY, SESSION STATUS) are well under this.
const DefaultMaxLineLength = 65536

// pingProbeWindow is how long CheckPing waits for already-arrived input.
const pingProbeWindow = 5 * time.Millisecond

// quitTimeout bounds the best-effort QUIT written by Close.
const quitTimeout = time.Second

// Client is a SAM control connection.
// Commands are serialized: at most one round trip is in flight at a time.
type Client struct {
	mu sync.Mutex

	conn   net.Conn
	reader *bufio.Reader
	parser *protocol.Parser
	addr   string
	log    logrus.FieldLogger

	// version is the negotiated SAM protocol version.
	version atomic.Value

	// streaming is set once the socket has become a virtual stream; QUIT
	// is then no longer sent on Close.
	streaming atomic.Bool

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// New wraps an established connection to a SAM bridge. No handshake is
// performed.
func New(conn net.Conn, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	addr := ""
	if ra := conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	c := &Client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 4096),
		parser: protocol.NewParser(),
		addr:   addr,
		log:    log.WithField("sam", addr),
	}
	c.version.Store("")
	return c
}

// Dial opens a TCP connection to the SAM bridge at addr.
// No handshake is performed.
func Dial(ctx context.Context, addr string, log logrus.FieldLogger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, util.NewTransportError(addr, "dial", err)
	}
	return New(conn, log), nil
}

// Version returns the SAM version negotiated by Handshake, or "" before it.
func (c *Client) Version() string {
	return c.version.Load().(string)
}

// RemoteAddr returns the SAM bridge address.
func (c *Client) RemoteAddr() string {
	return c.addr
}

// IsOpen reports whether Close has not been called.
func (c *Client) IsOpen() bool {
	return !c.closed.Load()
}

// Conn returns the socket to the SAM bridge. After a successful stream
// command it carries the stream's bytes; any bytes already read past the
// reply line are delivered first.
func (c *Client) Conn() net.Conn {
	return &bufferedConn{Conn: c.conn, reader: c.reader}
}

// SendCommand encodes and sends one command and decodes exactly one reply.
func (c *Client) SendCommand(verb, action string, opts protocol.Options) (*protocol.Command, error) {
	return c.roundTrip(protocol.NewRequest(verb).WithAction(action).WithOptions(opts))
}

// roundTrip writes req and reads one reply line.
func (c *Client) roundTrip(req *protocol.Request) (*protocol.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(req); err != nil {
		return nil, err
	}
	line, err := c.readLineLocked()
	if err != nil {
		return nil, err
	}

	reply, err := c.parser.Parse(line)
	if err != nil {
		return nil, util.NewProtocolError(req.Verb, req.Action, nil, err)
	}
	c.log.WithFields(logrus.Fields{
		"command": req.Verb + " " + req.Action,
		"result":  reply.Result(),
	}).Debug("SAM reply")
	return reply, nil
}

// writeLocked writes one command line. c.mu must be held.
func (c *Client) writeLocked(req *protocol.Request) error {
	if c.closed.Load() {
		return util.ErrClosed
	}
	if _, err := c.conn.Write(req.Bytes()); err != nil {
		return util.NewTransportError(c.addr, "write", err)
	}
	return nil
}

// readLineLocked reads one reply line, enforcing DefaultMaxLineLength.
// c.mu must be held.
func (c *Client) readLineLocked() (string, error) {
	line, err := util.ReadLine(c.reader, DefaultMaxLineLength)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", util.NewTransportError(c.addr, "read", err)
	}
	return line, nil
}

// CheckPing answers a PING the bridge may have sent while the connection
// was idle. It never blocks waiting for input: if nothing has arrived it
// returns immediately. Returns true if a PONG was sent.
func (c *Client) CheckPing() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return false, util.ErrClosed
	}

	if c.reader.Buffered() == 0 {
		ready, err := c.probeLocked()
		if err != nil || !ready {
			return false, err
		}
	}

	line, err := c.readLineLocked()
	if err != nil {
		return false, err
	}

	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.EqualFold(fields[0], protocol.VerbPing) {
		c.log.WithField("line", line).Debug("Discarding unsolicited SAM line")
		return false, nil
	}

	text := ""
	if len(fields) > 1 {
		text = fields[1]
	}
	if err := c.writeLocked(protocol.Pong(text)); err != nil {
		return false, err
	}
	c.log.WithField("text", text).Debug("Answered SAM PING")
	return true, nil
}

// probeLocked reports whether input is available without blocking beyond
// pingProbeWindow. c.mu must be held.
func (c *Client) probeLocked() (bool, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(pingProbeWindow)); err != nil {
		return false, util.NewTransportError(c.addr, "set deadline", err)
	}
	_, err := c.reader.Peek(1)
	if resetErr := c.conn.SetReadDeadline(time.Time{}); resetErr != nil && err == nil {
		err = resetErr
	}
	if err == nil {
		return true, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, nil
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return false, util.NewTransportError(c.addr, "read", err)
}

// SendPing sends PING <text> and waits for exactly one reply line.
// It returns true only if the reply is PONG with the same text. A mismatched
// reply returns false without error; an I/O failure returns the error.
// An empty text is replaced with the current Unix time.
func (c *Client) SendPing(text string) (bool, error) {
	if text == "" {
		text = strconv.FormatInt(time.Now().Unix(), 10)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(protocol.Ping(text)); err != nil {
		return false, err
	}
	line, err := c.readLineLocked()
	if err != nil {
		return false, err
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.EqualFold(fields[0], protocol.VerbPong) {
		return false, nil
	}
	return fields[1] == text, nil
}

// Close sends QUIT (best effort) and closes the connection.
// It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		// A round trip blocked in a read holds mu; skip QUIT rather than wait.
		if c.mu.TryLock() {
			if !c.streaming.Load() {
				_ = c.conn.SetWriteDeadline(time.Now().Add(quitTimeout))
				_ = c.writeLocked(protocol.Quit())
			}
			c.closed.Store(true)
			c.mu.Unlock()
		} else {
			c.closed.Store(true)
		}
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// bufferedConn is a net.Conn whose reads drain a bufio.Reader first.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

// Read reads from the buffered reader, which falls through to the socket.
func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.reader.Read(p)
}
