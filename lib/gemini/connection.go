package gemini

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// ConnectionState represents the current state of a client connection.
type ConnectionState int

const (
	// StateNew indicates a connection awaiting its TLS handshake.
	StateNew ConnectionState = iota

	// StateReading indicates the handshake succeeded and the request line
	// is being read.
	StateReading

	// StateServing indicates the handler is running.
	StateServing

	// StateClosed indicates the connection has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateReading:
		return "READING"
	case StateServing:
		return "SERVING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection is one accepted client connection.
type Connection struct {
	mu sync.RWMutex

	conn   net.Conn
	reader *bufio.Reader
	state  ConnectionState

	// createdAt is when the connection was accepted.
	createdAt time.Time

	// remoteAddr is cached for logging after close.
	remoteAddr string

	closeOnce sync.Once
}

// NewConnection wraps an accepted net.Conn.
func NewConnection(conn net.Conn, bufferSize int) *Connection {
	remote := ""
	if ra := conn.RemoteAddr(); ra != nil {
		remote = ra.String()
	}
	return &Connection{
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, bufferSize),
		state:      StateNew,
		createdAt:  time.Now(),
		remoteAddr: remote,
	}
}

// Conn returns the underlying net.Conn.
func (c *Connection) Conn() net.Conn {
	return c.conn
}

// Reader returns the buffered reader.
func (c *Connection) Reader() *bufio.Reader {
	return c.reader
}

// State returns the current connection state.
func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState updates the connection state.
func (c *Connection) SetState(state ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// RemoteAddr returns the client's address.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// CreatedAt returns when the connection was accepted.
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.SetState(StateClosed)
		err = c.conn.Close()
	})
	return err
}
