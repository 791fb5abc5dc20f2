// Package samtest provides an in-process fake SAM bridge for tests.
// It speaks enough of SAMv3 (HELLO, SESSION CREATE, STREAM CONNECT,
// NAMING LOOKUP, DEST GENERATE, PING/PONG, QUIT) to drive the proxy
// end to end without an I2P router.
package samtest

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
)

// StreamFunc serves one virtual stream after STREAM STATUS RESULT=OK has
// been written. conn reads through the fake's buffer. The fake closes conn
// when StreamFunc returns.
type StreamFunc func(conn net.Conn, destination string)

// Bridge is a fake SAM bridge listening on a loopback port.
// Configure fields before the first connection is made.
type Bridge struct {
	// Version is reported in HELLO REPLY (default "3.1").
	Version string

	// HelloResult overrides RESULT= of HELLO REPLY (default OK).
	HelloResult string

	// SessionResult overrides RESULT= of SESSION STATUS (default OK).
	SessionResult string

	// ConnectResult chooses RESULT= of STREAM STATUS per destination
	// (default OK for every destination).
	ConnectResult func(destination string) string

	// OnStream serves successful STREAM CONNECTs. If nil the stream is
	// closed immediately.
	OnStream StreamFunc

	// Names answers NAMING LOOKUP; missing names get KEY_NOT_FOUND.
	Names map[string]string

	// BadPong makes PING replies carry the wrong text.
	BadPong atomic.Bool

	// SilentPing makes the fake swallow PING without replying, like a
	// bridge that has stopped responding.
	SilentPing atomic.Bool

	ln       net.Listener
	mu       sync.Mutex
	commands []string
	sessions []*bridgeConn
	conns    atomic.Int32
	wg       sync.WaitGroup
}

type bridgeConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *bridgeConn) writeLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// NewBridge starts a fake bridge and registers its shutdown with t.Cleanup.
func NewBridge(t testing.TB) *Bridge {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &Bridge{ln: ln}
	b.wg.Add(1)
	go b.serve()
	t.Cleanup(b.Close)
	return b
}

// Addr returns the host:port the fake listens on.
func (b *Bridge) Addr() string {
	return b.ln.Addr().String()
}

// Connections returns how many control connections have been accepted.
func (b *Bridge) Connections() int {
	return int(b.conns.Load())
}

// Commands returns every command line received so far, in order.
func (b *Bridge) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

// HasCommand reports whether a received line starts with prefix.
func (b *Bridge) HasCommand(prefix string) bool {
	for _, c := range b.Commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// PingSessions sends an unsolicited PING to every connection that has
// created a session.
func (b *Bridge) PingSessions(text string) {
	b.mu.Lock()
	sessions := append([]*bridgeConn(nil), b.sessions...)
	b.mu.Unlock()
	for _, s := range sessions {
		_ = s.writeLine("PING " + text)
	}
}

// Close stops the listener.
func (b *Bridge) Close() {
	b.ln.Close()
	b.mu.Lock()
	for _, s := range b.sessions {
		s.conn.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bridge) serve() {
	defer b.wg.Done()
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		b.conns.Add(1)
		go b.handle(conn)
	}
}

func (b *Bridge) record(line string) {
	b.mu.Lock()
	b.commands = append(b.commands, line)
	b.mu.Unlock()
}

func (b *Bridge) handle(raw net.Conn) {
	defer raw.Close()
	reader := bufio.NewReader(raw)
	c := &bridgeConn{conn: raw}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		b.record(line)

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case protocol.VerbPing:
			if b.SilentPing.Load() {
				continue
			}
			text := ""
			if len(fields) > 1 {
				text = fields[1]
			}
			if b.BadPong.Load() {
				text = "not-" + text
			}
			_ = c.writeLine(strings.TrimSpace("PONG " + text))
			continue
		case protocol.VerbPong:
			continue
		case protocol.VerbQuit:
			return
		}

		cmd, err := protocol.ParseLine(line)
		if err != nil {
			_ = c.writeLine(`SESSION STATUS RESULT=I2P_ERROR MESSAGE="parse error"`)
			continue
		}

		switch {
		case cmd.Is(protocol.VerbHello, protocol.ActionVersion):
			result := or(b.HelloResult, protocol.ResultOK)
			if result != protocol.ResultOK {
				_ = c.writeLine("HELLO REPLY RESULT=" + result)
				continue
			}
			_ = c.writeLine("HELLO REPLY RESULT=OK VERSION=" + or(b.Version, "3.1"))

		case cmd.Is(protocol.VerbSession, protocol.ActionCreate):
			result := or(b.SessionResult, protocol.ResultOK)
			if result != protocol.ResultOK {
				_ = c.writeLine(`SESSION STATUS RESULT=` + result + ` MESSAGE="session refused"`)
				continue
			}
			b.mu.Lock()
			b.sessions = append(b.sessions, c)
			b.mu.Unlock()
			_ = c.writeLine("SESSION STATUS RESULT=OK DESTINATION=" + FakePrivateKey)

		case cmd.Is(protocol.VerbStream, protocol.ActionConnect):
			dest := cmd.Get("DESTINATION")
			result := protocol.ResultOK
			if b.ConnectResult != nil {
				result = b.ConnectResult(dest)
			}
			if result != protocol.ResultOK {
				_ = c.writeLine(`STREAM STATUS RESULT=` + result + ` MESSAGE="cannot reach ` + dest + `"`)
				continue
			}
			_ = c.writeLine("STREAM STATUS RESULT=OK")
			if b.OnStream != nil {
				b.OnStream(&streamConn{Conn: raw, reader: reader}, dest)
			}
			return

		case cmd.Is(protocol.VerbNaming, protocol.ActionLookup):
			name := cmd.Get("NAME")
			if value, ok := b.Names[name]; ok {
				_ = c.writeLine("NAMING REPLY RESULT=OK NAME=" + name + " VALUE=" + value)
			} else {
				_ = c.writeLine("NAMING REPLY RESULT=KEY_NOT_FOUND NAME=" + name)
			}

		case cmd.Is(protocol.VerbDest, protocol.ActionGenerate):
			_ = c.writeLine("DEST REPLY PUB=" + FakeDestination + " PRIV=" + FakePrivateKey)

		default:
			_ = c.writeLine(cmd.Verb + " STATUS RESULT=OK")
		}
	}
}

type streamConn struct {
	net.Conn
	reader *bufio.Reader
}

func (s *streamConn) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
