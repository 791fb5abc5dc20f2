package samclient

import (
	"context"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
	"github.com/sirupsen/logrus"
)

// DefaultAddr is the standard SAM bridge address.
const DefaultAddr = "127.0.0.1:7656"

// Dialer opens control connections to one SAM bridge.
// The zero value dials DefaultAddr without a timeout.
type Dialer struct {
	// Addr is the SAM bridge host:port.
	Addr string

	// Timeout bounds the TCP connect only (0 = no limit). Round trips on
	// the resulting Client are never timed out.
	Timeout time.Duration

	// HelloOptions are sent with HELLO VERSION (MIN, MAX, USER, PASSWORD).
	HelloOptions protocol.Options

	// Logger receives debug logs of every round trip.
	Logger logrus.FieldLogger
}

// Dial opens a new control connection. No handshake is performed.
func (d *Dialer) Dial(ctx context.Context) (*Client, error) {
	addr := d.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	return Dial(ctx, addr, d.Logger)
}

// DialHandshake opens a new control connection and performs HELLO VERSION
// with d.HelloOptions. The connection is closed if the handshake fails.
func (d *Dialer) DialHandshake(ctx context.Context) (*Client, error) {
	c, err := d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if _, _, err := c.Handshake(d.HelloOptions); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
