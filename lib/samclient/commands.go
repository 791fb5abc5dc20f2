package samclient

import (
	"net"

	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
	"github.com/go-i2p/gemini-sam-proxy/lib/util"
)

// Handshake performs HELLO VERSION with the given options (MIN, MAX,
// USER, PASSWORD). It fails with util.ErrHandshakeFailed unless the reply
// carries RESULT=OK, and only then records the negotiated version.
func (c *Client) Handshake(opts protocol.Options) (string, *protocol.Command, error) {
	reply, err := c.roundTrip(protocol.Hello(opts))
	if err != nil {
		return "", nil, err
	}
	if !reply.Is(protocol.VerbHello, protocol.ActionReply) || !reply.OK() {
		return "", reply, util.NewProtocolError(protocol.VerbHello, protocol.ActionVersion, reply, util.ErrHandshakeFailed)
	}

	version := reply.Get(protocol.ArgVersion)
	c.version.Store(version)
	return version, reply, nil
}

// SessionCreate sends SESSION CREATE. On RESULT=OK it returns the
// DESTINATION= value (the session's private key); otherwise it fails with
// util.ErrSessionCreateFailed.
func (c *Client) SessionCreate(opts protocol.Options) (string, *protocol.Command, error) {
	return c.sessionCommand(protocol.ActionCreate, opts, util.ErrSessionCreateFailed)
}

// SessionAdd sends SESSION ADD to attach a subsession to a PRIMARY
// session. Returns the DESTINATION= value on success.
func (c *Client) SessionAdd(opts protocol.Options) (string, *protocol.Command, error) {
	return c.sessionCommand(protocol.ActionAdd, opts, util.ErrCommandFailed)
}

// SessionRemove sends SESSION REMOVE for the subsession named by ID=.
func (c *Client) SessionRemove(opts protocol.Options) (*protocol.Command, error) {
	_, reply, err := c.sessionCommand(protocol.ActionRemove, opts, util.ErrCommandFailed)
	return reply, err
}

func (c *Client) sessionCommand(action string, opts protocol.Options, failure error) (string, *protocol.Command, error) {
	reply, err := c.SendCommand(protocol.VerbSession, action, opts)
	if err != nil {
		return "", nil, err
	}
	if !reply.OK() {
		return "", reply, util.NewProtocolError(protocol.VerbSession, action, reply, failure)
	}
	return reply.Get(protocol.ArgDestination), reply, nil
}

// StreamConnect sends STREAM CONNECT. ok reports RESULT=OK; the returned
// conn is the socket which, when ok, now carries the virtual stream.
// The socket is never closed here regardless of outcome: the caller owns
// it (typically through Client.Close). err is set only for transport or
// decoding failures.
func (c *Client) StreamConnect(opts protocol.Options) (bool, net.Conn, *protocol.Command, error) {
	return c.streamCommand(protocol.ActionConnect, opts)
}

// StreamAccept sends STREAM ACCEPT. Semantics match StreamConnect; when
// ok, the next line on the returned conn is the peer's destination.
func (c *Client) StreamAccept(opts protocol.Options) (bool, net.Conn, *protocol.Command, error) {
	return c.streamCommand(protocol.ActionAccept, opts)
}

func (c *Client) streamCommand(action string, opts protocol.Options) (bool, net.Conn, *protocol.Command, error) {
	reply, err := c.SendCommand(protocol.VerbStream, action, opts)
	if err != nil {
		return false, c.Conn(), nil, err
	}
	ok := reply.OK()
	if ok {
		c.streaming.Store(true)
	}
	return ok, c.Conn(), reply, nil
}

// StreamForward sends STREAM FORWARD (PORT=, HOST=). The control socket
// must stay open for the forward to remain active.
func (c *Client) StreamForward(opts protocol.Options) (*protocol.Command, error) {
	reply, err := c.SendCommand(protocol.VerbStream, protocol.ActionForward, opts)
	if err != nil {
		return nil, err
	}
	if !reply.OK() {
		return reply, util.NewProtocolError(protocol.VerbStream, protocol.ActionForward, reply, util.ErrCommandFailed)
	}
	return reply, nil
}

// NamingResult is the payload of a NAMING REPLY.
type NamingResult struct {
	// Name is the NAME= argument echoed by the bridge.
	Name string
	// Value is the VALUE= argument: the Base64 destination.
	Value string
}

// NamingLookup sends NAMING LOOKUP NAME=<name>. On RESULT=OK it returns
// NAME= and VALUE=; otherwise it fails with util.ErrLookupFailed.
func (c *Client) NamingLookup(name string) (*NamingResult, *protocol.Command, error) {
	reply, err := c.SendCommand(protocol.VerbNaming, protocol.ActionLookup, protocol.Options{{Key: "NAME", Value: name}})
	if err != nil {
		return nil, nil, err
	}
	if !reply.OK() {
		return nil, reply, util.NewProtocolError(protocol.VerbNaming, protocol.ActionLookup, reply, util.ErrLookupFailed)
	}
	return &NamingResult{
		Name:  reply.Get(protocol.ArgName),
		Value: reply.Get(protocol.ArgValue),
	}, reply, nil
}

// DestGenerate sends DEST GENERATE (SIGNATURE_TYPE=) and returns the PUB=
// and PRIV= values. DEST REPLY carries no RESULT; a reply without PUB= is
// treated as failure.
func (c *Client) DestGenerate(opts protocol.Options) (pub, priv string, reply *protocol.Command, err error) {
	reply, err = c.SendCommand(protocol.VerbDest, protocol.ActionGenerate, opts)
	if err != nil {
		return "", "", nil, err
	}
	pub = reply.Get(protocol.ArgPub)
	priv = reply.Get(protocol.ArgPriv)
	if pub == "" {
		return "", "", reply, util.NewProtocolError(protocol.VerbDest, protocol.ActionGenerate, reply, util.ErrCommandFailed)
	}
	return pub, priv, reply, nil
}
