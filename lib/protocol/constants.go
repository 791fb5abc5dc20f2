// Package protocol implements encoding and decoding of SAM v3 control
// protocol lines as spoken by an I2P router's SAM bridge.
// See https://geti2p.net/en/docs/api/samv3 for the protocol reference.
package protocol

// SAM Protocol Verbs per SAM 3.0-3.3 specification.
const (
	VerbHello   = "HELLO"
	VerbSession = "SESSION"
	VerbStream  = "STREAM"
	VerbDest    = "DEST"
	VerbNaming  = "NAMING"
	VerbPing    = "PING"
	VerbPong    = "PONG"
	VerbQuit    = "QUIT"
)

// SAM Protocol Actions per SAM 3.0-3.3 specification.
const (
	ActionVersion  = "VERSION"
	ActionReply    = "REPLY"
	ActionStatus   = "STATUS"
	ActionCreate   = "CREATE"
	ActionAdd      = "ADD"
	ActionRemove   = "REMOVE"
	ActionConnect  = "CONNECT"
	ActionAccept   = "ACCEPT"
	ActionForward  = "FORWARD"
	ActionGenerate = "GENERATE"
	ActionLookup   = "LOOKUP"
)

// SAM Result Codes per SAM 3.0-3.3 specification.
// These are returned in the RESULT= field of replies.
const (
	ResultOK               = "OK"
	ResultAlreadyAccepting = "ALREADY_ACCEPTING"
	ResultCantReachPeer    = "CANT_REACH_PEER"
	ResultDuplicatedDest   = "DUPLICATED_DEST"
	ResultDuplicatedID     = "DUPLICATED_ID"
	ResultI2PError         = "I2P_ERROR"
	ResultInvalidKey       = "INVALID_KEY"
	ResultInvalidID        = "INVALID_ID"
	ResultKeyNotFound      = "KEY_NOT_FOUND"
	ResultPeerNotFound     = "PEER_NOT_FOUND"
	ResultTimeout          = "TIMEOUT"
	ResultNoVersion        = "NOVERSION"
	ResultLeasesetNotFound = "LEASESET_NOT_FOUND"
)

// Reply argument keys. Keys are lowercased by the parser, so these are
// the lowercase forms.
const (
	ArgResult      = "result"
	ArgMessage     = "message"
	ArgVersion     = "version"
	ArgDestination = "destination"
	ArgName        = "name"
	ArgValue       = "value"
	ArgPub         = "pub"
	ArgPriv        = "priv"
)

// Session styles. Only STREAM sessions are created by the proxy.
const (
	StyleStream = "STREAM"
)

// DestinationTransient asks the router to generate a fresh destination
// for the session.
const DestinationTransient = "TRANSIENT"

// DefaultSAMPort is the standard SAM bridge TCP port.
const DefaultSAMPort = 7656

// Port validation constants.
const (
	MinPort = 0
	MaxPort = 65535
)

// Signature types accepted in SIGNATURE_TYPE=, by I2P name and number.
// All clients should use Ed25519 for new destinations.
var SignatureTypes = map[string]int{
	"DSA_SHA1":               0,
	"ECDSA_SHA256_P256":      1,
	"ECDSA_SHA384_P384":      2,
	"ECDSA_SHA512_P521":      3,
	"RSA_SHA256_2048":        4,
	"RSA_SHA384_3072":        5,
	"RSA_SHA512_4096":        6,
	"EdDSA_SHA512_Ed25519":   7,
	"EdDSA_SHA512_Ed25519ph": 8,
}

// DefaultSignatureType is Ed25519 per SAM specification recommendation.
const DefaultSignatureType = "EdDSA_SHA512_Ed25519"

// Tunnel option bounds enforced by I2P routers.
const (
	MaxTunnelLength   = 7
	MaxTunnelQuantity = 16
)

// SAM Version constants.
const (
	SAMVersionMin = "3.0"
	SAMVersionMax = "3.3"
)
