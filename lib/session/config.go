package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/protocol"
)

// Default values for session configuration.
const (
	// DefaultID is the session nickname.
	DefaultID = "GeminiProxy"

	// DefaultTunnelLength provides reasonable anonymity.
	DefaultTunnelLength = 3

	// DefaultTunnelQuantity is the number of tunnels in each direction.
	DefaultTunnelQuantity = 2

	// DefaultBackupQuantity is the number of standby tunnels in each direction.
	DefaultBackupQuantity = 1

	// DefaultInterval is the keepalive period.
	DefaultInterval = 10 * time.Second
)

// Config holds the parameters sent with SESSION CREATE plus the keepalive
// period. It is read-only once the session has been started.
type Config struct {
	// ID is the session nickname referenced by every STREAM CONNECT.
	ID string `yaml:"id"`

	// SignatureType is a signature type name or number, e.g.
	// EdDSA_SHA512_Ed25519 or 7.
	SignatureType string `yaml:"signature_type"`

	InboundLength          int `yaml:"inbound_length"`
	OutboundLength         int `yaml:"outbound_length"`
	InboundQuantity        int `yaml:"inbound_quantity"`
	OutboundQuantity       int `yaml:"outbound_quantity"`
	InboundBackupQuantity  int `yaml:"inbound_backup_quantity"`
	OutboundBackupQuantity int `yaml:"outbound_backup_quantity"`

	// Interval is the keepalive period on the session's control connection.
	Interval time.Duration `yaml:"keepalive_interval"`
}

// DefaultConfig returns a Config with the proxy's standard parameters.
func DefaultConfig() Config {
	return Config{
		ID:                     DefaultID,
		SignatureType:          protocol.DefaultSignatureType,
		InboundLength:          DefaultTunnelLength,
		OutboundLength:         DefaultTunnelLength,
		InboundQuantity:        DefaultTunnelQuantity,
		OutboundQuantity:       DefaultTunnelQuantity,
		InboundBackupQuantity:  DefaultBackupQuantity,
		OutboundBackupQuantity: DefaultBackupQuantity,
		Interval:               DefaultInterval,
	}
}

// Validate checks the configuration for values the bridge would reject.
func (c Config) Validate() error {
	if err := protocol.ValidateSessionID(c.ID); err != nil {
		return err
	}
	if err := protocol.ValidateSignatureType(c.SignatureType); err != nil {
		return err
	}

	for _, t := range []struct {
		key string
		n   int
	}{
		{"inbound.length", c.InboundLength},
		{"outbound.length", c.OutboundLength},
	} {
		if err := protocol.ValidateTunnelLength(t.n); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidTunnelConfig, t.key, err)
		}
	}

	for _, t := range []struct {
		key string
		n   int
	}{
		{"inbound.quantity", c.InboundQuantity},
		{"outbound.quantity", c.OutboundQuantity},
		{"inbound.backupQuantity", c.InboundBackupQuantity},
		{"outbound.backupQuantity", c.OutboundBackupQuantity},
	} {
		if err := protocol.ValidateTunnelQuantity(t.n); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidTunnelConfig, t.key, err)
		}
	}

	if c.Interval <= 0 {
		return fmt.Errorf("%w: keepalive interval must be positive", ErrInvalidTunnelConfig)
	}
	return nil
}

// CreateOptions returns the SESSION CREATE arguments in wire order.
func (c Config) CreateOptions() protocol.Options {
	return protocol.Options{
		{Key: "STYLE", Value: protocol.StyleStream},
		{Key: "ID", Value: c.ID},
		{Key: "DESTINATION", Value: protocol.DestinationTransient},
		{Key: "SIGNATURE_TYPE", Value: c.SignatureType},
		{Key: "inbound.length", Value: strconv.Itoa(c.InboundLength)},
		{Key: "outbound.length", Value: strconv.Itoa(c.OutboundLength)},
		{Key: "inbound.quantity", Value: strconv.Itoa(c.InboundQuantity)},
		{Key: "outbound.quantity", Value: strconv.Itoa(c.OutboundQuantity)},
		{Key: "inbound.backupQuantity", Value: strconv.Itoa(c.InboundBackupQuantity)},
		{Key: "outbound.backupQuantity", Value: strconv.Itoa(c.OutboundBackupQuantity)},
	}
}
