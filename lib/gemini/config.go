package gemini

import (
	"crypto/tls"
	"time"
)

// Default configuration values.
const (
	// DefaultListenAddr is the proxy's client-facing address.
	DefaultListenAddr = "localhost:8882"

	// DefaultReadBufferSize is the buffer size for reading the request line.
	DefaultReadBufferSize = 2048

	// DefaultHandshakeTimeout bounds the client TLS handshake.
	DefaultHandshakeTimeout = 30 * time.Second
)

// Config holds the listener configuration.
type Config struct {
	// ListenAddr is the TCP address to listen on.
	ListenAddr string

	// TLSConfig wraps every accepted connection. Required by ListenAndServe.
	TLSConfig *tls.Config

	// Timeouts holds client-side timeouts. The proxied response itself is
	// never timed out.
	Timeouts TimeoutConfig

	// Limits holds connection limits and buffer sizes.
	Limits LimitConfig
}

// TimeoutConfig holds timeout settings for client connections.
type TimeoutConfig struct {
	// Handshake bounds the TLS handshake (0 = no limit).
	Handshake time.Duration

	// Request bounds reading the request line after the handshake
	// (0 = no limit).
	Request time.Duration
}

// LimitConfig holds buffer and connection limits.
type LimitConfig struct {
	// ReadBufferSize is the buffer size for reading the request line.
	ReadBufferSize int

	// MaxLineLength is the maximum request URL length, excluding CRLF.
	MaxLineLength int

	// MaxConnections caps concurrently served connections (0 = no limit).
	// When the cap is reached the accept loop waits for a slot.
	MaxConnections int
}

// DefaultConfig returns a Config with default values. TLSConfig is unset.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		Timeouts: TimeoutConfig{
			Handshake: DefaultHandshakeTimeout,
			Request:   0,
		},
		Limits: LimitConfig{
			ReadBufferSize: DefaultReadBufferSize,
			MaxLineLength:  MaxURLLength,
			MaxConnections: 0,
		},
	}
}

// Validate checks the configuration for errors and returns an error if invalid.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return &ConfigError{Field: "ListenAddr", Message: "cannot be empty"}
	}
	if c.Timeouts.Handshake < 0 {
		return &ConfigError{Field: "Timeouts.Handshake", Message: "cannot be negative"}
	}
	if c.Timeouts.Request < 0 {
		return &ConfigError{Field: "Timeouts.Request", Message: "cannot be negative"}
	}
	if c.Limits.ReadBufferSize <= 0 {
		return &ConfigError{Field: "Limits.ReadBufferSize", Message: "must be positive"}
	}
	if c.Limits.MaxLineLength <= 0 {
		return &ConfigError{Field: "Limits.MaxLineLength", Message: "must be positive"}
	}
	if c.Limits.MaxConnections < 0 {
		return &ConfigError{Field: "Limits.MaxConnections", Message: "cannot be negative"}
	}
	return nil
}

// WithListenAddr returns a copy of the config with the listen address set.
func (c *Config) WithListenAddr(addr string) *Config {
	newCfg := *c
	newCfg.ListenAddr = addr
	return &newCfg
}

// WithTLS returns a copy of the config with the TLS configuration set.
func (c *Config) WithTLS(tlsConfig *tls.Config) *Config {
	newCfg := *c
	newCfg.TLSConfig = tlsConfig
	return &newCfg
}

// WithMaxConnections returns a copy of the config with the connection cap set.
func (c *Config) WithMaxConnections(n int) *Config {
	newCfg := *c
	newCfg.Limits.MaxConnections = n
	return &newCfg
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}
