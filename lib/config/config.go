// Package config loads the proxy configuration from YAML, environment
// variables and defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-i2p/gemini-sam-proxy/lib/gemini"
	"github.com/go-i2p/gemini-sam-proxy/lib/identity"
	"github.com/go-i2p/gemini-sam-proxy/lib/resolver"
	"github.com/go-i2p/gemini-sam-proxy/lib/samclient"
	"github.com/go-i2p/gemini-sam-proxy/lib/session"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvListen = "GEMINI_PROXY_LISTEN"
	EnvSAM    = "SAM_ADDR"
	EnvDebug  = "GEMINI_PROXY_DEBUG"
)

// Config is the complete proxy configuration.
type Config struct {
	Proxy    ProxyConfig    `yaml:"proxy"`
	SAM      SAMConfig      `yaml:"sam"`
	Session  session.Config `yaml:"session"`
	Identity IdentityConfig `yaml:"identity"`
	Resolver ResolverConfig `yaml:"resolver"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProxyConfig configures the client-facing Gemini listener.
type ProxyConfig struct {
	Listen           string        `yaml:"listen"`
	MaxConnections   int           `yaml:"max_connections"` // 0 = unlimited
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// SAMConfig configures the connection to the SAM bridge.
type SAMConfig struct {
	Address     string        `yaml:"address"`
	DialTimeout time.Duration `yaml:"dial_timeout"` // TCP connect only
}

// IdentityConfig configures the generated TLS certificate.
type IdentityConfig struct {
	KeySize  int           `yaml:"key_size"`
	ValidFor time.Duration `yaml:"valid_for"`
	CertOut  string        `yaml:"cert_out"` // optional PEM output path
}

// ResolverConfig configures NAMING LOOKUP caching.
type ResolverConfig struct {
	Enabled   bool          `yaml:"enabled"`
	CacheSize int           `yaml:"cache_size"`
	TTL       time.Duration `yaml:"ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"` // empty = disabled
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Listen:           gemini.DefaultListenAddr,
			HandshakeTimeout: gemini.DefaultHandshakeTimeout,
		},
		SAM: SAMConfig{
			Address: samclient.DefaultAddr,
		},
		Session: session.DefaultConfig(),
		Identity: IdentityConfig{
			KeySize:  identity.DefaultKeySize,
			ValidFor: identity.DefaultValidFor,
		},
		Resolver: ResolverConfig{
			CacheSize: resolver.DefaultCacheSize,
			TTL:       resolver.DefaultTTL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML over the defaults and validates the result.
// ${VAR} and ${VAR:-default} references are expanded first.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvListen); ok && v != "" {
		c.Proxy.Listen = v
	}
	if v, ok := lookup(EnvSAM); ok && v != "" {
		c.SAM.Address = v
	}
	if v, ok := lookup(EnvDebug); ok {
		if debug, err := strconv.ParseBool(v); err == nil && debug {
			c.Log.Level = "debug"
		}
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if err := validateAddr("proxy.listen", c.Proxy.Listen); err != nil {
		return err
	}
	if c.Proxy.MaxConnections < 0 {
		return &ConfigError{Field: "proxy.max_connections", Message: "cannot be negative"}
	}
	if c.Proxy.HandshakeTimeout < 0 || c.Proxy.RequestTimeout < 0 {
		return &ConfigError{Field: "proxy", Message: "timeouts cannot be negative"}
	}
	if err := validateAddr("sam.address", c.SAM.Address); err != nil {
		return err
	}
	if c.SAM.DialTimeout < 0 {
		return &ConfigError{Field: "sam.dial_timeout", Message: "cannot be negative"}
	}
	if err := c.Session.Validate(); err != nil {
		return &ConfigError{Field: "session", Message: err.Error()}
	}
	if c.Identity.KeySize < identity.MinKeySize {
		return &ConfigError{Field: "identity.key_size", Message: fmt.Sprintf("must be at least %d", identity.MinKeySize)}
	}
	if c.Identity.ValidFor <= 0 {
		return &ConfigError{Field: "identity.valid_for", Message: "must be positive"}
	}
	if c.Resolver.CacheSize < 0 || c.Resolver.TTL < 0 {
		return &ConfigError{Field: "resolver", Message: "cache_size and ttl cannot be negative"}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return &ConfigError{Field: "log.level", Message: "must be debug, info, warn or error"}
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return &ConfigError{Field: "log.format", Message: "must be text or json"}
	}
	if c.Metrics.Address != "" {
		if err := validateAddr("metrics.address", c.Metrics.Address); err != nil {
			return err
		}
	}
	return nil
}

func validateAddr(field, addr string) error {
	if addr == "" {
		return &ConfigError{Field: field, Message: "cannot be empty"}
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return &ConfigError{Field: field, Message: "must be host:port"}
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Listener returns the Gemini listener configuration. TLSConfig is left
// for the caller.
func (c *Config) Listener() *gemini.Config {
	lc := gemini.DefaultConfig().
		WithListenAddr(c.Proxy.Listen).
		WithMaxConnections(c.Proxy.MaxConnections)
	lc.Timeouts.Handshake = c.Proxy.HandshakeTimeout
	lc.Timeouts.Request = c.Proxy.RequestTimeout
	return lc
}

// IdentityOptions returns the certificate generation options.
func (c *Config) IdentityOptions() identity.Options {
	opts := identity.DefaultOptions()
	opts.KeySize = c.Identity.KeySize
	opts.ValidFor = c.Identity.ValidFor
	return opts
}

// Dialer returns a SAM dialer for the configured bridge.
func (c *Config) Dialer(log logrus.FieldLogger) *samclient.Dialer {
	return &samclient.Dialer{
		Addr:    c.SAM.Address,
		Timeout: c.SAM.DialTimeout,
		Logger:  log,
	}
}

// ConfigureLogger applies the level and format to log.
func (l LogConfig) ConfigureLogger(log *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	switch l.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: level >= logrus.DebugLevel,
		})
	}
	return nil
}
