package bridge

import "crypto/tls"

// ClientTLSConfig returns the configuration for the TLS session opened
// inside an overlay stream to host. Gemini servers are self-signed and
// trusted on first use, so the chain is not verified; ServerName is still
// sent so virtual hosting works.
func ClientTLSConfig(host string) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         host,
		InsecureSkipVerify: true, //nolint:gosec // Gemini TOFU
	}
}
