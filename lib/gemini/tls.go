package gemini

import (
	"crypto/tls"
	"crypto/x509"
)

// CertificatePolicy decides whether a client certificate chain presented
// during the handshake is acceptable.
type CertificatePolicy interface {
	VerifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// AcceptAnyCertificate accepts every client certificate, including none.
// Client certificates are requested only so they can be seen by handlers;
// they are never checked against a CA.
type AcceptAnyCertificate struct{}

// VerifyPeerCertificate always returns nil.
func (AcceptAnyCertificate) VerifyPeerCertificate([][]byte, [][]*x509.Certificate) error {
	return nil
}

// ServerTLSConfig returns the listener TLS configuration: TLS 1.2 or
// newer, the given identity, and client certificates requested but
// judged only by policy. A nil policy means AcceptAnyCertificate.
func ServerTLSConfig(cert tls.Certificate, policy CertificatePolicy) *tls.Config {
	if policy == nil {
		policy = AcceptAnyCertificate{}
	}
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		MinVersion:            tls.VersionTLS12,
		ClientAuth:            tls.RequestClientCert,
		VerifyPeerCertificate: policy.VerifyPeerCertificate,
	}
}

// peerCertificate returns the first certificate the client presented.
func peerCertificate(state tls.ConnectionState) *x509.Certificate {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return state.PeerCertificates[0]
}
