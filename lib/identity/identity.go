// Package identity generates the proxy's TLS identity: a fresh self-signed
// RSA certificate presented to Gemini clients on every run.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"
)

// Defaults for the generated certificate.
const (
	DefaultKeySize      = 4096
	DefaultValidFor     = 30 * 24 * time.Hour
	DefaultCommonName   = "localhost"
	DefaultOrganization = "Local gemini proxy for I2P"
	DefaultEmail        = "webmaster@localhost"

	// MinKeySize is the smallest RSA modulus accepted.
	MinKeySize = 2048
)

// oidEmailAddress is PKCS #9 emailAddress, carried in the subject.
var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// ErrKeyTooSmall is returned for an RSA key size below MinKeySize.
var ErrKeyTooSmall = errors.New("RSA key size too small")

// Options configures certificate generation.
type Options struct {
	// KeySize is the RSA modulus size in bits.
	KeySize int

	// ValidFor is the certificate validity duration.
	ValidFor time.Duration

	CommonName   string
	Organization string
	Email        string
}

// DefaultOptions returns the standard proxy identity options.
func DefaultOptions() Options {
	return Options{
		KeySize:      DefaultKeySize,
		ValidFor:     DefaultValidFor,
		CommonName:   DefaultCommonName,
		Organization: DefaultOrganization,
		Email:        DefaultEmail,
	}
}

// Identity is a generated certificate and its private key.
type Identity struct {
	// Certificate is the parsed X.509 certificate.
	Certificate *x509.Certificate

	// PrivateKey is the RSA private key.
	PrivateKey *rsa.PrivateKey

	// CertPEM is the PEM-encoded certificate.
	CertPEM []byte

	// KeyPEM is the PEM-encoded private key.
	KeyPEM []byte
}

// Generate creates a self-signed certificate: subject equals issuer,
// keyUsage digitalSignature, a subject key identifier and a SHA-512 RSA
// signature.
func Generate(opts Options) (*Identity, error) {
	if opts.KeySize == 0 {
		opts.KeySize = DefaultKeySize
	}
	if opts.KeySize < MinKeySize {
		return nil, fmt.Errorf("%w: %d bits", ErrKeyTooSmall, opts.KeySize)
	}
	if opts.ValidFor <= 0 {
		opts.ValidFor = DefaultValidFor
	}

	key, err := rsa.GenerateKey(rand.Reader, opts.KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	subject := pkix.Name{CommonName: opts.CommonName}
	if opts.Organization != "" {
		subject.Organization = []string{opts.Organization}
	}
	if opts.Email != "" {
		subject.ExtraNames = []pkix.AttributeTypeAndValue{
			{Type: oidEmailAddress, Value: opts.Email},
		}
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:       serialNumber,
		Subject:            subject,
		NotBefore:          now,
		NotAfter:           now.Add(opts.ValidFor),
		KeyUsage:           x509.KeyUsageDigitalSignature,
		SubjectKeyId:       subjectKeyID(&key.PublicKey),
		SignatureAlgorithm: x509.SHA512WithRSA,
	}
	if opts.CommonName != "" {
		template.DNSNames = []string{opts.CommonName}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Identity{
		Certificate: cert,
		PrivateKey:  key,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
	}, nil
}

// subjectKeyID is the SHA-1 of the subjectPublicKey bit string (RFC 5280
// method 1). For RSA that is the PKCS #1 encoding of the public key.
func subjectKeyID(pub *rsa.PublicKey) []byte {
	sum := sha1.Sum(x509.MarshalPKCS1PublicKey(pub))
	return sum[:]
}

// TLSCertificate returns the identity as a tls.Certificate.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.Certificate.Raw},
		PrivateKey:  id.PrivateKey,
		Leaf:        id.Certificate,
	}
}

// Fingerprint returns the SHA256 fingerprint of the certificate.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.Certificate)
}

// WriteCertificate writes the PEM certificate to path so clients can pin
// it. The private key is never written.
func (id *Identity) WriteCertificate(path string) error {
	if err := os.WriteFile(path, id.CertPEM, 0644); err != nil {
		return fmt.Errorf("failed to write certificate: %w", err)
	}
	return nil
}

// Fingerprint returns the SHA256 fingerprint of cert as "sha256:<hex>".
func Fingerprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	return "sha256:" + hex.EncodeToString(hash[:])
}
