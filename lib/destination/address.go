package destination

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/go-i2p/common/base32"
	commondest "github.com/go-i2p/common/destination"
	"github.com/go-i2p/common/keys_and_cert"
)

const (
	// MinDestinationSize is the smallest binary destination: 384 bytes of
	// keys plus a 3-byte certificate header.
	MinDestinationSize = keys_and_cert.KEYS_AND_CERT_MIN_SIZE

	// B32Suffix terminates every base32 address.
	B32Suffix = commondest.I2PBase32Suffix

	// I2PSuffix terminates every I2P host name.
	I2PSuffix = ".i2p"

	// b32Length is the base32 length of a SHA-256 hash without padding.
	b32Length = 52
)

var (
	// ErrInvalidDestination indicates the destination data is invalid.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrInvalidHashLength indicates a hash is not 32 bytes.
	ErrInvalidHashLength = errors.New("invalid hash length: expected 32 bytes")
)

// Parse decodes a Base64 public destination, such as the VALUE of a
// NAMING REPLY, and validates its key certificate.
func Parse(destBase64 string) (commondest.Destination, error) {
	if destBase64 == "" {
		return commondest.Destination{}, ErrInvalidDestination
	}
	data, err := Base64Decode(destBase64)
	if err != nil {
		return commondest.Destination{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if len(data) < MinDestinationSize {
		return commondest.Destination{}, fmt.Errorf("%w: %d bytes", ErrInvalidDestination, len(data))
	}
	dest, _, err := commondest.ReadDestination(data)
	if err != nil {
		return commondest.Destination{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	return dest, nil
}

// B32Address returns the .b32.i2p address of a Base64 public destination:
// the unpadded base32 SHA-256 of its canonical encoding.
func B32Address(destBase64 string) (string, error) {
	dest, err := Parse(destBase64)
	if err != nil {
		return "", err
	}
	addr, err := dest.Base32Address()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	return addr, nil
}

// HashToB32Address converts a 32-byte destination hash to its .b32.i2p
// address.
func HashToB32Address(hash []byte) (string, error) {
	if len(hash) != sha256.Size {
		return "", ErrInvalidHashLength
	}
	return base32.EncodeToStringNoPadding(hash) + B32Suffix, nil
}

// IsB32Address reports whether host is a well-formed .b32.i2p address.
// Such names need no lookup: the router resolves them itself.
func IsB32Address(host string) bool {
	host = strings.ToLower(host)
	if !strings.HasSuffix(host, B32Suffix) {
		return false
	}
	label := strings.TrimSuffix(host, B32Suffix)
	if len(label) < b32Length {
		return false
	}
	for _, r := range label {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			return false
		}
	}
	return true
}

// IsI2PHost reports whether host is in the .i2p domain.
func IsI2PHost(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), I2PSuffix)
}
