package protocol

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
)

// Validation errors
var (
	ErrPortOutOfRange       = errors.New("port out of range (0-65535)")
	ErrInvalidSessionID     = errors.New("session ID contains invalid characters")
	ErrEmptySessionID       = errors.New("session ID cannot be empty")
	ErrInvalidSignatureType = errors.New("invalid signature type")
	ErrInvalidTunnelOption  = errors.New("invalid tunnel option")
	ErrInvalidAddress       = errors.New("invalid host:port address")
)

// ValidatePort validates a TCP port number.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: got %d", ErrPortOutOfRange, port)
	}
	return nil
}

// ValidateAddress checks that addr is a host:port pair with a valid port.
func ValidateAddress(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%w: port %q", ErrInvalidAddress, portStr)
	}
	return ValidatePort(port)
}

// ValidateSessionID validates a SAM session ID (nickname).
// Session IDs cannot be empty and cannot contain whitespace.
func ValidateSessionID(id string) error {
	if id == "" {
		return ErrEmptySessionID
	}

	for _, r := range id {
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: contains whitespace", ErrInvalidSessionID)
		}
	}

	return nil
}

// ValidateSignatureType validates a SIGNATURE_TYPE value.
// Both the I2P name (EdDSA_SHA512_Ed25519) and the number (7) are accepted,
// as SAM bridges accept either.
func ValidateSignatureType(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSignatureType)
	}
	for name := range SignatureTypes {
		if strings.EqualFold(name, s) {
			return nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSignatureType, s)
	}
	if n < 0 || n > 8 {
		return fmt.Errorf("%w: got %d", ErrInvalidSignatureType, n)
	}
	return nil
}

// ValidateTunnelLength validates inbound/outbound.length.
func ValidateTunnelLength(n int) error {
	if n < 0 || n > MaxTunnelLength {
		return fmt.Errorf("%w: length out of range (0-%d): %d", ErrInvalidTunnelOption, MaxTunnelLength, n)
	}
	return nil
}

// ValidateTunnelQuantity validates inbound/outbound.quantity and backupQuantity.
func ValidateTunnelQuantity(n int) error {
	if n < 0 || n > MaxTunnelQuantity {
		return fmt.Errorf("%w: quantity out of range (0-%d): %d", ErrInvalidTunnelOption, MaxTunnelQuantity, n)
	}
	return nil
}
