package destination

import (
	"errors"
	"strings"
	"testing"
)

// zeroDestination is 387 zero bytes in I2P Base64: ElGamal and DSA keys
// behind a NULL certificate.
var zeroDestination = strings.Repeat("A", 516)

// withCertificate returns 384 zero key bytes followed by cert, in Base64.
func withCertificate(cert ...byte) string {
	return Base64Encode(append(make([]byte, 384), cert...))
}

func TestB32Address(t *testing.T) {
	tests := []struct {
		name    string
		dest    string
		want    string
		wantErr error
	}{
		{
			name: "zero destination",
			dest: zeroDestination,
			want: "gem7z2yovuoqqbg3sd5qzb5dhaiit6osezfdo3cbuonanzjsuzaq.b32.i2p",
		},
		{name: "empty", dest: "", wantErr: ErrInvalidDestination},
		{name: "too short", dest: "AAAA", wantErr: ErrInvalidDestination},
		{name: "not base64", dest: strings.Repeat("!", 516), wantErr: ErrInvalidDestination},
		{name: "unknown certificate type", dest: withCertificate(0x07, 0x00, 0x00), wantErr: ErrInvalidDestination},
		{name: "truncated key certificate", dest: withCertificate(0x05, 0x00, 0x04), wantErr: ErrInvalidDestination},
		{
			name:    "RSA signing key",
			dest:    withCertificate(0x05, 0x00, 0x04, 0x00, 0x04, 0x00, 0x00),
			wantErr: ErrInvalidDestination,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := B32Address(tt.dest)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("B32Address() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("B32Address() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("B32Address() = %q, want %q", got, tt.want)
			}
			if !IsB32Address(got) {
				t.Errorf("IsB32Address(%q) = false", got)
			}
		})
	}
}

func TestParse(t *testing.T) {
	dest, err := Parse(zeroDestination)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	got, err := dest.Base64()
	if err != nil {
		t.Fatalf("Base64() error = %v", err)
	}
	if got != zeroDestination {
		t.Errorf("Base64() = %q, want the parsed input", got)
	}

	if _, err := Parse(withCertificate(0x07, 0x00, 0x00)); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("Parse(unknown certificate) error = %v, want ErrInvalidDestination", err)
	}
}

func TestHashToB32Address(t *testing.T) {
	got, err := HashToB32Address(make([]byte, 32))
	if err != nil {
		t.Fatalf("HashToB32Address() error = %v", err)
	}
	want := strings.Repeat("a", 52) + ".b32.i2p"
	if got != want {
		t.Errorf("HashToB32Address(zeros) = %q, want %q", got, want)
	}

	if _, err := HashToB32Address(make([]byte, 31)); !errors.Is(err, ErrInvalidHashLength) {
		t.Errorf("HashToB32Address(31 bytes) error = %v, want ErrInvalidHashLength", err)
	}
}

func TestIsB32Address(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{strings.Repeat("a", 52) + ".b32.i2p", true},
		{strings.Repeat("A", 52) + ".B32.I2P", true},
		{strings.Repeat("a", 56) + ".b32.i2p", true},
		{strings.Repeat("a", 51) + ".b32.i2p", false},
		{strings.Repeat("1", 52) + ".b32.i2p", false},
		{"example.i2p", false},
		{"status", false},
	}

	for _, tt := range tests {
		if got := IsB32Address(tt.host); got != tt.want {
			t.Errorf("IsB32Address(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestIsI2PHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"example.i2p", true},
		{"EXAMPLE.I2P", true},
		{"example.com", false},
		{"status", false},
	}

	for _, tt := range tests {
		if got := IsI2PHost(tt.host); got != tt.want {
			t.Errorf("IsI2PHost(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
