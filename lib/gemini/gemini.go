// Package gemini implements the client-facing side of the proxy: a TLS
// listener that reads one Gemini request line per connection and hands it
// to a Handler together with the client's optional certificate.
//
// Gemini responses start with a header line:
//
//	<2-digit status> <meta>\r\n
//
// followed by the body for 2x statuses.
package gemini

import (
	"fmt"
	"io"
	"strings"
)

// Status codes used by the proxy.
const (
	StatusInput               = 10
	StatusSuccess             = 20
	StatusTemporaryFailure    = 40
	StatusProxyError          = 43
	StatusPermanentFailure    = 50
	StatusProxyRequestRefused = 53
	StatusBadRequest          = 59
	StatusCertificateRequired = 60
	StatusCertificateNotValid = 62
)

// MaxURLLength is the longest request URL a client may send, excluding
// the CRLF terminator.
const MaxURLLength = 1024

// WriteHeader writes a response header line. CR and LF in meta are
// replaced with spaces so a header is always exactly one line.
func WriteHeader(w io.Writer, status int, meta string) error {
	_, err := fmt.Fprintf(w, "%02d %s\r\n", status, SanitizeMeta(meta))
	return err
}

// SanitizeMeta makes meta safe to embed in a header line.
func SanitizeMeta(meta string) string {
	meta = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(meta)
	if len(meta) > MaxURLLength {
		meta = meta[:MaxURLLength]
	}
	return meta
}
