// Package destination handles I2P destinations as they appear on the SAM
// wire: I2P Base64 strings. It derives the .b32.i2p address of a looked-up
// destination so operators can recognise it in logs and on the status page.
package destination

import (
	"github.com/go-i2p/common/base64"
)

// Base64Encode encodes data to I2P Base64 format.
// I2P uses a modified alphabet where + becomes - and / becomes ~.
func Base64Encode(data []byte) string {
	return base64.EncodeToString(data)
}

// Base64Decode decodes I2P Base64 encoded data.
// Returns an error if the input contains invalid characters or has invalid length.
func Base64Decode(s string) ([]byte, error) {
	return base64.DecodeString(s)
}
