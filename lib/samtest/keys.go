package samtest

import "strings"

// FakeDestination is a syntactically valid I2P Base64 destination
// (387 zero bytes) returned by DEST GENERATE.
var FakeDestination = strings.Repeat("A", 516)

// FakePrivateKey is returned as the DESTINATION= of SESSION STATUS and the
// PRIV= of DEST REPLY.
var FakePrivateKey = FakeDestination + strings.Repeat("B", 884)
