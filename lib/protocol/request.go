package protocol

import (
	"strings"
)

// Option is a single KEY=VALUE argument of an outgoing command.
type Option struct {
	Key   string
	Value string
}

// Options is an ordered argument list. Order is preserved on the wire
// although SAM does not assign it any meaning.
type Options []Option

// Set replaces the value of key (compared case-insensitively) or appends
// it if absent.
func (o Options) Set(key, value string) Options {
	for i := range o {
		if strings.EqualFold(o[i].Key, key) {
			o[i].Value = value
			return o
		}
	}
	return append(o, Option{Key: key, Value: value})
}

// Request builds SAM protocol commands sent by a client.
// Per SAMv3.md, commands follow the format:
//
//	VERB [ACTION] [KEY=VALUE]...
//
// and are terminated by a newline character.
type Request struct {
	Verb    string
	Action  string
	Options []string // Pre-formatted KEY=VALUE pairs
}

// NewRequest creates a new request builder with the given verb.
func NewRequest(verb string) *Request {
	return &Request{
		Verb:    strings.ToUpper(verb),
		Options: make([]string, 0),
	}
}

// WithAction sets the request action (e.g., VERSION, CREATE).
func (r *Request) WithAction(action string) *Request {
	r.Action = strings.ToUpper(action)
	return r
}

// WithOption adds a key-value option to the request.
// Options with an empty key or an empty value are omitted.
// Values containing whitespace, quotes, or backslashes are automatically quoted.
func (r *Request) WithOption(key, value string) *Request {
	if key == "" || value == "" {
		return r
	}
	r.Options = append(r.Options, formatOption(key, value))
	return r
}

// WithOptions adds every option in opts, in order.
func (r *Request) WithOptions(opts Options) *Request {
	for _, opt := range opts {
		r.WithOption(opt.Key, opt.Value)
	}
	return r
}

// String formats the request as a SAM protocol line without the newline.
func (r *Request) String() string {
	parts := make([]string, 0, 2+len(r.Options))
	parts = append(parts, r.Verb)
	if r.Action != "" {
		parts = append(parts, r.Action)
	}
	parts = append(parts, r.Options...)
	return strings.Join(parts, " ")
}

// Bytes returns the request as a newline-terminated byte slice for writing
// to connections.
func (r *Request) Bytes() []byte {
	return []byte(r.String() + "\n")
}

// Encode formats a command line from its first and second tokens and its
// arguments. The tokens are uppercased; second may be empty.
//
//	Encode("hello", "version", Options{{"MIN", "3.0"}}) // "HELLO VERSION MIN=3.0"
func Encode(first, second string, args Options) string {
	return NewRequest(first).WithAction(second).WithOptions(args).String()
}

// formatOption formats a key-value pair, quoting the value if necessary.
func formatOption(key, value string) string {
	if needsQuoting(value) {
		value = `"` + escapeValue(value) + `"`
	}
	return key + "=" + value
}

// needsQuoting returns true if the value contains characters that require quoting.
// Per SAM 3.2, values with spaces, tabs, quotes, or backslashes must be quoted.
func needsQuoting(s string) bool {
	return strings.ContainsAny(s, " \t\"\\")
}

// escapeValue escapes quotes and backslashes in a string.
// Per SAM 3.2, double quotes are escaped with backslash, and
// backslashes are represented as two backslashes.
func escapeValue(s string) string {
	// Order matters: escape backslashes first, then quotes
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return s
}

// Common client commands

// Hello creates a HELLO VERSION command.
func Hello(opts Options) *Request {
	return NewRequest(VerbHello).WithAction(ActionVersion).WithOptions(opts)
}

// Ping creates a PING command carrying text to be echoed in PONG.
func Ping(text string) *Request {
	r := NewRequest(VerbPing)
	if text != "" {
		// PING carries arbitrary text directly, not as key=value
		r.Options = append(r.Options, text)
	}
	return r
}

// Pong creates a PONG reply with the original ping data.
func Pong(text string) *Request {
	r := NewRequest(VerbPong)
	if text != "" {
		r.Options = append(r.Options, text)
	}
	return r
}

// Quit creates a QUIT command.
func Quit() *Request {
	return NewRequest(VerbQuit)
}
