package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Parser errors
var (
	ErrEmptyCommand = errors.New("empty command")
	ErrInvalidUTF8  = errors.New("command contains invalid UTF-8")

	// ErrMalformedCommand is returned for lines that do not follow
	// VERB [ACTION] [KEY=VALUE]... framing, e.g. an argument without '='
	// or an unterminated quoted value.
	ErrMalformedCommand = errors.New("malformed command")
)

// Command is a decoded SAM protocol line.
// Per SAMv3.md, commands and replies follow the format:
//
//	VERB [ACTION] [KEY=VALUE]...
//
// Verb is the first token, uppercased. Action is the second token as
// received (it may be an arbitrary token, e.g. the text of PING/PONG),
// or empty when the line has a single token. Args holds every later
// KEY=VALUE pair with its key lowercased.
type Command struct {
	Verb   string
	Action string
	Args   map[string]string

	// Raw is the line as received, without the trailing newline.
	Raw string
}

// Get returns the value for key, matching case-insensitively.
func (c *Command) Get(key string) string {
	return c.Args[strings.ToLower(key)]
}

// Has reports whether the argument was present on the line.
func (c *Command) Has(key string) bool {
	_, ok := c.Args[strings.ToLower(key)]
	return ok
}

// Result returns the RESULT= argument, or "" if the reply has none.
func (c *Command) Result() string {
	return c.Args[ArgResult]
}

// OK reports whether the reply carries RESULT=OK.
func (c *Command) OK() bool {
	return c.Result() == ResultOK
}

// Is reports whether the command has the given verb and action,
// compared case-insensitively.
func (c *Command) Is(verb, action string) bool {
	return strings.EqualFold(c.Verb, verb) && strings.EqualFold(c.Action, action)
}

// String returns the raw line.
func (c *Command) String() string {
	return c.Raw
}

// Parser tokenizes SAM protocol lines.
// Whitespace outside double quotes separates tokens; a quoted span is
// part of the surrounding token with its quotes removed, so
// MESSAGE="no route" yields the single token `MESSAGE=no route`.
// Inside quotes, \" and \\ are unescaped.
type Parser struct{}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses a SAM line into a Command.
// The trailing CR/LF, if any, is ignored.
func (p *Parser) Parse(line string) (*Command, error) {
	line = strings.TrimRight(line, "\r\n")

	if !utf8.ValidString(line) {
		return nil, ErrInvalidUTF8
	}

	tokens, err := p.tokenize(line)
	if err != nil {
		return nil, err
	}

	if len(tokens) == 0 {
		return nil, ErrEmptyCommand
	}

	return p.buildCommand(tokens, line)
}

// buildCommand constructs a Command from tokens.
func (p *Parser) buildCommand(tokens []string, raw string) (*Command, error) {
	cmd := &Command{
		Verb: strings.ToUpper(tokens[0]),
		Args: make(map[string]string),
		Raw:  raw,
	}

	if len(tokens) > 1 {
		cmd.Action = tokens[1]
	}

	for _, token := range tokens[min(2, len(tokens)):] {
		key, value, ok := strings.Cut(token, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: argument %q has no key=value form", ErrMalformedCommand, token)
		}
		cmd.Args[strings.ToLower(key)] = value
	}

	return cmd, nil
}

// tokenize splits a command line into tokens, handling quoted values.
func (p *Parser) tokenize(line string) ([]string, error) {
	t := &tokenizer{}
	return t.tokenize(line)
}

// tokenizer holds state during tokenization.
type tokenizer struct {
	tokens  []string
	current strings.Builder
	started bool
	inQuote bool
	escaped bool
}

// tokenize splits a command line into tokens.
func (t *tokenizer) tokenize(line string) ([]string, error) {
	for i := 0; i < len(line); i++ {
		t.processChar(line[i])
	}

	if t.inQuote {
		return nil, fmt.Errorf("%w: unterminated quoted value", ErrMalformedCommand)
	}

	t.finishToken()
	return t.tokens, nil
}

// processChar processes a single character during tokenization.
func (t *tokenizer) processChar(ch byte) {
	if t.escaped {
		t.processEscaped(ch)
		return
	}
	t.processNormal(ch)
}

// processEscaped handles an escaped character inside quotes.
func (t *tokenizer) processEscaped(ch byte) {
	switch ch {
	case '"', '\\':
		t.current.WriteByte(ch)
	default:
		t.current.WriteByte('\\')
		t.current.WriteByte(ch)
	}
	t.escaped = false
}

// processNormal handles a non-escaped character.
func (t *tokenizer) processNormal(ch byte) {
	switch ch {
	case '\\':
		if t.inQuote {
			t.escaped = true
		} else {
			t.current.WriteByte(ch)
			t.started = true
		}
	case '"':
		// Quotes delimit but are not part of the token. An empty quoted
		// value still produces a token.
		t.inQuote = !t.inQuote
		t.started = true
	case ' ', '\t':
		if t.inQuote {
			t.current.WriteByte(ch)
		} else {
			t.finishToken()
		}
	default:
		t.current.WriteByte(ch)
		t.started = true
	}
}

// finishToken adds the current token to the list and resets.
func (t *tokenizer) finishToken() {
	if t.started {
		t.tokens = append(t.tokens, t.current.String())
		t.current.Reset()
		t.started = false
	}
}

// ParseLine is a convenience function that parses a line using default settings.
func ParseLine(line string) (*Command, error) {
	return NewParser().Parse(line)
}

// MustParse parses a line and panics on error. For testing only.
func MustParse(line string) *Command {
	cmd, err := ParseLine(line)
	if err != nil {
		panic(fmt.Sprintf("failed to parse command: %v", err))
	}
	return cmd
}
