package util

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// ErrLineTooLong indicates a line exceeded the reader's limit.
var ErrLineTooLong = errors.New("line too long")

// ReadLine reads one line from reader without its CRLF or LF terminator,
// enforcing maxLen. A final line cut short by EOF is returned as is; EOF
// before any byte is returned as io.EOF.
func ReadLine(reader *bufio.Reader, maxLen int) (string, error) {
	var line strings.Builder

	for {
		part, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && line.Len() > 0 {
				break
			}
			return "", err
		}

		line.Write(part)

		if line.Len() > maxLen {
			return "", ErrLineTooLong
		}

		if !isPrefix {
			break
		}
	}

	return line.String(), nil
}
