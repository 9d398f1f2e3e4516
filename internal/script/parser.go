package script

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Parser reads a call script and emits Steps. Blocks are separated by
// blank lines; lines starting with '#' are comments.
type Parser struct {
	scanner *bufio.Scanner
	line    int
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	return &Parser{scanner: bufio.NewScanner(r)}
}

// Next reads the next step from the stream.
// Returns the step and true if one was read, or a zero Step and false at EOF.
func (p *Parser) Next() (Step, bool) {
	var s Step

	for p.scanner.Scan() {
		p.line++
		line := strings.TrimRight(p.scanner.Text(), "\r")

		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}

		if strings.TrimSpace(line) == "" {
			if len(s.fields) > 0 {
				return s, true
			}
			continue
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			if len(s.fields) == 0 {
				continue
			}
			s.fields = append(s.fields, field{Key: "", Value: line})
			continue
		}

		if len(s.fields) == 0 {
			s.Line = p.line
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		s.fields = append(s.fields, field{Key: key, Value: value})
	}

	if len(s.fields) > 0 {
		return s, true
	}
	return Step{}, false
}

// ParseAll reads all steps from the stream and returns them.
func (p *Parser) ParseAll() []Step {
	var steps []Step
	for {
		s, ok := p.Next()
		if !ok {
			break
		}
		steps = append(steps, s)
	}
	return steps
}

// ParseBytes parses all steps from a byte slice.
func ParseBytes(data []byte) []Step {
	return NewParser(bytes.NewReader(data)).ParseAll()
}
