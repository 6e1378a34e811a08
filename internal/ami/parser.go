package ami

import (
	"bufio"
	"io"
	"strings"
)

// Parser reads a manager byte stream and emits Events.
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a Parser that reads from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{scanner: bufio.NewScanner(r)}
}

// Next reads the next event block from the stream.
// Returns the event and true, or a zero Event and false at EOF.
func (p *Parser) Next() (Event, bool) {
	var headers []Header

	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")

		// Blank line terminates an event block.
		if line == "" {
			if len(headers) > 0 {
				return Event{headers: headers}, true
			}
			continue
		}

		idx := strings.Index(line, ": ")
		if idx < 0 {
			// Banner and other non-header lines outside a block are skipped.
			if len(headers) == 0 {
				continue
			}
			headers = append(headers, Header{Key: "", Value: line})
			continue
		}
		headers = append(headers, Header{Key: line[:idx], Value: line[idx+2:]})
	}

	if len(headers) > 0 {
		return Event{headers: headers}, true
	}
	return Event{}, false
}

// ParseBytes parses every event block in data. Test helper.
func ParseBytes(data []byte) []Event {
	p := NewParser(strings.NewReader(string(data)))
	var events []Event
	for {
		evt, ok := p.Next()
		if !ok {
			return events
		}
		events = append(events, evt)
	}
}
