package stream

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is a single server-sent event.
type sseEvent struct {
	// ID is the "id:" field, empty when the event carried none.
	ID string
	// Type is the "event:" field.
	Type string
	// Data joins the "data:" lines with newlines.
	Data string
}

// sseScanner reads server-sent events. Comment lines such as heartbeats and unknown fields
// are skipped.
type sseScanner struct {
	reader  *bufio.Reader
	current sseEvent
	err     error
}

func newSSEScanner(reader io.Reader) *sseScanner {
	return &sseScanner{
		reader: bufio.NewReaderSize(reader, 64*1024),
	}
}

// Next advances to the next event. It returns false at EOF or on a read error; Err tells
// them apart.
func (scanner *sseScanner) Next() bool {
	scanner.current = sseEvent{}
	if scanner.err != nil {
		return false
	}

	var dataLines []string
	var eventType, id string
	hasData := false

	for {
		line, err := scanner.reader.ReadString('\n')

		// Partial last line (no trailing newline before EOF).
		if err != nil && line == "" {
			if err == io.EOF && hasData {
				scanner.current = sseEvent{ID: id, Type: eventType, Data: strings.Join(dataLines, "\n")}
				scanner.err = io.EOF
				return true
			}
			scanner.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line = event boundary.
		if line == "" {
			if hasData {
				scanner.current = sseEvent{ID: id, Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType, id = "", ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			id = value
		}
	}
}

func (scanner *sseScanner) Event() sseEvent {
	return scanner.current
}

// Err returns the error that stopped scanning, or nil after a clean EOF.
func (scanner *sseScanner) Err() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}
