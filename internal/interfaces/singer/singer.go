// Package singer reads and writes Singer protocol messages. Input is one
// JSON message per line on stdin; the only output the connector emits on
// stdout is STATE.
package singer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Message types defined by the Singer protocol.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// Message is one line of a Singer stream.
type Message struct {
	Type          string                 `json:"type"`
	Stream        string                 `json:"stream,omitempty"`
	Schema        json.RawMessage        `json:"schema,omitempty"`
	Record        map[string]interface{} `json:"record,omitempty"`
	Value         map[string]interface{} `json:"value,omitempty"`
	KeyProperties []string               `json:"key_properties,omitempty"`
	TimeExtracted string                 `json:"time_extracted,omitempty"`
}

// maxLineBytes bounds a single input line. Tap output can carry large
// embedded documents, so the default 64KB scanner buffer is not enough.
const maxLineBytes = 20 * 1024 * 1024

// Reader decodes Singer messages line by line.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader wraps an input stream in a Singer message reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next message, io.EOF at end of input. Blank lines are
// skipped; malformed lines and lines without a type are errors.
func (r *Reader) Next() (*Message, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return nil, fmt.Errorf("line %d: unable to parse message: %w", r.line, err)
		}
		if msg.Type == "" {
			return nil, fmt.Errorf("line %d: message is missing a type", r.line)
		}
		return &msg, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", r.line, err)
	}
	return nil, io.EOF
}

// WriteState emits a STATE message as a single line on w.
func WriteState(w io.Writer, value map[string]interface{}) error {
	msg := Message{Type: TypeState, Value: value}
	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}
