package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxLineBytes caps the size of a single framed message. A peer that sends a
// longer line is considered broken and its connection is torn down.
const MaxLineBytes = 1 << 20

// ErrLineTooLong is returned by ReadMessage when a message exceeds
// MaxLineBytes before a newline is seen.
var ErrLineTooLong = errors.New("protocol: message exceeds maximum line length")

// WriteMessage frames v as one JSON document followed by '\n' and writes it.
// The document itself can never contain a raw newline: encoding/json escapes
// newlines inside strings and emits none elsewhere.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal %T: %w", v, err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write: %w", err)
	}
	return nil
}

// ReadMessage reads one newline-terminated JSON document from r and decodes
// it into v. Lines longer than MaxLineBytes fail with ErrLineTooLong.
func ReadMessage(r *bufio.Reader, v any) error {
	line, err := readLine(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("protocol: decode %T: %w", v, err)
	}
	return nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLineBytes {
			return nil, ErrLineTooLong
		}
		switch {
		case err == nil:
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			// Keep accumulating until the newline or the cap.
		default:
			return nil, fmt.Errorf("protocol: read: %w", err)
		}
	}
}
