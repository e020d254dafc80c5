// Package codec turns a byte stream into a sequence of newline-delimited
// JSON frames and back, enforcing the wire's maximum frame size.
package codec

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dzfranklin/shrubbery/pkg/frame"
)

// MaxFrameBytes is the maximum length, in bytes, of one line on the wire.
// Longer lines are rejected as invalid data and the connection is closed.
const MaxFrameBytes = 16 * 1024 * 1024

// InvalidDataError reports a frame that could not be decoded: an oversized
// line, malformed JSON, or (on encode) a value that failed to serialize.
// It is fatal to the connection, matching spec's "protocol framing" error
// kind.
type InvalidDataError struct {
	Message string
	Cause   error
}

func (e *InvalidDataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid data: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("invalid data: %s", e.Message)
}

func (e *InvalidDataError) Unwrap() error { return e.Cause }

// Reader decodes one Frame per newline-terminated line.
type Reader struct {
	sc *bufio.Scanner
}

// NewReader wraps r with a line scanner bounded to MaxFrameBytes.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	// One byte beyond MaxFrameBytes leaves room for the terminating '\n'.
	sc.Buffer(make([]byte, 4096), MaxFrameBytes+1)
	sc.Split(bufio.ScanLines)
	return &Reader{sc: sc}
}

// ReadFrame reads and decodes the next frame. It returns io.EOF when the
// underlying stream is exhausted cleanly.
func (r *Reader) ReadFrame() (frame.Frame, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return frame.Frame{}, &InvalidDataError{Message: "max line length exceeded"}
			}
			return frame.Frame{}, err
		}
		return frame.Frame{}, io.EOF
	}

	line := r.sc.Bytes()
	var f frame.Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return frame.Frame{}, &InvalidDataError{Message: "malformed frame json", Cause: err}
	}
	return f, nil
}

// Writer encodes one Frame per newline-terminated line.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for frame-at-a-time writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame serializes f and writes it followed by a single '\n'.
func (w *Writer) WriteFrame(f frame.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return &InvalidDataError{Message: "could not serialize frame", Cause: err}
	}
	b = append(b, '\n')
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return nil
}
