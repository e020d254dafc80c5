package frame

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// DocId is a 128-bit document identifier, rendered on the wire as a textual
// ULID and compared by raw equality. Unique per document for the lifetime of
// the data directory.
type DocId [16]byte

// NewDocId generates a fresh, time-ordered DocId.
func NewDocId() DocId {
	return DocId(ulid.Make())
}

// ParseDocId parses a ULID string, case-insensitively, into a DocId.
func ParseDocId(s string) (DocId, error) {
	id, err := ulid.ParseStrict(strings.ToUpper(s))
	if err != nil {
		return DocId{}, &InvalidDocIdError{Raw: s}
	}
	return DocId(id), nil
}

// String renders the DocId as a ULID.
func (d DocId) String() string {
	return ulid.ULID(d).String()
}

// InvalidDocIdError is returned when a string fails to parse as a DocId.
type InvalidDocIdError struct {
	Raw string
}

func (e *InvalidDocIdError) Error() string {
	return "invalid doc id"
}

func (d DocId) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *DocId) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return &InvalidDocIdError{Raw: s}
	}
	s = s[1 : len(s)-1]
	id, err := ParseDocId(s)
	if err != nil {
		return err
	}
	*d = id
	return nil
}
