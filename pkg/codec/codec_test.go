package codec

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dzfranklin/shrubbery/pkg/frame"
)

func TestWriteThenReadFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	f := frame.New(1, frame.Ok{})
	if err := w.WriteFrame(f); err != nil {
		t.Fatalf("write: %v", err)
	}

	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected newline-terminated output, got %q", buf.String())
	}

	r := NewReader(&buf)
	got, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Id != 1 {
		t.Errorf("id = %d, want 1", got.Id)
	}
	if _, ok := got.Type.(frame.Ok); !ok {
		t.Errorf("type = %T, want Ok", got.Type)
	}
}

func TestReadFrame_EOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, err := r.ReadFrame()
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReadFrame_OversizedLineRejected(t *testing.T) {
	huge := strings.Repeat("x", MaxFrameBytes+1)
	r := NewReader(strings.NewReader(`{"id":1,"type":"Error","error":"` + huge + `"}` + "\n"))
	_, err := r.ReadFrame()
	if err == nil {
		t.Fatal("expected error for oversized frame")
	}
	var invalid *InvalidDataError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *InvalidDataError", err)
	}
}

func TestReadFrame_MalformedJSONRejected(t *testing.T) {
	r := NewReader(strings.NewReader("not json\n"))
	_, err := r.ReadFrame()
	var invalid *InvalidDataError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *InvalidDataError", err)
	}
}

func TestReadFrame_MultipleFramesSequential(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	rt := int32(-1)
	for i := int32(1); i <= 3; i++ {
		if err := w.WriteFrame(frame.NewReply(i, rt, frame.Ok{})); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	r := NewReader(&buf)
	for i := int32(1); i <= 3; i++ {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got.Id != i {
			t.Errorf("frame %d: id = %d", i, got.Id)
		}
	}
}
