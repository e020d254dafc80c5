package frame

import (
	"encoding/json"
	"testing"
)

func TestFrameRoundTrip_Ok(t *testing.T) {
	rt := int32(-1)
	f := Frame{Id: 1, ReplyTo: &rt, Type: Ok{}}

	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Frame
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Id != f.Id {
		t.Errorf("id = %d, want %d", got.Id, f.Id)
	}
	if got.ReplyTo == nil || *got.ReplyTo != rt {
		t.Errorf("replyTo = %v, want %d", got.ReplyTo, rt)
	}
	if _, ok := got.Type.(Ok); !ok {
		t.Errorf("type = %T, want Ok", got.Type)
	}
}

func TestFrameMarshal_AuthenticateShape(t *testing.T) {
	f := New(-1, Authenticate{Token: "shrubtoken1:ROOTabc"})
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal into map: %v", err)
	}
	if fields["type"] != "Authenticate" {
		t.Errorf("type = %v, want Authenticate", fields["type"])
	}
	if fields["token"] != "shrubtoken1:ROOTabc" {
		t.Errorf("token = %v", fields["token"])
	}
	if _, present := fields["replyTo"]; present {
		t.Errorf("replyTo should be absent when unset, got %v", fields["replyTo"])
	}
}

func TestFrameUnmarshal_UnknownTagIsSentinel(t *testing.T) {
	raw := []byte(`{"id":1,"type":"SomethingFromTheFuture","foo":"bar"}`)
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	uf, ok := f.Type.(UnknownFrame)
	if !ok {
		t.Fatalf("type = %T, want UnknownFrame", f.Type)
	}
	if uf.OriginalTag != "SomethingFromTheFuture" {
		t.Errorf("tag = %q", uf.OriginalTag)
	}
}

func TestFrameRoundTrip_PresenceWithDocId(t *testing.T) {
	doc := NewDocId()
	original := New(5, Presence{Updates: []PresenceFrame{
		{Client: 1, Doc: doc, User: "alice", Presence: json.RawMessage(`{"x":1}`)},
	}})

	b, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Frame
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, ok := got.Type.(Presence)
	if !ok {
		t.Fatalf("type = %T, want Presence", got.Type)
	}
	if len(p.Updates) != 1 || p.Updates[0].Doc != doc {
		t.Errorf("updates = %+v, want doc %s", p.Updates, doc)
	}
}

func TestDocId_ParseCaseInsensitive(t *testing.T) {
	id := NewDocId()
	lower, err := ParseDocId(lowerString(id.String()))
	if err != nil {
		t.Fatalf("parse lowercase: %v", err)
	}
	if lower != id {
		t.Errorf("lower = %s, want %s", lower, id)
	}
}

func TestDocId_InvalidRejected(t *testing.T) {
	if _, err := ParseDocId("not-a-ulid"); err == nil {
		t.Error("expected error for invalid ulid string")
	}
}

func lowerString(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
