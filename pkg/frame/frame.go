// Package frame defines the wire-level Frame record exchanged by every
// shrubbery carrier and its discriminated FrameType payloads.
package frame

import (
	"encoding/json"
	"fmt"
)

// FrameType is the payload carried by a Frame. Each variant below
// implements it; Tag identifies the wire discriminator.
type FrameType interface {
	Tag() string
}

// Frame is one record exchanged on the wire: an id, an optional reply
// correlation, and a tagged payload. Clients assign strictly decreasing
// negative ids starting at -1; the server assigns strictly increasing
// non-negative ids starting at 1.
type Frame struct {
	Id      int32
	ReplyTo *int32
	Type    FrameType
}

// New builds a server- or client-originated frame with no reply correlation.
func New(id int32, t FrameType) Frame {
	return Frame{Id: id, Type: t}
}

// NewReply builds a frame answering the frame with id replyTo.
func NewReply(id, replyTo int32, t FrameType) Frame {
	rt := replyTo
	return Frame{Id: id, ReplyTo: &rt, Type: t}
}

type Authenticate struct {
	Token string `json:"token"`
}

func (Authenticate) Tag() string { return "Authenticate" }

type Ok struct{}

func (Ok) Tag() string { return "Ok" }

type Error struct {
	ErrorMessage string `json:"error"`
}

func (Error) Tag() string { return "Error" }

type MintToken struct {
	User            string          `json:"user"`
	Info            json.RawMessage `json:"info,omitempty"`
	LifetimeSeconds uint64          `json:"lifetimeSeconds"`
}

func (MintToken) Tag() string { return "MintToken" }

type MintTokenResponse struct {
	Token string `json:"token"`
}

func (MintTokenResponse) Tag() string { return "MintTokenResponse" }

type RevokeTokensForUser struct {
	User string `json:"user"`
}

func (RevokeTokensForUser) Tag() string { return "RevokeTokensForUser" }

type Open struct {
	Doc DocId `json:"doc"`
}

func (Open) Tag() string { return "Open" }

type UpdatePresence struct {
	Doc      DocId           `json:"doc"`
	Presence json.RawMessage `json:"presence"`
}

func (UpdatePresence) Tag() string { return "UpdatePresence" }

type Presence struct {
	Updates []PresenceFrame `json:"updates"`
}

func (Presence) Tag() string { return "Presence" }

// UnknownFrame is the forward-compatibility sentinel: any tag this server
// build doesn't recognize deserializes to one of these and is ignored rather
// than rejected, mirroring the Rust original's #[serde(other)] variant.
type UnknownFrame struct {
	OriginalTag string
}

func (u UnknownFrame) Tag() string { return u.OriginalTag }

// PresenceFrame is one client's transient presence snapshot within a
// document. Client is the handle id assigned by that document's worker, not
// globally unique across worker restarts.
type PresenceFrame struct {
	Client   uint32          `json:"client"`
	Doc      DocId           `json:"doc"`
	User     string          `json:"user"`
	Info     json.RawMessage `json:"info,omitempty"`
	Presence json.RawMessage `json:"presence,omitempty"`
}

// MarshalJSON flattens the tagged payload into the same object as id,
// replyTo and the type discriminator, matching the wire's lowerCamelCase,
// internally-tagged representation.
func (f Frame) MarshalJSON() ([]byte, error) {
	if f.Type == nil {
		return nil, fmt.Errorf("frame: nil FrameType")
	}
	payload, err := json.Marshal(f.Type)
	if err != nil {
		return nil, fmt.Errorf("frame: marshal payload: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("frame: payload is not an object: %w", err)
	}

	idBytes, _ := json.Marshal(f.Id)
	fields["id"] = idBytes
	if f.ReplyTo != nil {
		rtBytes, _ := json.Marshal(*f.ReplyTo)
		fields["replyTo"] = rtBytes
	}
	tagBytes, _ := json.Marshal(f.Type.Tag())
	fields["type"] = tagBytes

	return json.Marshal(fields)
}

// UnmarshalJSON reads the type discriminator first, then decodes the
// remaining fields into the matching variant struct. An unrecognized tag
// becomes an UnknownFrame rather than an error.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("frame: not a JSON object: %w", err)
	}

	idRaw, ok := raw["id"]
	if !ok {
		return fmt.Errorf("frame: missing id")
	}
	var id int32
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return fmt.Errorf("frame: invalid id: %w", err)
	}

	var replyTo *int32
	if rtRaw, ok := raw["replyTo"]; ok && string(rtRaw) != "null" {
		var rt int32
		if err := json.Unmarshal(rtRaw, &rt); err != nil {
			return fmt.Errorf("frame: invalid replyTo: %w", err)
		}
		replyTo = &rt
	}

	tagRaw, ok := raw["type"]
	if !ok {
		return fmt.Errorf("frame: missing type")
	}
	var tag string
	if err := json.Unmarshal(tagRaw, &tag); err != nil {
		return fmt.Errorf("frame: invalid type: %w", err)
	}

	var ft FrameType
	switch tag {
	case "Authenticate":
		var v Authenticate
		if err := decodeVariant(raw, &v); err != nil {
			return err
		}
		ft = v
	case "Ok":
		ft = Ok{}
	case "Error":
		var v Error
		if err := decodeVariant(raw, &v); err != nil {
			return err
		}
		ft = v
	case "MintToken":
		var v MintToken
		if err := decodeVariant(raw, &v); err != nil {
			return err
		}
		ft = v
	case "MintTokenResponse":
		var v MintTokenResponse
		if err := decodeVariant(raw, &v); err != nil {
			return err
		}
		ft = v
	case "RevokeTokensForUser":
		var v RevokeTokensForUser
		if err := decodeVariant(raw, &v); err != nil {
			return err
		}
		ft = v
	case "Open":
		var v Open
		if err := decodeVariant(raw, &v); err != nil {
			return err
		}
		ft = v
	case "UpdatePresence":
		var v UpdatePresence
		if err := decodeVariant(raw, &v); err != nil {
			return err
		}
		ft = v
	case "Presence":
		var v Presence
		if err := decodeVariant(raw, &v); err != nil {
			return err
		}
		ft = v
	default:
		ft = UnknownFrame{OriginalTag: tag}
	}

	f.Id = id
	f.ReplyTo = replyTo
	f.Type = ft
	return nil
}

func decodeVariant(raw map[string]json.RawMessage, v interface{}) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("frame: invalid payload for tagged variant: %w", err)
	}
	return nil
}
