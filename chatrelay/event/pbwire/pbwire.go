// Package pbwire is the field-tagged protocol-buffer encoding of event.Entity
// (encoding B). Rather than depend on protoc-generated code, it marshals and
// unmarshals directly against the wire format via
// google.golang.org/protobuf/encoding/protowire, in the same spirit as a
// vtprotobuf-generated MarshalVT/UnmarshalVT pair.
package pbwire

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event"
	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// Entity field numbers.
const (
	fieldTimestamp     = 1
	fieldHandshake     = 2
	fieldRegistration  = 3
	fieldAuthentication = 4
	fieldMessage       = 5
)

// Handshake field numbers.
const fieldPubKey = 1

// Registration/Authentication field numbers (oneof flattened onto distinct
// field numbers: request vs response never coexist on the wire).
const (
	fieldRequest  = 1
	fieldResponse = 2
)

// Request field numbers.
const (
	fieldUsername = 1
	fieldPassword = 2
)

// Response field numbers.
const fieldStatus = 1

// Message field numbers.
const (
	fieldSender = 1
	fieldText   = 2
)

// Codec implements event.Codec using the protobuf wire format.
type Codec struct{}

var _ event.Codec = Codec{}

func (Codec) Serialize(e event.Entity) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldTimestamp, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(time.Now().Unix()))

	switch k := e.Kind.(type) {
	case event.Handshake:
		inner := marshalHandshake(k)
		buf = protowire.AppendTag(buf, fieldHandshake, protowire.BytesType)
		buf = protowire.AppendBytes(buf, inner)
	case event.RegistrationRequest:
		inner := marshalRequest(k.Username, k.Password)
		outer := protowire.AppendTag(nil, fieldRequest, protowire.BytesType)
		outer = protowire.AppendBytes(outer, inner)
		buf = protowire.AppendTag(buf, fieldRegistration, protowire.BytesType)
		buf = protowire.AppendBytes(buf, outer)
	case event.RegistrationResponse:
		inner := marshalResponse(int32(k.Status))
		outer := protowire.AppendTag(nil, fieldResponse, protowire.BytesType)
		outer = protowire.AppendBytes(outer, inner)
		buf = protowire.AppendTag(buf, fieldRegistration, protowire.BytesType)
		buf = protowire.AppendBytes(buf, outer)
	case event.AuthenticationRequest:
		inner := marshalRequest(k.Username, k.Password)
		outer := protowire.AppendTag(nil, fieldRequest, protowire.BytesType)
		outer = protowire.AppendBytes(outer, inner)
		buf = protowire.AppendTag(buf, fieldAuthentication, protowire.BytesType)
		buf = protowire.AppendBytes(buf, outer)
	case event.AuthenticationResponse:
		inner := marshalResponse(int32(k.Status))
		outer := protowire.AppendTag(nil, fieldResponse, protowire.BytesType)
		outer = protowire.AppendBytes(outer, inner)
		buf = protowire.AppendTag(buf, fieldAuthentication, protowire.BytesType)
		buf = protowire.AppendBytes(buf, outer)
	case event.Message:
		inner := marshalMessage(k)
		buf = protowire.AppendTag(buf, fieldMessage, protowire.BytesType)
		buf = protowire.AppendBytes(buf, inner)
	}
	return buf
}

func marshalHandshake(h event.Handshake) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldPubKey, protowire.BytesType)
	buf = protowire.AppendString(buf, h.PubKey.Encode())
	return buf
}

func marshalRequest(username, password string) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldUsername, protowire.BytesType)
	buf = protowire.AppendString(buf, username)
	buf = protowire.AppendTag(buf, fieldPassword, protowire.BytesType)
	buf = protowire.AppendString(buf, password)
	return buf
}

func marshalResponse(status int32) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldStatus, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(status))
	return buf
}

func marshalMessage(m event.Message) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldSender, protowire.BytesType)
	buf = protowire.AppendString(buf, m.Sender)
	buf = protowire.AppendTag(buf, fieldText, protowire.BytesType)
	buf = protowire.AppendString(buf, m.Text)
	return buf
}

func (Codec) Deserialize(b []byte) (event.Entity, error) {
	var out event.Entity
	haveKind := false

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return event.Entity{}, relerr.Wrap(relerr.Decode, "bad tag")
		}
		b = b[n:]

		switch num {
		case fieldTimestamp:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return event.Entity{}, relerr.Wrap(relerr.Decode, "bad timestamp")
			}
			out.Timestamp = int64(v)
			b = b[n:]

		case fieldHandshake:
			inner, n, err := consumeBytes(b, typ)
			if err != nil {
				return event.Entity{}, err
			}
			b = b[n:]
			kind, err := unmarshalHandshake(inner)
			if err != nil {
				return event.Entity{}, err
			}
			out.Kind = kind
			haveKind = true

		case fieldRegistration:
			inner, n, err := consumeBytes(b, typ)
			if err != nil {
				return event.Entity{}, err
			}
			b = b[n:]
			kind, err := unmarshalRegistration(inner)
			if err != nil {
				return event.Entity{}, err
			}
			out.Kind = kind
			haveKind = true

		case fieldAuthentication:
			inner, n, err := consumeBytes(b, typ)
			if err != nil {
				return event.Entity{}, err
			}
			b = b[n:]
			kind, err := unmarshalAuthentication(inner)
			if err != nil {
				return event.Entity{}, err
			}
			out.Kind = kind
			haveKind = true

		case fieldMessage:
			inner, n, err := consumeBytes(b, typ)
			if err != nil {
				return event.Entity{}, err
			}
			b = b[n:]
			kind, err := unmarshalMessage(inner)
			if err != nil {
				return event.Entity{}, err
			}
			out.Kind = kind
			haveKind = true

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return event.Entity{}, relerr.Wrap(relerr.Decode, "bad field")
			}
			b = b[n:]
		}
	}

	if !haveKind {
		return event.Entity{}, relerr.Wrap(relerr.Decode, "missing event kind")
	}
	return out, nil
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, relerr.Wrap(relerr.Decode, "expected length-delimited field")
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, relerr.Wrap(relerr.Decode, "bad length-delimited field")
	}
	return v, n, nil
}

func unmarshalHandshake(b []byte) (event.Handshake, error) {
	var encoded string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return event.Handshake{}, relerr.Wrap(relerr.Decode, "bad handshake tag")
		}
		b = b[n:]
		if num == fieldPubKey && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return event.Handshake{}, relerr.Wrap(relerr.Decode, "bad pub_key")
			}
			encoded = v
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return event.Handshake{}, relerr.Wrap(relerr.Decode, "bad handshake field")
		}
		b = b[n:]
	}
	if encoded == "" {
		return event.Handshake{}, relerr.Wrap(relerr.Decode, "missing pub_key")
	}
	pub, err := crypto.DecodeKey(encoded)
	if err != nil {
		return event.Handshake{}, err
	}
	return event.Handshake{PubKey: pub}, nil
}

func unmarshalRequestFields(b []byte) (username, password string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", relerr.Wrap(relerr.Decode, "bad request tag")
		}
		b = b[n:]
		switch num {
		case fieldUsername:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", relerr.Wrap(relerr.Decode, "bad username")
			}
			username = v
			b = b[n:]
		case fieldPassword:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", relerr.Wrap(relerr.Decode, "bad password")
			}
			password = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", "", relerr.Wrap(relerr.Decode, "bad request field")
			}
			b = b[n:]
		}
	}
	return username, password, nil
}

func unmarshalResponseStatus(b []byte) (int32, error) {
	var status int32
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, relerr.Wrap(relerr.Decode, "bad response tag")
		}
		b = b[n:]
		if num == fieldStatus && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, relerr.Wrap(relerr.Decode, "bad status")
			}
			status = int32(v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return 0, relerr.Wrap(relerr.Decode, "bad response field")
		}
		b = b[n:]
	}
	return status, nil
}

func unmarshalRegistration(b []byte) (event.Kind, error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, relerr.Wrap(relerr.Decode, "bad registration tag")
		}
		b = b[n:]
		inner, n2, err := consumeBytes(b, typ)
		if err != nil {
			return nil, err
		}
		b = b[n2:]

		switch num {
		case fieldRequest:
			username, password, err := unmarshalRequestFields(inner)
			if err != nil {
				return nil, err
			}
			return event.RegistrationRequest{Username: username, Password: password}, nil
		case fieldResponse:
			status, err := unmarshalResponseStatus(inner)
			if err != nil {
				return nil, err
			}
			if status < 0 || status > int32(event.RegistrationUserExists) {
				return nil, relerr.Wrap(relerr.Decode, "unknown registration status")
			}
			return event.RegistrationResponse{Status: event.RegistrationStatus(status)}, nil
		}
	}
	return nil, relerr.Wrap(relerr.Decode, "empty registration")
}

func unmarshalAuthentication(b []byte) (event.Kind, error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, relerr.Wrap(relerr.Decode, "bad authentication tag")
		}
		b = b[n:]
		inner, n2, err := consumeBytes(b, typ)
		if err != nil {
			return nil, err
		}
		b = b[n2:]

		switch num {
		case fieldRequest:
			username, password, err := unmarshalRequestFields(inner)
			if err != nil {
				return nil, err
			}
			return event.AuthenticationRequest{Username: username, Password: password}, nil
		case fieldResponse:
			status, err := unmarshalResponseStatus(inner)
			if err != nil {
				return nil, err
			}
			if status < 0 || status > int32(event.AuthenticationWrongPassword) {
				return nil, relerr.Wrap(relerr.Decode, "unknown authentication status")
			}
			return event.AuthenticationResponse{Status: event.AuthenticationStatus(status)}, nil
		}
	}
	return nil, relerr.Wrap(relerr.Decode, "empty authentication")
}

func unmarshalMessage(b []byte) (event.Kind, error) {
	var sender, text string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, relerr.Wrap(relerr.Decode, "bad message tag")
		}
		b = b[n:]
		switch num {
		case fieldSender:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, relerr.Wrap(relerr.Decode, "bad sender")
			}
			sender = v
			b = b[n:]
		case fieldText:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, relerr.Wrap(relerr.Decode, "bad text")
			}
			text = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, relerr.Wrap(relerr.Decode, "bad message field")
			}
			b = b[n:]
		}
	}
	return event.Message{Sender: sender, Text: text}, nil
}
