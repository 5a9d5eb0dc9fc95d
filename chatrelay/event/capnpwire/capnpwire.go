// Package capnpwire is the length-prefixed packed object-capability encoding
// of event.Entity (encoding A). It hand-builds capnp messages against the
// low-level capnp.Struct API — there is no .capnp schema file to run capnpc
// against, so the struct layout below is fixed by hand and documented
// inline, the way a schema-free capnp consumer would.
package capnpwire

import (
	"bytes"
	"time"

	"capnproto.org/go/capnp/v3"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event"
	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// Entity struct layout (fixed by hand, no schema compiler involved):
//
//	data word 0 (bytes 0..8):  timestamp, int64
//	data word 1 (bytes 8..16): kind tag, uint16 @ offset 8; status, int16 @ offset 10
//	pointer 0: text — pub_key (handshake) | username (request) | sender (message)
//	pointer 1: text — password (request) | text (message)
const (
	offTimestamp = 0
	offKindTag   = 8
	offStatus    = 10

	ptrFirst  = 0
	ptrSecond = 1
)

const (
	tagHandshake = uint16(iota)
	tagRegistrationRequest
	tagRegistrationResponse
	tagAuthenticationRequest
	tagAuthenticationResponse
	tagMessage
)

var entitySize = capnp.ObjectSize{DataSize: 16, PointerCount: 2}

// Codec implements event.Codec using capnp's packed wire format.
type Codec struct{}

var _ event.Codec = Codec{}

func (Codec) Serialize(e event.Entity) []byte {
	msg, seg, err := capnp.NewMessage(capnp.SingleSegment(nil))
	if err != nil {
		// preallocation of a fresh in-memory segment never fails in practice.
		panic(err)
	}
	root, err := capnp.NewRootStruct(seg, entitySize)
	if err != nil {
		panic(err)
	}

	root.SetInt64(offTimestamp, time.Now().Unix())

	switch k := e.Kind.(type) {
	case event.Handshake:
		root.SetUint16(offKindTag, tagHandshake)
		_ = root.SetText(ptrFirst, k.PubKey.Encode())
	case event.RegistrationRequest:
		root.SetUint16(offKindTag, tagRegistrationRequest)
		_ = root.SetText(ptrFirst, k.Username)
		_ = root.SetText(ptrSecond, k.Password)
	case event.RegistrationResponse:
		root.SetUint16(offKindTag, tagRegistrationResponse)
		root.SetInt16(offStatus, int16(k.Status))
	case event.AuthenticationRequest:
		root.SetUint16(offKindTag, tagAuthenticationRequest)
		_ = root.SetText(ptrFirst, k.Username)
		_ = root.SetText(ptrSecond, k.Password)
	case event.AuthenticationResponse:
		root.SetUint16(offKindTag, tagAuthenticationResponse)
		root.SetInt16(offStatus, int16(k.Status))
	case event.Message:
		root.SetUint16(offKindTag, tagMessage)
		_ = root.SetText(ptrFirst, k.Sender)
		_ = root.SetText(ptrSecond, k.Text)
	}

	var buf bytes.Buffer
	enc := capnp.NewPackedEncoder(&buf)
	if err := enc.Encode(msg); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (Codec) Deserialize(b []byte) (event.Entity, error) {
	dec := capnp.NewPackedDecoder(bytes.NewReader(b))
	msg, err := dec.Decode()
	if err != nil {
		return event.Entity{}, relerr.From(relerr.Decode, err)
	}

	root, err := msg.Root()
	if err != nil {
		return event.Entity{}, relerr.From(relerr.Decode, err)
	}
	s := root.Struct()

	out := event.Entity{Timestamp: s.Int64(offTimestamp)}

	switch s.Uint16(offKindTag) {
	case tagHandshake:
		encoded, err := s.Text(ptrFirst)
		if err != nil {
			return event.Entity{}, relerr.From(relerr.Decode, err)
		}
		pub, err := crypto.DecodeKey(encoded)
		if err != nil {
			return event.Entity{}, err
		}
		out.Kind = event.Handshake{PubKey: pub}

	case tagRegistrationRequest:
		username, password, err := requestFields(s)
		if err != nil {
			return event.Entity{}, err
		}
		out.Kind = event.RegistrationRequest{Username: username, Password: password}

	case tagRegistrationResponse:
		status := s.Int16(offStatus)
		if status < 0 || status > int16(event.RegistrationUserExists) {
			return event.Entity{}, relerr.Wrap(relerr.Decode, "unknown registration status")
		}
		out.Kind = event.RegistrationResponse{Status: event.RegistrationStatus(status)}

	case tagAuthenticationRequest:
		username, password, err := requestFields(s)
		if err != nil {
			return event.Entity{}, err
		}
		out.Kind = event.AuthenticationRequest{Username: username, Password: password}

	case tagAuthenticationResponse:
		status := s.Int16(offStatus)
		if status < 0 || status > int16(event.AuthenticationWrongPassword) {
			return event.Entity{}, relerr.Wrap(relerr.Decode, "unknown authentication status")
		}
		out.Kind = event.AuthenticationResponse{Status: event.AuthenticationStatus(status)}

	case tagMessage:
		sender, text, err := requestFields(s)
		if err != nil {
			return event.Entity{}, err
		}
		out.Kind = event.Message{Sender: sender, Text: text}

	default:
		return event.Entity{}, relerr.Wrap(relerr.Decode, "unknown event kind tag")
	}

	return out, nil
}

func requestFields(s capnp.Struct) (first, second string, err error) {
	first, err = s.Text(ptrFirst)
	if err != nil {
		return "", "", relerr.From(relerr.Decode, err)
	}
	second, err = s.Text(ptrSecond)
	if err != nil {
		return "", "", relerr.From(relerr.Decode, err)
	}
	return first, second, nil
}
