// Package event defines the wire envelope (Entity) and its tagged-union
// payload (EventKind), independent of how either is put on the wire — two
// interchangeable Codec implementations live in the pbwire and capnpwire
// subpackages.
package event

import "github.com/kisuryoza/chatrelay/chatrelay/crypto"

// Entity is the top-level frame exchanged between any two parties in the
// protocol: a producer-stamped timestamp plus one tagged Kind.
type Entity struct {
	Timestamp int64
	Kind      Kind
}

// Kind is the tagged union carried by every Entity. Exactly one concrete
// type below implements it.
type Kind interface {
	isKind()
}

// Handshake carries the sender's ephemeral DH public key. It travels in the
// clear during the broker handshake and is encrypted like any other frame
// afterwards (e.g. during session-secret negotiation between two clients).
type Handshake struct {
	PubKey crypto.PublicKey
}

func (Handshake) isKind() {}

// RegistrationStatus is the fixed ordinal encoding of a registration
// response. The ordinals are part of the wire contract and must never
// change.
type RegistrationStatus int32

const (
	RegistrationSuccess RegistrationStatus = iota
	RegistrationUserExists
)

func (s RegistrationStatus) String() string {
	switch s {
	case RegistrationSuccess:
		return "Success"
	case RegistrationUserExists:
		return "User exists"
	default:
		return "Unknown"
	}
}

// RegistrationRequest asks the broker to create a new account.
type RegistrationRequest struct {
	Username string
	Password string
}

func (RegistrationRequest) isKind() {}

// RegistrationResponse carries the outcome of a RegistrationRequest.
type RegistrationResponse struct {
	Status RegistrationStatus
}

func (RegistrationResponse) isKind() {}

// AuthenticationStatus is the fixed ordinal encoding of an authentication
// response. The ordinals are part of the wire contract and must never
// change.
type AuthenticationStatus int32

const (
	AuthenticationSuccess AuthenticationStatus = iota
	AuthenticationUserDoesNotExist
	AuthenticationWrongPassword
)

func (s AuthenticationStatus) String() string {
	switch s {
	case AuthenticationSuccess:
		return "Success"
	case AuthenticationUserDoesNotExist:
		return "User does not exist"
	case AuthenticationWrongPassword:
		return "Wrong password"
	default:
		return "Unknown"
	}
}

// AuthenticationRequest asks the broker to authenticate an existing account.
type AuthenticationRequest struct {
	Username string
	Password string
}

func (AuthenticationRequest) isKind() {}

// AuthenticationResponse carries the outcome of an AuthenticationRequest.
type AuthenticationResponse struct {
	Status AuthenticationStatus
}

func (AuthenticationResponse) isKind() {}

// Message is a chat line. Text is UTF-8 plaintext or
// base64url_nopad(nonce||ciphertext) under a session secret; which one it is
// is implicit in the sending client's session-secret state and opaque to the
// broker either way.
type Message struct {
	Sender string
	Text   string
}

func (Message) isKind() {}
