// Package eventbuilder implements the phase-typed construct/encrypt and
// decrypt/deserialize pipeline: Go generics stand in for the linear-typed
// state machine of the original design, so a caller cannot deserialize
// before decrypting, nor double-encrypt a Constructed builder — each method
// consumes its receiver by value and returns a builder in the next phase.
package eventbuilder

import (
	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event"
)

// Constructing holds the codec used to turn a chosen kind into bytes.
type Constructing struct{ codec event.Codec }

// Constructed holds the serialized bytes of an Entity, ready to encrypt.
type Constructed struct{ bytes []byte }

// Deconstructing holds the codec that will deserialize a decrypted blob.
type Deconstructing struct{ codec event.Codec }

// Decrypted holds a decrypted blob paired with the codec that deserializes it.
type Decrypted struct {
	codec event.Codec
	bytes []byte
}

// Builder threads a codec-specific phase alongside a fixed set of AEAD
// helpers (package crypto), so every transition is explicit in its type.
type Builder[S any] struct {
	state S
}

// Construct begins building a new Entity with the given codec.
func Construct(codec event.Codec) Builder[Constructing] {
	return Builder[Constructing]{state: Constructing{codec: codec}}
}

// Deconstruct begins decrypting and deserializing a received blob.
func Deconstruct(codec event.Codec) Builder[Deconstructing] {
	return Builder[Deconstructing]{state: Deconstructing{codec: codec}}
}

// Construction phase: pick the kind, consuming Constructing into Constructed.

func (b Builder[Constructing]) Handshake(pub crypto.PublicKey) Builder[Constructed] {
	return b.finish(event.NewHandshake(pub))
}

func (b Builder[Constructing]) RegistrationRequest(username, password string) Builder[Constructed] {
	return b.finish(event.NewRegistrationRequest(username, password))
}

func (b Builder[Constructing]) RegistrationResponse(status event.RegistrationStatus) Builder[Constructed] {
	return b.finish(event.NewRegistrationResponse(status))
}

func (b Builder[Constructing]) AuthenticationRequest(username, password string) Builder[Constructed] {
	return b.finish(event.NewAuthenticationRequest(username, password))
}

func (b Builder[Constructing]) AuthenticationResponse(status event.AuthenticationStatus) Builder[Constructed] {
	return b.finish(event.NewAuthenticationResponse(status))
}

func (b Builder[Constructing]) Message(sender, text string) Builder[Constructed] {
	return b.finish(event.NewMessage(sender, text))
}

func (b Builder[Constructing]) finish(e event.Entity) Builder[Constructed] {
	return Builder[Constructed]{state: Constructed{bytes: b.state.codec.Serialize(e)}}
}

// Encrypt seals the constructed bytes under key, producing the frame payload.
func (b Builder[Constructed]) Encrypt(key crypto.SecretKey) ([]byte, error) {
	return crypto.Encrypt(key, b.state.bytes)
}

// Decrypt opens blob under key, consuming Deconstructing into Decrypted.
func (b Builder[Deconstructing]) Decrypt(key crypto.SecretKey, blob []byte) (Builder[Decrypted], error) {
	plaintext, err := crypto.Decrypt(key, blob)
	if err != nil {
		return Builder[Decrypted]{}, err
	}
	return Builder[Decrypted]{state: Decrypted{codec: b.state.codec, bytes: plaintext}}, nil
}

// Deserialize parses the decrypted bytes into an Entity.
func (b Builder[Decrypted]) Deserialize() (event.Entity, error) {
	return b.state.codec.Deserialize(b.state.bytes)
}
