// Package crypto implements the symmetric/asymmetric primitives that every
// other layer of the relay builds on: XChaCha20-Poly1305 AEAD, Argon2id
// password hashing, X25519 key agreement and BLAKE3 hashing.
package crypto

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/curve25519"

	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// KeyLength is the fixed size of every key-shaped value in the protocol.
const KeyLength = 32

// Key is a fixed 32-byte blob. SecretKey, PublicKey and SharedSecret are
// aliases of it with identical representation but distinct semantic roles.
type Key [KeyLength]byte

type (
	SecretKey    = Key
	PublicKey    = Key
	SharedSecret = Key
)

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

// Encode renders the key as URL-safe, unpadded base64 text.
func (k Key) Encode() string {
	return b64.EncodeToString(k[:])
}

// String makes Key satisfy fmt.Stringer so it is safe to log directly.
func (k Key) String() string {
	return k.Encode()
}

// DecodeKey parses the URL-safe, unpadded base64 text produced by Encode.
func DecodeKey(s string) (Key, error) {
	raw, err := b64.DecodeString(s)
	if err != nil {
		return Key{}, relerr.From(relerr.Decode, err)
	}
	return KeyFromBytes(raw)
}

// KeyFromBytes copies a byte slice into a Key, failing if the length differs
// from KeyLength.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != KeyLength {
		return k, relerr.Wrapf(relerr.Decode, "expected %d bytes, got %d", KeyLength, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// KeyPair is an ordered (secret, public) X25519 pair.
type KeyPair struct {
	secret SecretKey
	public PublicKey
}

// NewKeyPair generates a fresh X25519 key pair from the system CSPRNG.
func NewKeyPair() (KeyPair, error) {
	var secret SecretKey
	if _, err := rand.Read(secret[:]); err != nil {
		return KeyPair{}, relerr.From(relerr.Crypto, err)
	}

	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, relerr.From(relerr.Crypto, err)
	}
	public, err := KeyFromBytes(pub)
	if err != nil {
		return KeyPair{}, err
	}

	return KeyPair{secret: secret, public: public}, nil
}

// Secret returns the private half of the pair.
func (kp KeyPair) Secret() SecretKey { return kp.secret }

// Public returns the public half of the pair.
func (kp KeyPair) Public() PublicKey { return kp.public }

// Split returns both halves, consuming the pair.
func (kp KeyPair) Split() (SecretKey, PublicKey) { return kp.secret, kp.public }
