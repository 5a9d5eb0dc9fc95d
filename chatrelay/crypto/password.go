package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// Argon2id default parameters, matching the upstream recommendation used by
// golang.org/x/crypto/argon2 itself.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 32
)

// PasswordHash is a PHC-format string: $argon2id$v=19$m=...,t=...,p=...$salt$hash.
type PasswordHash = string

// HashPassword derives a PHC-format Argon2id hash from pwd using a fresh
// random salt.
func HashPassword(pwd []byte) (PasswordHash, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", relerr.From(relerr.Crypto, err)
	}
	sum := argon2.IDKey(pwd, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return encodePHC(salt, sum), nil
}

// VerifyPassword reports whether pwd matches the PHC-format hash phc. A
// mismatch returns (false, nil); a malformed PHC string returns a
// relerr.Crypto error, never a silent false.
func VerifyPassword(phc PasswordHash, pwd []byte) (bool, error) {
	salt, want, err := decodePHC(phc)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey(pwd, salt, argonTime, argonMemory, argonThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// KeyDerivation derives a SecretKey from pwd using Argon2id, requiring a
// 32-byte salt (the same size as every other key in the protocol).
func KeyDerivation(pwd, salt []byte) (SecretKey, error) {
	if len(salt) != saltLen {
		return SecretKey{}, relerr.Wrapf(relerr.Crypto, "salt must be %d bytes, got %d", saltLen, len(salt))
	}
	sum := argon2.IDKey(pwd, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return KeyFromBytes(sum)
}

func encodePHC(salt, hash []byte) string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		b64.EncodeToString(salt), b64.EncodeToString(hash))
}

func decodePHC(phc string) (salt, hash []byte, err error) {
	parts := strings.Split(phc, "$")
	// ["", "argon2id", "v=19", "m=...,t=...,p=...", saltB64, hashB64]
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, relerr.Wrap(relerr.Crypto, "malformed PHC string")
	}

	b64 := base64.RawStdEncoding
	salt, err = b64.DecodeString(parts[4])
	if err != nil {
		return nil, nil, relerr.From(relerr.Crypto, err)
	}
	hash, err = b64.DecodeString(parts[5])
	if err != nil {
		return nil, nil, relerr.From(relerr.Crypto, err)
	}
	return salt, hash, nil
}
