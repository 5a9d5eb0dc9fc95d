package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// NonceSize is the length of the random nonce prepended to every ciphertext.
const NonceSize = chacha20poly1305.NonceSizeX // 24 bytes

// Encrypt seals plaintext under key with XChaCha20-Poly1305, drawing a fresh
// 24-byte nonce from the CSPRNG for every call. The returned blob is laid out
// as nonce || aead_output, so its length is always len(plaintext)+24+16.
func Encrypt(key SecretKey, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, relerr.From(relerr.Crypto, err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, relerr.From(relerr.Crypto, err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Decrypt splits the leading 24-byte nonce from blob and opens the
// remainder under key. Any authentication failure or a blob shorter than
// the nonce surfaces as relerr.Crypto.
func Decrypt(key SecretKey, blob []byte) ([]byte, error) {
	if len(blob) < NonceSize {
		return nil, relerr.Wrap(relerr.Crypto, "ciphertext shorter than nonce")
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, relerr.From(relerr.Crypto, err)
	}

	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, relerr.From(relerr.Crypto, err)
	}
	return plaintext, nil
}
