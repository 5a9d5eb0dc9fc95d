package crypto

import (
	"golang.org/x/crypto/curve25519"
	"lukechampine.com/blake3"

	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// domainTag is prepended to the BLAKE3 input in ComputeDH and
// FingerprintEmoji, separating those digests from plain BLAKE3 digests such
// as the ones Hash returns.
const domainTag = "CORE_CRYPTO"

// Hash returns the 32-byte BLAKE3 digest of blob.
func Hash(blob []byte) [32]byte {
	return blake3.Sum256(blob)
}

// ComputeDH performs X25519 agreement between secret and public, then hashes
// the domain tag "CORE_CRYPTO" followed by the raw shared point with
// (unkeyed) BLAKE3 to produce the protocol's SharedSecret. Two parties computing ComputeDH over
// each other's public keys derive bit-identical output.
func ComputeDH(secret SecretKey, public PublicKey) (SharedSecret, error) {
	raw, err := curve25519.X25519(secret[:], public[:])
	if err != nil {
		return SharedSecret{}, relerr.From(relerr.Crypto, err)
	}

	h := blake3.New(32, nil)
	h.Write([]byte(domainTag))
	h.Write(raw)
	return KeyFromBytes(h.Sum(nil))
}

// emojis is the fixed 32-entry table the fingerprint indexes into. Order is
// only wire-observable through diagnostic logs, never over the network.
var emojis = [32]string{
	"🐸", "💖", "🐶", "🐳", "🍞", "🐢", "🐝", "🍔", "🏀", "🎹", "🐰", "🍪", "🥖", "🍒", "🍑", "🍎",
	"🍉", "🍄", "🍁", "🌻", "🌛", "🌑", "🌈", "⚡", "☕", "🚕", "🚀", "✅", "😍", "🚁", "🗿", "🔨",
}

// FingerprintEmoji renders a domain-separated BLAKE3 digest of secret as a
// 7-emoji string for side-channel verification in logs. No emoji is emitted
// while the first 4-byte window is summed; at each later 4-byte boundary
// (offsets 4, 8, ..., 28) the sum of the window just completed selects one
// emoji. The last window (bytes 28..31) is summed but never emitted, which
// yields 7 emoji for a 32-byte digest.
func FingerprintEmoji(secret SharedSecret) string {
	h := blake3.New(32, nil)
	h.Write([]byte(domainTag))
	h.Write(secret[:])
	digest := h.Sum(nil)

	var buf []byte
	sum := 0
	for i, b := range digest {
		if i != 0 && i%4 == 0 {
			buf = append(buf, []byte(emojis[sum%len(emojis)])...)
			sum = 0
		}
		sum += int(b)
	}
	return string(buf)
}
