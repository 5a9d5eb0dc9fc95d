package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	var key SecretKey
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	blob, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if got, want := len(blob), len(plaintext)+NonceSize+16; got != want {
		t.Fatalf("blob length = %d, want %d", got, want)
	}

	got, err := Decrypt(key, blob)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	var key, other SecretKey
	rand.Read(key[:])
	rand.Read(other[:])

	blob, err := Encrypt(key, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(other, blob); err == nil {
		t.Fatal("expected decryption under the wrong key to fail")
	}
}

func TestComputeDHSymmetry(t *testing.T) {
	a, err := NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	s1, err := ComputeDH(a.Secret(), b.Public())
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ComputeDH(b.Secret(), a.Public())
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Fatalf("DH secrets differ: %x vs %x", s1, s2)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	phc, err := HashPassword([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := VerifyPassword(phc, []byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected correct password to verify")
	}

	ok, err = VerifyPassword(phc, []byte("wrong"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected wrong password to fail verification")
	}
}

func TestVerifyPasswordMalformedPHC(t *testing.T) {
	if _, err := VerifyPassword("not-a-phc-string", []byte("x")); err == nil {
		t.Fatal("expected malformed PHC string to error")
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	var k Key
	rand.Read(k[:])

	decoded, err := DecodeKey(k.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if decoded != k {
		t.Fatalf("round trip mismatch: got %x want %x", decoded, k)
	}

	if _, err := KeyFromBytes(make([]byte, KeyLength+1)); err == nil {
		t.Fatal("expected wrong-length decode to fail")
	}
}

func TestFingerprintEmojiDeterministic(t *testing.T) {
	var k SharedSecret
	rand.Read(k[:])

	if FingerprintEmoji(k) != FingerprintEmoji(k) {
		t.Fatal("fingerprint must be deterministic for the same secret")
	}
}
