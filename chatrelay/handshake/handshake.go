// Package handshake performs the one-round-trip DH key exchange shared by
// both ends of a connection: generate an ephemeral keypair, send a cleartext
// Handshake frame, await the peer's, then derive the shared secret. The
// function is symmetric, so both client-to-broker and broker-to-client call
// the same code.
package handshake

import (
	"context"
	"io"
	"time"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event"
	"github.com/kisuryoza/chatrelay/chatrelay/framing"
	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// Timeout bounds how long a side waits for the peer's Handshake frame.
const Timeout = 10 * time.Second

// Result carries the derived shared secret and the peer's public key, in
// case a caller wants the fingerprint for diagnostics.
type Result struct {
	SharedSecret crypto.SharedSecret
	PeerPublic   crypto.PublicKey
}

// Perform runs the handshake over rw using codec to frame the cleartext
// Handshake event. It generates its own ephemeral keypair.
func Perform(ctx context.Context, rw io.ReadWriter, codec event.Codec) (Result, error) {
	kp, err := crypto.NewKeyPair()
	if err != nil {
		return Result{}, relerr.From(relerr.Crypto, err)
	}
	return PerformWithKeyPair(ctx, rw, codec, kp)
}

// PerformWithKeyPair is Perform with caller-supplied ephemeral keys, useful
// for tests that need deterministic keys.
func PerformWithKeyPair(ctx context.Context, rw io.ReadWriter, codec event.Codec, kp crypto.KeyPair) (Result, error) {
	type readResult struct {
		frame []byte
		err   error
	}
	// The read starts before the write so that two sides running Perform
	// over an unbuffered stream (e.g. net.Pipe) do not both block in Write.
	done := make(chan readResult, 1)
	go func() {
		frame, err := framing.ReadFrame(rw)
		done <- readResult{frame, err}
	}()

	out := codec.Serialize(event.NewHandshake(kp.Public()))
	if err := framing.WriteFrame(rw, out); err != nil {
		return Result{}, err
	}

	select {
	case <-ctx.Done():
		return Result{}, relerr.From(relerr.Timeout, ctx.Err())
	case <-time.After(Timeout):
		return Result{}, relerr.Wrap(relerr.Timeout, "handshake: peer did not respond")
	case r := <-done:
		if r.err != nil {
			if relerr.IsShutdown(r.err) {
				return Result{}, relerr.From(relerr.IO, r.err)
			}
			return Result{}, r.err
		}

		entity, err := codec.Deserialize(r.frame)
		if err != nil {
			return Result{}, err
		}
		peer, ok := event.ExpectHandshake(entity)
		if !ok {
			return Result{}, relerr.Wrap(relerr.Decode, "expected Handshake")
		}

		shared, err := crypto.ComputeDH(kp.Secret(), peer.PubKey)
		if err != nil {
			return Result{}, err
		}
		return Result{SharedSecret: shared, PeerPublic: peer.PubKey}, nil
	}
}
