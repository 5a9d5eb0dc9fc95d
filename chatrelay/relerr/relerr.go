// Package relerr defines the error taxonomy shared by every layer of the
// relay: crypto, event codecs, handshake, the client relay state machine and
// the broker all classify failures into one of these kinds so callers can
// react with errors.Is instead of parsing strings.
package relerr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed failure categories the protocol distinguishes.
// Recovery differs per kind: Shutdown is success for a joiner, everything
// else is connection-fatal (and, for IO at accept time, process-fatal).
var (
	Generic  = errors.New("generic")
	Crypto   = errors.New("crypto")
	Decode   = errors.New("decode")
	IO       = errors.New("io")
	Timeout  = errors.New("timeout")
	Shutdown = errors.New("shutdown")
)

// Wrap annotates msg with kind so errors.Is(err, kind) still matches.
func Wrap(kind error, msg string) error {
	return fmt.Errorf("%s: %w", msg, kind)
}

// Wrapf is Wrap with formatting.
func Wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// From wraps an existing error under kind, preserving it in the chain.
func From(kind error, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

// IsShutdown reports whether err is (or wraps) the orderly-shutdown sentinel.
func IsShutdown(err error) bool {
	return errors.Is(err, Shutdown)
}
