// Package store defines the credential-store contract the broker's
// authentication gate depends on, independent of any particular backing
// engine.
package store

import (
	"errors"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
)

// ErrDuplicate is returned by Create when login is already registered.
var ErrDuplicate = errors.New("login already exists")

// CredentialStore persists the mapping from login name to password hash.
// Implementations must never leak backend-specific errors to callers beyond
// ErrDuplicate and a plain not-found signal (ok=false from Lookup).
type CredentialStore interface {
	// Create registers a new login with its PHC-format password hash.
	// Returns ErrDuplicate if login is already taken.
	Create(login string, phc crypto.PasswordHash) error

	// Lookup returns the stored password hash for login, or ok=false if
	// no such login exists.
	Lookup(login string) (phc crypto.PasswordHash, ok bool, err error)
}
