// Package pebblestore backs store.CredentialStore with a cockroachdb/pebble
// LSM-tree, keyed directly by login name.
package pebblestore

import (
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
	"github.com/kisuryoza/chatrelay/chatrelay/store"
)

// Store is a store.CredentialStore backed by an on-disk pebble database.
type Store struct {
	db *pebble.DB
}

var _ store.CredentialStore = (*Store)(nil)

// Open opens (or creates) a pebble database at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, relerr.From(relerr.IO, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return relerr.From(relerr.IO, err)
	}
	return nil
}

// Create registers login with its password hash, failing with
// store.ErrDuplicate if login is already present.
func (s *Store) Create(login string, phc crypto.PasswordHash) error {
	_, closer, err := s.db.Get([]byte(login))
	switch {
	case err == nil:
		closer.Close()
		return store.ErrDuplicate
	case errors.Is(err, pebble.ErrNotFound):
		// fall through to insert
	default:
		return relerr.From(relerr.IO, err)
	}

	if err := s.db.Set([]byte(login), []byte(phc), pebble.Sync); err != nil {
		return relerr.From(relerr.IO, err)
	}
	return nil
}

// Lookup returns the password hash stored for login.
func (s *Store) Lookup(login string) (crypto.PasswordHash, bool, error) {
	value, closer, err := s.db.Get([]byte(login))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, relerr.From(relerr.IO, err)
	}
	defer closer.Close()

	phc := crypto.PasswordHash(string(value))
	return phc, true, nil
}
