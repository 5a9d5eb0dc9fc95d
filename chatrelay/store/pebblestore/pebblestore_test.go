package pebblestore

import (
	"errors"
	"testing"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/store"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateLookupRoundTrip(t *testing.T) {
	s := openTemp(t)

	phc, err := crypto.HashPassword([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Create("alice", phc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok, err := s.Lookup("alice")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected alice to be found")
	}
	if got != phc {
		t.Fatalf("got %q, want %q", got, phc)
	}
}

func TestLookupMissing(t *testing.T) {
	s := openTemp(t)
	_, ok, err := s.Lookup("nobody")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ok {
		t.Fatal("expected nobody to be absent")
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	s := openTemp(t)
	phc, err := crypto.HashPassword([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Create("alice", phc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = s.Create("alice", phc)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}
