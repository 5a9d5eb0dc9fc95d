package broker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event"
	"github.com/kisuryoza/chatrelay/chatrelay/event/pbwire"
	"github.com/kisuryoza/chatrelay/chatrelay/eventbuilder"
	"github.com/kisuryoza/chatrelay/chatrelay/framing"
	"github.com/kisuryoza/chatrelay/chatrelay/handshake"
	"github.com/kisuryoza/chatrelay/chatrelay/store"
)

type memStore struct {
	data map[string]crypto.PasswordHash
}

func newMemStore() *memStore { return &memStore{data: make(map[string]crypto.PasswordHash)} }

func (m *memStore) Create(login string, phc crypto.PasswordHash) error {
	if _, ok := m.data[login]; ok {
		return store.ErrDuplicate
	}
	m.data[login] = phc
	return nil
}

func (m *memStore) Lookup(login string) (crypto.PasswordHash, bool, error) {
	phc, ok := m.data[login]
	return phc, ok, nil
}

func newTestServer() *Server {
	return &Server{
		Codec:  pbwire.Codec{},
		Store:  newMemStore(),
		Shared: NewShared(),
		Log:    zerolog.Nop(),
	}
}

// clientHandshake performs the client side of the DH handshake over conn
// and returns the shared secret.
func clientHandshake(t *testing.T, conn net.Conn, codec event.Codec) crypto.SharedSecret {
	t.Helper()
	result, err := handshake.Perform(context.Background(), conn, codec)
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	return result.SharedSecret
}

func serveOneConnection(s *Server, conn net.Conn, addr string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.process(conn, addr, s.Log)
	}()
	return done
}

func TestRegistrationThenAuthentication(t *testing.T) {
	s := newTestServer()
	codec := pbwire.Codec{}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	serverDone := serveOneConnectionNonBlocking(t, s, serverConn)

	secret := clientHandshake(t, clientConn, codec)

	blob, err := eventbuilder.Construct(codec).RegistrationRequest("alice", "s3cret").Encrypt(secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteFrame(clientConn, blob); err != nil {
		t.Fatal(err)
	}

	reply := readAndDecode(t, clientConn, codec, secret)
	resp, ok := event.ExpectRegistrationResponse(reply)
	if !ok || resp.Status != event.RegistrationSuccess {
		t.Fatalf("registration failed: %+v", reply)
	}

	clientConn.Close()
	<-serverDone

	// second connection: authenticate with the same credentials.
	clientConn2, serverConn2 := net.Pipe()
	defer clientConn2.Close()
	serverDone2 := serveOneConnectionNonBlocking(t, s, serverConn2)

	secret2 := clientHandshake(t, clientConn2, codec)
	authBlob, err := eventbuilder.Construct(codec).AuthenticationRequest("alice", "s3cret").Encrypt(secret2)
	if err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteFrame(clientConn2, authBlob); err != nil {
		t.Fatal(err)
	}
	authReply := readAndDecode(t, clientConn2, codec, secret2)
	authResp, ok := event.ExpectAuthenticationResponse(authReply)
	if !ok || authResp.Status != event.AuthenticationSuccess {
		t.Fatalf("authentication failed: %+v", authReply)
	}

	clientConn2.Close()
	<-serverDone2
}

func TestAuthenticationWrongPassword(t *testing.T) {
	s := newTestServer()
	codec := pbwire.Codec{}
	phc, err := crypto.HashPassword([]byte("correct-horse"))
	if err != nil {
		t.Fatal(err)
	}
	s.Store.Create("bob", phc)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	serverDone := serveOneConnectionNonBlocking(t, s, serverConn)

	secret := clientHandshake(t, clientConn, codec)
	blob, err := eventbuilder.Construct(codec).AuthenticationRequest("bob", "wrong-password").Encrypt(secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteFrame(clientConn, blob); err != nil {
		t.Fatal(err)
	}

	reply := readAndDecode(t, clientConn, codec, secret)
	resp, ok := event.ExpectAuthenticationResponse(reply)
	if !ok || resp.Status != event.AuthenticationWrongPassword {
		t.Fatalf("expected wrong password status, got %+v", reply)
	}

	clientConn.Close()
	<-serverDone
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	s := newTestServer()
	codec := pbwire.Codec{}
	phc, err := crypto.HashPassword([]byte("whatever"))
	if err != nil {
		t.Fatal(err)
	}
	s.Store.Create("carol", phc)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	serverDone := serveOneConnectionNonBlocking(t, s, serverConn)

	secret := clientHandshake(t, clientConn, codec)
	blob, err := eventbuilder.Construct(codec).RegistrationRequest("carol", "whatever").Encrypt(secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteFrame(clientConn, blob); err != nil {
		t.Fatal(err)
	}

	reply := readAndDecode(t, clientConn, codec, secret)
	resp, ok := event.ExpectRegistrationResponse(reply)
	if !ok || resp.Status != event.RegistrationUserExists {
		t.Fatalf("expected duplicate status, got %+v", reply)
	}

	clientConn.Close()
	<-serverDone
}

func TestMessageRelayBetweenTwoPeers(t *testing.T) {
	s := newTestServer()
	codec := pbwire.Codec{}

	aliceClient, aliceServer := net.Pipe()
	bobClient, bobServer := net.Pipe()
	defer aliceClient.Close()
	defer bobClient.Close()

	serveOneConnectionNonBlocking(t, s, aliceServer)
	serveOneConnectionNonBlocking(t, s, bobServer)

	aliceSecret := clientHandshake(t, aliceClient, codec)
	bobSecret := clientHandshake(t, bobClient, codec)

	loginAs(t, aliceClient, codec, aliceSecret, "alice")
	loginAs(t, bobClient, codec, bobSecret, "bob")

	msgBlob, err := eventbuilder.Construct(codec).Message("alice", "hello bob").Encrypt(aliceSecret)
	if err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteFrame(aliceClient, msgBlob); err != nil {
		t.Fatal(err)
	}

	bobClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	relayed := readAndDecode(t, bobClient, codec, bobSecret)
	m, ok := event.ExpectMessage(relayed)
	if !ok || m.Sender != "alice" || m.Text != "hello bob" {
		t.Fatalf("relay mismatch: %+v", relayed)
	}
}

func loginAs(t *testing.T, conn net.Conn, codec event.Codec, secret crypto.SharedSecret, username string) {
	t.Helper()
	blob, err := eventbuilder.Construct(codec).RegistrationRequest(username, "password123").Encrypt(secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteFrame(conn, blob); err != nil {
		t.Fatal(err)
	}
	reply := readAndDecode(t, conn, codec, secret)
	resp, ok := event.ExpectRegistrationResponse(reply)
	if !ok || resp.Status != event.RegistrationSuccess {
		t.Fatalf("login failed for %s: %+v", username, reply)
	}
}

func readAndDecode(t *testing.T, conn net.Conn, codec event.Codec, secret crypto.SharedSecret) event.Entity {
	t.Helper()
	frame, err := framing.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	builder, err := eventbuilder.Deconstruct(codec).Decrypt(secret, frame)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	entity, err := builder.Deserialize()
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	return entity
}

var testAddrCounter int

func nextTestAddr() string {
	testAddrCounter++
	return "test-peer-" + string(rune('a'+testAddrCounter))
}

func serveOneConnectionNonBlocking(t *testing.T, s *Server, conn net.Conn) <-chan error {
	t.Helper()
	return serveOneConnection(s, conn, nextTestAddr())
}
