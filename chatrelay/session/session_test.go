package session

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event/pbwire"
	"github.com/kisuryoza/chatrelay/chatrelay/eventbuilder"
	"github.com/kisuryoza/chatrelay/chatrelay/framing"
)

func TestParseStdinLine(t *testing.T) {
	cases := []struct {
		in        string
		wantText  bool
		wantQuit  bool
		wantHS    bool
		wantError bool
	}{
		{in: "hello there", wantText: true},
		{in: ":q", wantQuit: true},
		{in: ":handshake", wantHS: true},
		{in: ":bogus", wantError: true},
	}
	for _, c := range cases {
		got, err := parseStdinLine(c.in)
		if c.wantError {
			if err == nil {
				t.Fatalf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", c.in, err)
		}
		if got.isText != c.wantText || got.quit != c.wantQuit || got.handshake != c.wantHS {
			t.Fatalf("%q: got %+v", c.in, got)
		}
	}
}

func TestSessionQuitShutsDownCleanly(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	kp, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	var brokerSecret crypto.SecretKey
	brokerSecret = kp.Secret()

	client := Client{Username: "alice", Codec: pbwire.Codec{}, BrokerSecret: brokerSecret}

	stdin := strings.NewReader(":q\n")
	var stdout bytes.Buffer

	done := make(chan error, 1)
	go func() { done <- Run(clientConn, client, stdin, &stdout) }()

	// drain whatever the peer side reads so Run's goroutines don't block
	// forever on a frame write; :q should shut down without writing.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := peerConn.Read(buf); err != nil {
				return
			}
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate after :q")
	}
}

func TestHandshakeRejectedOnceEstablished(t *testing.T) {
	kp, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	brokerSecret := kp.Secret()
	client := Client{Username: "alice", Codec: pbwire.Codec{}, BrokerSecret: brokerSecret}

	clientConn, peerConn := net.Pipe()
	defer clientConn.Close()
	defer peerConn.Close()
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := peerConn.Read(buf); err != nil {
				return
			}
		}
	}()

	secret := SessionSecret{State: SecretEstablished, Shared: brokerSecret}
	_, sendSide := NewThreadCommunication()

	_, err = handleStdinCommand(clientConn, client, sendSide, secret, stdinCommand{handshake: true})
	if err == nil {
		t.Fatal("expected error re-handshaking an established session secret")
	}
}

func TestSessionPrintsIncomingMessage(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer clientConn.Close()
	defer peerConn.Close()

	kp, err := crypto.NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	brokerSecret := kp.Secret()
	codec := pbwire.Codec{}

	client := Client{Username: "alice", Codec: codec, BrokerSecret: brokerSecret}

	stdin, stdinWriter := net.Pipe()
	defer stdinWriter.Close()
	var stdout bytes.Buffer

	done := make(chan error, 1)
	go func() { done <- Run(clientConn, client, stdin, &stdout) }()

	blob, err := eventbuilder.Construct(codec).Message("bob", "hi there").Encrypt(brokerSecret)
	if err != nil {
		t.Fatal(err)
	}
	if err := framing.WriteFrame(peerConn, blob); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	clientConn.Close()
	peerConn.Close()
	stdinWriter.Close()
	<-done

	if !strings.Contains(stdout.String(), "bob: hi there") {
		t.Fatalf("expected printed message, got %q", stdout.String())
	}
}
