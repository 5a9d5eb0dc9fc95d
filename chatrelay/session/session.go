// Package session implements the client side of a relay connection: the
// session-secret negotiation state machine and the two cooperating
// receive/send loops that share it across a channel pair, as described for
// the original chat client's network half.
package session

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event"
	"github.com/kisuryoza/chatrelay/chatrelay/eventbuilder"
	"github.com/kisuryoza/chatrelay/chatrelay/framing"
	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
)

// SecretState tags which variant of SessionSecret is held.
type SecretState int

const (
	// SecretNone: no session negotiation in progress.
	SecretNone SecretState = iota
	// SecretPendingForShared: this client initiated and is waiting for the
	// peer's public key.
	SecretPendingForShared
	// SecretPendingToSend: the peer initiated; the shared secret has
	// already been computed and our own public key still needs sending.
	SecretPendingToSend
	// SecretEstablished: the symmetric session key is ready for use.
	SecretEstablished
)

// SessionSecret is the four-state variant governing client-to-client
// end-to-end encryption, layered on top of the client-to-broker secret.
type SessionSecret struct {
	State  SecretState
	Secret crypto.SecretKey // valid when State == SecretPendingForShared
	Public crypto.PublicKey // valid when State == SecretPendingToSend
	Shared crypto.SharedSecret
}

func (s SessionSecret) String() string {
	switch s.State {
	case SecretNone:
		return "None"
	case SecretPendingForShared:
		return fmt.Sprintf("PendingForShared(%s)", s.Secret.Encode())
	case SecretPendingToSend:
		return fmt.Sprintf("PendingToSend(%s)", s.Public.Encode())
	case SecretEstablished:
		return fmt.Sprintf("Established(%s)", s.Shared.Encode())
	default:
		return "Unknown"
	}
}

// ThreadCommunication is a crosswise-wired pair of buffered channels, one
// per direction, standing in for the original pair of send/receive tasks.
// Each channel holds up to 64 pending updates; a send blocks once 64 are
// waiting, so the channels are not unbounded.
type ThreadCommunication struct {
	Send <-chan SessionSecret
	Recv chan<- SessionSecret
}

// NewThreadCommunication builds two ThreadCommunication values wired
// crosswise: what one side sends, the other receives.
func NewThreadCommunication() (recvSide, sendSide ThreadCommunication) {
	toSend := make(chan SessionSecret, 64)
	toRecv := make(chan SessionSecret, 64)
	recvSide = ThreadCommunication{Send: toRecv, Recv: toSend}
	sendSide = ThreadCommunication{Send: toSend, Recv: toRecv}
	return recvSide, sendSide
}

// Client holds everything the two loops need: identity, the codec/crypto
// capabilities, and the broker-shared secret established during handshake.
type Client struct {
	Username     string
	Codec        event.Codec
	BrokerSecret crypto.SecretKey
}

// Run starts the receive and send loops against stream and blocks until
// both terminate (gracefully, via the Shutdown sentinel, or with error). If
// stream also implements io.Closer, it is closed as soon as either loop
// exits, so a local ":q" unblocks the other loop's pending socket read
// instead of leaking it. When the loop that exits first returns Shutdown,
// the other loop's error (typically caused by that close) is not reported.
func Run(stream io.ReadWriter, client Client, stdin io.Reader, stdout io.Writer) error {
	recvSide, sendSide := NewThreadCommunication()

	recvErr := make(chan error, 1)
	sendErr := make(chan error, 1)

	go func() { recvErr <- receiveLoop(stream, client, recvSide, stdout) }()
	go func() { sendErr <- sendLoop(stream, client, sendSide, stdin) }()

	var err1, err2 error
	closed := false
	closeOnExit := func() {
		if !closed {
			if closer, ok := stream.(io.Closer); ok {
				closer.Close()
			}
			closed = true
		}
	}

	select {
	case err1 = <-recvErr:
		closeOnExit()
		err2 = <-sendErr
		if relerr.IsShutdown(err1) {
			err2 = nil
		}
	case err2 = <-sendErr:
		closeOnExit()
		err1 = <-recvErr
		if relerr.IsShutdown(err2) {
			err1 = nil
		}
	}

	if err1 != nil && !relerr.IsShutdown(err1) {
		return err1
	}
	if err2 != nil && !relerr.IsShutdown(err2) {
		return err2
	}
	return nil
}

type frameOrErr struct {
	frame []byte
	err   error
}

func receiveLoop(stream io.ReadWriter, client Client, comm ThreadCommunication, stdout io.Writer) error {
	frames := make(chan frameOrErr)
	go func() {
		for {
			frame, err := framing.ReadFrame(stream)
			frames <- frameOrErr{frame, err}
			if err != nil {
				return
			}
		}
	}()

	secret := SessionSecret{State: SecretNone}
	for {
		select {
		case update := <-comm.Send:
			secret = update

		case fe := <-frames:
			if fe.err != nil {
				if relerr.IsShutdown(fe.err) {
					return relerr.Shutdown
				}
				return fe.err
			}

			builder, err := eventbuilder.Deconstruct(client.Codec).Decrypt(client.BrokerSecret, fe.frame)
			if err != nil {
				return err
			}
			entity, err := builder.Deserialize()
			if err != nil {
				return err
			}

			switch kind := entity.Kind.(type) {
			case event.Handshake:
				secret, err = processHandshake(secret, comm, kind.PubKey)
				if err != nil {
					return err
				}
			case event.Message:
				if err := printMessage(stdout, secret, entity.Timestamp, kind); err != nil {
					return err
				}
			case event.RegistrationRequest, event.RegistrationResponse,
				event.AuthenticationRequest, event.AuthenticationResponse:
				// not expected post-login; treated as a no-op.
			}
		}
	}
}

func processHandshake(secret SessionSecret, comm ThreadCommunication, peerPublic crypto.PublicKey) (SessionSecret, error) {
	switch secret.State {
	case SecretNone:
		kp, err := crypto.NewKeyPair()
		if err != nil {
			return secret, err
		}
		pending := SessionSecret{State: SecretPendingToSend, Public: kp.Public()}
		comm.Recv <- pending

		shared, err := crypto.ComputeDH(kp.Secret(), peerPublic)
		if err != nil {
			return secret, err
		}
		established := SessionSecret{State: SecretEstablished, Shared: shared}
		comm.Recv <- established
		return established, nil

	case SecretPendingForShared:
		shared, err := crypto.ComputeDH(secret.Secret, peerPublic)
		if err != nil {
			return secret, err
		}
		established := SessionSecret{State: SecretEstablished, Shared: shared}
		comm.Recv <- established
		return established, nil

	case SecretPendingToSend:
		return secret, relerr.Wrap(relerr.Generic, "unreachable: PendingToSend while awaiting inbound Handshake")

	case SecretEstablished:
		// Once Established, further handshake requests are a protocol
		// error: the session secret never reverts.
		return secret, relerr.Wrap(relerr.Generic, "handshake received while session secret already established")

	default:
		return secret, relerr.Wrap(relerr.Generic, "unknown session secret state")
	}
}

var textEncoding = base64.URLEncoding.WithPadding(base64.NoPadding)

func printMessage(stdout io.Writer, secret SessionSecret, timestamp int64, msg event.Message) error {
	text := msg.Text
	if secret.State == SecretEstablished {
		decoded, err := textEncoding.DecodeString(msg.Text)
		if err != nil {
			return relerr.From(relerr.Decode, err)
		}
		plaintext, err := crypto.Decrypt(secret.Shared, decoded)
		if err != nil {
			return err
		}
		text = string(plaintext)
	}

	fmt.Fprintf(stdout, "%s: %s: %s\n", time.Unix(timestamp, 0).UTC().Format("15:04"), msg.Sender, text)
	return nil
}

// stdinCommand is one parsed line of user input.
type stdinCommand struct {
	quit      bool
	handshake bool
	text      string
	isText    bool
}

func parseStdinLine(line string) (stdinCommand, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, ":") {
		return stdinCommand{text: line, isText: true}, nil
	}
	switch line {
	case ":q":
		return stdinCommand{quit: true}, nil
	case ":handshake":
		return stdinCommand{handshake: true}, nil
	default:
		return stdinCommand{}, relerr.Wrap(relerr.Generic, "expected only text, :handshake or :q")
	}
}

func sendLoop(stream io.ReadWriter, client Client, comm ThreadCommunication, stdin io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	// stdin is read on a dedicated blocking helper so it never starves the
	// inter-task receive branch below.
	go func() {
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	secret := SessionSecret{State: SecretNone}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return relerr.From(relerr.IO, err)
				}
				return relerr.Shutdown
			}
			cmd, err := parseStdinLine(line)
			if err != nil {
				return err
			}
			next, err := handleStdinCommand(stream, client, comm, secret, cmd)
			if err != nil {
				return err
			}
			secret = next

		case update := <-comm.Send:
			next, err := handleInterTaskUpdate(stream, client, update)
			if err != nil {
				return err
			}
			secret = next
		}
	}
}

func handleStdinCommand(stream io.ReadWriter, client Client, comm ThreadCommunication, secret SessionSecret, cmd stdinCommand) (SessionSecret, error) {
	switch {
	case cmd.quit:
		return secret, relerr.Shutdown

	case cmd.isText:
		text := cmd.text
		if secret.State == SecretEstablished {
			ciphertext, err := crypto.Encrypt(secret.Shared, []byte(cmd.text))
			if err != nil {
				return secret, err
			}
			text = textEncoding.EncodeToString(ciphertext)
		}
		blob, err := eventbuilder.Construct(client.Codec).Message(client.Username, text).Encrypt(client.BrokerSecret)
		if err != nil {
			return secret, err
		}
		if err := framing.WriteFrame(stream, blob); err != nil {
			return secret, err
		}
		return secret, nil

	case cmd.handshake:
		if secret.State == SecretEstablished {
			// Once Established, further handshake requests are a protocol
			// error: the session secret never reverts.
			return secret, relerr.Wrap(relerr.Generic, "handshake requested while session secret already established")
		}
		kp, err := crypto.NewKeyPair()
		if err != nil {
			return secret, err
		}
		next := SessionSecret{State: SecretPendingForShared, Secret: kp.Secret()}
		comm.Recv <- next

		blob, err := eventbuilder.Construct(client.Codec).Handshake(kp.Public()).Encrypt(client.BrokerSecret)
		if err != nil {
			return secret, err
		}
		if err := framing.WriteFrame(stream, blob); err != nil {
			return secret, err
		}
		return next, nil

	default:
		return secret, relerr.Wrap(relerr.Generic, "expected only text, :handshake or :q")
	}
}

func handleInterTaskUpdate(stream io.ReadWriter, client Client, update SessionSecret) (SessionSecret, error) {
	switch update.State {
	case SecretPendingToSend:
		blob, err := eventbuilder.Construct(client.Codec).Handshake(update.Public).Encrypt(client.BrokerSecret)
		if err != nil {
			return update, err
		}
		if err := framing.WriteFrame(stream, blob); err != nil {
			return update, err
		}
		return update, nil

	case SecretEstablished:
		return update, nil

	default:
		return update, relerr.Wrap(relerr.Generic, "unreachable: None/PendingForShared received on send loop")
	}
}
