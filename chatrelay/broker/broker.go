// Package broker implements the server side of a relay connection: the
// per-peer lifecycle (handshake, auth gate, relay loop) and the broker-wide
// peer registry used for fan-out.
package broker

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event"
	"github.com/kisuryoza/chatrelay/chatrelay/eventbuilder"
	"github.com/kisuryoza/chatrelay/chatrelay/framing"
	"github.com/kisuryoza/chatrelay/chatrelay/handshake"
	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
	"github.com/kisuryoza/chatrelay/chatrelay/store"
)

// Peer is the per-connection state held by the broker for the lifetime of
// one accepted client.
type Peer struct {
	addr      string
	conn      net.Conn
	inbox     chan []byte
	sharedKey crypto.SharedSecret
}

func (p *Peer) Addr() string                  { return p.addr }
func (p *Peer) SharedKey() crypto.SharedSecret { return p.sharedKey }

// Shared is the broker-wide registry mapping peer address to its inbox.
// Insertion happens at handshake-complete, removal at disconnect.
type Shared struct {
	mu    sync.Mutex
	peers map[string]chan []byte
}

// NewShared builds an empty peer registry.
func NewShared() *Shared {
	return &Shared{peers: make(map[string]chan []byte)}
}

func (s *Shared) insert(addr string, inbox chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[addr] = inbox
}

func (s *Shared) remove(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, addr)
}

// broadcast enqueues message on every peer's inbox except sender's. Sends
// never block: if a receiver's inbox is full, the message is dropped for
// that receiver silently (the per-peer inbox is large enough in practice
// that this is a last-resort guard, not the common path).
func (s *Shared) broadcast(sender string, message []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, inbox := range s.peers {
		if addr == sender {
			continue
		}
		select {
		case inbox <- message:
		default:
		}
	}
}

// Server holds the dependencies every accepted connection needs.
type Server struct {
	Codec  event.Codec
	Store  store.CredentialStore
	Shared *Shared
	Log    zerolog.Logger
}

// Accept runs the accept loop on listener until ctx is cancelled.
func (s *Server) Accept(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return relerr.From(relerr.IO, err)
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	addr := conn.RemoteAddr().String()
	log := s.Log.With().Str("addr", addr).Logger()
	defer conn.Close()

	if err := s.process(conn, addr, log); err != nil && !relerr.IsShutdown(err) {
		log.Warn().Err(err).Msg("connection closed with error")
		return
	}
	log.Info().Msg("connection closed")
}

func (s *Server) process(conn net.Conn, addr string, log zerolog.Logger) error {
	result, err := handshake.Perform(context.Background(), conn, s.Codec)
	if err != nil {
		return err
	}
	log.Info().Str("fingerprint", crypto.FingerprintEmoji(result.SharedSecret)).Msg("shared secret negotiated")

	inbox := make(chan []byte, 256)
	peer := &Peer{addr: addr, conn: conn, inbox: inbox, sharedKey: result.SharedSecret}

	s.Shared.insert(addr, inbox)
	defer s.Shared.remove(addr)

	if err := s.authenticate(peer, log); err != nil {
		return err
	}
	log.Info().Msg("authenticated")

	return s.relayLoop(peer, log)
}

// authenticate reads exactly one frame, expects a Registration or
// Authentication request, replies with an encrypted status response, and
// terminates the connection on anything but success.
func (s *Server) authenticate(peer *Peer, log zerolog.Logger) error {
	frame, err := framing.ReadFrame(peer.conn)
	if err != nil {
		return err
	}

	builder, err := eventbuilder.Deconstruct(s.Codec).Decrypt(peer.sharedKey, frame)
	if err != nil {
		return err
	}
	entity, err := builder.Deserialize()
	if err != nil {
		return err
	}

	switch kind := entity.Kind.(type) {
	case event.RegistrationRequest:
		status, err := s.register(kind.Username, kind.Password)
		if err != nil {
			return err
		}
		if err := s.sendAuthReply(peer, eventbuilder.Construct(s.Codec).RegistrationResponse(status)); err != nil {
			return err
		}
		if status != event.RegistrationSuccess {
			return relerr.Wrapf(relerr.Generic, "registration failed: %s", status)
		}
		return nil

	case event.AuthenticationRequest:
		status, err := s.authenticateUser(kind.Username, kind.Password)
		if err != nil {
			return err
		}
		if err := s.sendAuthReply(peer, eventbuilder.Construct(s.Codec).AuthenticationResponse(status)); err != nil {
			return err
		}
		if status != event.AuthenticationSuccess {
			return relerr.Wrapf(relerr.Generic, "authentication failed: %s", status)
		}
		return nil

	default:
		return relerr.Wrap(relerr.Generic, "expected client to participate in authentication process")
	}
}

func (s *Server) sendAuthReply(peer *Peer, constructed eventbuilder.Builder[eventbuilder.Constructed]) error {
	blob, err := constructed.Encrypt(peer.sharedKey)
	if err != nil {
		return err
	}
	return framing.WriteFrame(peer.conn, blob)
}

func (s *Server) register(login, password string) (event.RegistrationStatus, error) {
	phc, err := crypto.HashPassword([]byte(password))
	if err != nil {
		return 0, err
	}
	if err := s.Store.Create(login, phc); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return event.RegistrationUserExists, nil
		}
		return 0, err
	}
	return event.RegistrationSuccess, nil
}

func (s *Server) authenticateUser(login, password string) (event.AuthenticationStatus, error) {
	phc, ok, err := s.Store.Lookup(login)
	if err != nil {
		return 0, err
	}
	if !ok {
		return event.AuthenticationUserDoesNotExist, nil
	}
	verified, err := crypto.VerifyPassword(phc, []byte(password))
	if err != nil {
		return 0, err
	}
	if !verified {
		return event.AuthenticationWrongPassword, nil
	}
	return event.AuthenticationSuccess, nil
}

// relayLoop suspends on either the peer's inbox (messages broadcast by
// other peers) or the socket (frames sent by this peer).
func (s *Server) relayLoop(peer *Peer, log zerolog.Logger) error {
	frames := make(chan frameOrErr)
	go func() {
		for {
			frame, err := framing.ReadFrame(peer.conn)
			frames <- frameOrErr{frame, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case payload := <-peer.inbox:
			reencrypted, err := crypto.Encrypt(peer.sharedKey, payload)
			if err != nil {
				return err
			}
			if err := framing.WriteFrame(peer.conn, reencrypted); err != nil {
				return err
			}

		case fe := <-frames:
			if fe.err != nil {
				if relerr.IsShutdown(fe.err) {
					return nil
				}
				return fe.err
			}
			if err := s.onReceiveFromPeer(peer, fe.frame); err != nil {
				log.Warn().Err(err).Msg("error processing frame from peer")
			}
		}
	}
}

type frameOrErr struct {
	frame []byte
	err   error
}

func (s *Server) onReceiveFromPeer(peer *Peer, frame []byte) error {
	decrypted, err := crypto.Decrypt(peer.sharedKey, frame)
	if err != nil {
		return err
	}
	entity, err := s.Codec.Deserialize(decrypted)
	if err != nil {
		return err
	}

	switch entity.Kind.(type) {
	case event.Message, event.Handshake:
		s.Shared.broadcast(peer.addr, decrypted)
	case event.RegistrationRequest, event.RegistrationResponse,
		event.AuthenticationRequest, event.AuthenticationResponse:
		// ignored post-login
	}
	return nil
}
