package event

import "github.com/kisuryoza/chatrelay/chatrelay/crypto"

// These constructors build an Entity around the requested Kind. Timestamp is
// left zero here — a Codec stamps it with the current time at Serialize.

func NewHandshake(pub crypto.PublicKey) Entity {
	return Entity{Kind: Handshake{PubKey: pub}}
}

func NewRegistrationRequest(username, password string) Entity {
	return Entity{Kind: RegistrationRequest{Username: username, Password: password}}
}

func NewRegistrationResponse(status RegistrationStatus) Entity {
	return Entity{Kind: RegistrationResponse{Status: status}}
}

func NewAuthenticationRequest(username, password string) Entity {
	return Entity{Kind: AuthenticationRequest{Username: username, Password: password}}
}

func NewAuthenticationResponse(status AuthenticationStatus) Entity {
	return Entity{Kind: AuthenticationResponse{Status: status}}
}

func NewMessage(sender, text string) Entity {
	return Entity{Kind: Message{Sender: sender, Text: text}}
}
