package event

// Codec is the serialization capability shared by both wire encodings.
// Serialize returns no error: pbwire appends to a growing byte slice, and
// capnpwire panics on an encoder failure rather than returning it.
// Deserialize fails with relerr.Decode on
// malformed input, an unknown enum variant, or a missing required field.
type Codec interface {
	Serialize(e Entity) []byte
	Deserialize(b []byte) (Entity, error)
}

// Expect* helpers let callers assert the kind they expected to receive
// without repeating the same type switch at every call site.

func ExpectHandshake(e Entity) (Handshake, bool) {
	h, ok := e.Kind.(Handshake)
	return h, ok
}

func ExpectRegistrationRequest(e Entity) (RegistrationRequest, bool) {
	r, ok := e.Kind.(RegistrationRequest)
	return r, ok
}

func ExpectRegistrationResponse(e Entity) (RegistrationResponse, bool) {
	r, ok := e.Kind.(RegistrationResponse)
	return r, ok
}

func ExpectAuthenticationRequest(e Entity) (AuthenticationRequest, bool) {
	a, ok := e.Kind.(AuthenticationRequest)
	return a, ok
}

func ExpectAuthenticationResponse(e Entity) (AuthenticationResponse, bool) {
	a, ok := e.Kind.(AuthenticationResponse)
	return a, ok
}

func ExpectMessage(e Entity) (Message, bool) {
	m, ok := e.Kind.(Message)
	return m, ok
}
