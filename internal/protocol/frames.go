package protocol

// Frame composition helpers. Everything a shard writes to a client is
// one of these four shapes.

// ResponseFrame serialises Default{Response{op, payload}}.
func ResponseFrame(op ResponseOp, payload any) ([]byte, error) {
	resp, err := NewResponse(op, payload)
	if err != nil {
		return nil, err
	}
	m, err := NewDefault(OpResponse, resp)
	if err != nil {
		return nil, err
	}
	return m.Encode()
}

// EventFrame serialises Default{GameEvent{op, payload}}.
func EventFrame(op EventOp, payload any) ([]byte, error) {
	ev, err := NewGameEvent(op, payload)
	if err != nil {
		return nil, err
	}
	m, err := NewDefault(OpGameEvent, ev)
	if err != nil {
		return nil, err
	}
	return m.Encode()
}

// ErrorFrame serialises Default{Error} for a client error.
func ErrorFrame(cerr *ClientError) ([]byte, error) {
	m, err := NewDefault(OpError, cerr)
	if err != nil {
		return nil, err
	}
	return m.Encode()
}

// HelloFrame serialises the greeting pushed on accept.
func HelloFrame(id Hello) ([]byte, error) {
	m, err := NewDefault(OpHello, id)
	if err != nil {
		return nil, err
	}
	return m.Encode()
}

// ForcedDisconnectionFrame serialises the unclean-teardown marker.
func ForcedDisconnectionFrame() ([]byte, error) {
	m, err := NewDefault(OpForcedDisconnection, nil)
	if err != nil {
		return nil, err
	}
	return m.Encode()
}
