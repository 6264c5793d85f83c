package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Default is the outer envelope of every client frame:
// {"op": <number>, "d": <payload>}.
//
// The payload stays raw until the op is known; decoding is always
// two-step so a malformed payload for one op cannot poison parsing of
// the envelope itself.
type Default struct {
	Op OpCode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// NewDefault wraps a payload under the given opcode.
func NewDefault(op OpCode, payload any) (Default, error) {
	if payload == nil {
		return Default{Op: op}, nil
	}
	d, err := json.Marshal(payload)
	if err != nil {
		return Default{}, fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return Default{Op: op, D: d}, nil
}

// DecodeDefault parses an outer envelope and validates its opcode.
func DecodeDefault(data []byte) (Default, error) {
	var m Default
	if err := json.Unmarshal(data, &m); err != nil {
		return Default{}, err
	}
	if !m.Op.Valid() {
		return Default{}, fmt.Errorf("unknown opcode %d", uint8(m.Op))
	}
	return m, nil
}

// Encode serialises the envelope to its on-wire text form.
func (m Default) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Hello is pushed to a client right after the transport handshake and
// carries the identifier the server assigned to the session.
type Hello struct {
	ID uuid.UUID `json:"id"`
}

// ForcedDisconnection is a best-effort frame pushed when a session is
// reclaimed without a clean close, so clients can tell crashes from
// normal shutdowns.
type ForcedDisconnection struct{}
