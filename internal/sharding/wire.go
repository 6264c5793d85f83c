// Package sharding defines the binary envelopes exchanged between peer
// shards over the broker. Every message on a shard's topic is a
// ShardDefault; its payload stays opaque bytes until the opcode is
// known, mirroring the two-step decode of the client codec.
package sharding

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-msgpack/v2/codec"
)

var msgpackHandle = &codec.MsgpackHandle{}

// Encode serialises a value with the inter-shard msgpack handle.
func Encode(v any) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, msgpackHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	return buf, nil
}

// Decode deserialises a value with the inter-shard msgpack handle.
func Decode(data []byte, v any) error {
	if err := codec.NewDecoderBytes(data, msgpackHandle).Decode(v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}

// ShardOpCode discriminates ShardDefault payloads.
type ShardOpCode uint8

const (
	// ShardOpSendToClient delivers an already-serialised client frame
	// to the session identified by the envelope's Target.
	ShardOpSendToClient ShardOpCode = iota
	ShardOpGameEvent
	ShardOpRequest
	ShardOpResponse
)

func (op ShardOpCode) String() string {
	switch op {
	case ShardOpSendToClient:
		return "SendToClient"
	case ShardOpGameEvent:
		return "GameEvent"
	case ShardOpRequest:
		return "Request"
	case ShardOpResponse:
		return "Response"
	default:
		return fmt.Sprintf("ShardOpCode(%d)", uint8(op))
	}
}

// ShardDefault is the outer inter-shard envelope. Target is only
// meaningful for ShardOpSendToClient. ID identifies the envelope for
// tracing; responses are correlated by the client id embedded in the
// payload, not by this id.
type ShardDefault struct {
	D      []byte      `codec:"d"`
	Op     ShardOpCode `codec:"op"`
	ID     uuid.UUID   `codec:"id"`
	Target uuid.UUID   `codec:"target"`
}

// NewEnvelope wraps an inner message (itself msgpack-encoded) under op.
func NewEnvelope(op ShardOpCode, payload any) (ShardDefault, error) {
	d, err := Encode(payload)
	if err != nil {
		return ShardDefault{}, err
	}
	return ShardDefault{D: d, Op: op, ID: uuid.New()}, nil
}

// NewClientFrameEnvelope wraps a serialised client JSON frame for
// delivery to a session living on another shard.
func NewClientFrameEnvelope(target uuid.UUID, frame []byte) ShardDefault {
	return ShardDefault{D: frame, Op: ShardOpSendToClient, ID: uuid.New(), Target: target}
}

// EncodeEnvelope serialises the outer envelope for publication.
func EncodeEnvelope(m ShardDefault) ([]byte, error) {
	return Encode(&m)
}

// DecodeEnvelope parses bytes received on the shard's own topic.
func DecodeEnvelope(data []byte) (ShardDefault, error) {
	var m ShardDefault
	if err := Decode(data, &m); err != nil {
		return ShardDefault{}, err
	}
	return m, nil
}

// Data decodes the envelope payload against the schema for its op.
func (m ShardDefault) Data(v any) error {
	if len(m.D) == 0 {
		return fmt.Errorf("shard envelope %s carried no data", m.Op)
	}
	return Decode(m.D, v)
}
