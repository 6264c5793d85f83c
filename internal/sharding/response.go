package sharding

import (
	"fmt"

	"github.com/google/uuid"
)

// ShardResponseOp discriminates inner cross-shard responses,
// mirroring the request opcodes.
type ShardResponseOp uint8

const (
	ShardResponseOpJoin ShardResponseOp = iota
	ShardResponseOpLeave
)

func (op ShardResponseOp) String() string {
	switch op {
	case ShardResponseOpJoin:
		return "Join"
	case ShardResponseOpLeave:
		return "Leave"
	default:
		return fmt.Sprintf("ShardResponseOp(%d)", uint8(op))
	}
}

// ShardResponse is the payload of a ShardDefault{op: Response} envelope.
type ShardResponse struct {
	D  []byte          `codec:"d"`
	Op ShardResponseOp `codec:"op"`
}

// NewResponse wraps a concrete response payload under its opcode.
func NewResponse(op ShardResponseOp, payload any) (ShardResponse, error) {
	d, err := Encode(payload)
	if err != nil {
		return ShardResponse{}, err
	}
	return ShardResponse{D: d, Op: op}, nil
}

// Data decodes the response payload against the schema for its op.
func (r ShardResponse) Data(v any) error {
	if len(r.D) == 0 {
		return fmt.Errorf("shard response %s carried no data", r.Op)
	}
	return Decode(r.D, v)
}

// ShardJoinResponse reports the outcome of a cross-shard join back to
// the shard that owns the joining client. Correlation is by ClientID.
// HostNickname rides along so the requester can build a complete host
// handle for the follower replica.
type ShardJoinResponse struct {
	GameID       string    `codec:"game_id"`
	HostID       uuid.UUID `codec:"host_id"`
	HostNickname string    `codec:"host_nickname"`
	ClientID     uuid.UUID `codec:"client_id"`
	ShardID      uuid.UUID `codec:"shard_id"`
	Success      bool      `codec:"success"`
}

// ShardLeaveResponse acknowledges a cross-shard leave.
type ShardLeaveResponse struct {
	GameID   string    `codec:"game_id"`
	HostID   uuid.UUID `codec:"host_id"`
	ClientID uuid.UUID `codec:"client_id"`
	ShardID  uuid.UUID `codec:"shard_id"`
	Success  bool      `codec:"success"`
}
