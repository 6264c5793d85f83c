package sharding

import (
	"fmt"

	"github.com/google/uuid"
)

// ShardRequestOp discriminates inner cross-shard requests.
type ShardRequestOp uint8

const (
	ShardRequestOpJoin ShardRequestOp = iota
	ShardRequestOpLeave
)

func (op ShardRequestOp) String() string {
	switch op {
	case ShardRequestOpJoin:
		return "Join"
	case ShardRequestOpLeave:
		return "Leave"
	default:
		return fmt.Sprintf("ShardRequestOp(%d)", uint8(op))
	}
}

// ShardRequest is the payload of a ShardDefault{op: Request} envelope.
type ShardRequest struct {
	D  []byte         `codec:"d"`
	Op ShardRequestOp `codec:"op"`
}

// NewRequest wraps a concrete request payload under its opcode.
func NewRequest(op ShardRequestOp, payload any) (ShardRequest, error) {
	d, err := Encode(payload)
	if err != nil {
		return ShardRequest{}, err
	}
	return ShardRequest{D: d, Op: op}, nil
}

// Data decodes the request payload against the schema for its op.
func (r ShardRequest) Data(v any) error {
	if len(r.D) == 0 {
		return fmt.Errorf("shard request %s carried no data", r.Op)
	}
	return Decode(r.D, v)
}

// ShardJoinRequest asks the host's shard to register a remote client
// into a game. Nickname rides along so the host shard can emit
// ConnectedClient events without a directory round-trip.
type ShardJoinRequest struct {
	GameID   string    `codec:"game_id"`
	HostID   uuid.UUID `codec:"host_id"`
	ClientID uuid.UUID `codec:"client_id"`
	ShardID  uuid.UUID `codec:"shard_id"`
	Nickname string    `codec:"nickname"`
}

// ShardLeaveRequest asks the host's shard to unregister a remote
// client from a game.
type ShardLeaveRequest struct {
	GameID   string    `codec:"game_id"`
	HostID   uuid.UUID `codec:"host_id"`
	ClientID uuid.UUID `codec:"client_id"`
	ShardID  uuid.UUID `codec:"shard_id"`
}
