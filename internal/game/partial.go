package game

import (
	"context"

	"github.com/google/uuid"

	"github.com/codegrass/server/internal/sharding"
)

// Enqueue pushes a serialised frame onto a session's bounded send
// channel without blocking. It fails when the channel is closed or
// full; the caller decides whether that matters.
type Enqueue func(frame []byte) error

// Publisher delivers an inter-shard envelope to a peer shard's topic.
// Captured by replicas at construction so dropping a game never needs
// to reach back into its owning session.
type Publisher interface {
	PublishToShard(ctx context.Context, shardID uuid.UUID, env sharding.ShardDefault) error
}

// Participant is an opaque handle to a client wherever it lives. The
// replica never holds a session reference: local delivery goes through
// the captured enqueue, remote delivery through the broker.
type Participant struct {
	ID       uuid.UUID
	Nickname string
	ShardID  uuid.UUID
	IsLocal  bool

	enqueue Enqueue

	// progress is per-task completion, owned by the host replica and
	// mutated only under the replica's lock.
	progress map[int]bool
}

// NewLocalParticipant builds a handle to a session on this shard.
func NewLocalParticipant(id uuid.UUID, nickname string, shardID uuid.UUID, enq Enqueue) *Participant {
	return &Participant{ID: id, Nickname: nickname, ShardID: shardID, IsLocal: true, enqueue: enq}
}

// NewRemoteParticipant builds a handle to a session on a peer shard.
func NewRemoteParticipant(id uuid.UUID, nickname string, shardID uuid.UUID) *Participant {
	return &Participant{ID: id, Nickname: nickname, ShardID: shardID}
}

// Deliver sends a serialised client frame to the participant. Local
// participants get it on their send channel; remote ones get it
// wrapped in a SendToClient envelope on their shard's topic.
func (p *Participant) Deliver(ctx context.Context, pub Publisher, frame []byte) error {
	if p.IsLocal {
		return p.enqueue(frame)
	}
	return pub.PublishToShard(ctx, p.ShardID, sharding.NewClientFrameEnvelope(p.ID, frame))
}
