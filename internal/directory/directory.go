// Package directory is the shared coordination plane: a key/value
// facet mapping clients and games to shards, and a topic facet used
// for inter-shard routing. Both live on the same Redis instance; the
// keyspace is the only global mutable state in the system.
package directory

import (
	"context"

	"github.com/google/uuid"
)

const (
	sessionKeyPrefix = "SOCKET:USER:"
	gameKeyPrefix    = "GAME:"
)

// GameRecord is the JSON value of an initialised GAME:{id} entry. A
// claimed-but-uninitialised game holds the reserved empty string
// instead.
type GameRecord struct {
	ShardID uuid.UUID `json:"shard_id"`
	HostID  uuid.UUID `json:"host_id"`
}

// GameEntry is the decoded state of a GAME:{id} key.
type GameEntry struct {
	// Exists is false when the key is absent entirely.
	Exists bool
	// Claimed is true while the key holds the reserved empty value
	// written by Create, before the host's Join initialises it.
	Claimed bool
	// Record is set iff the entry holds an initialised game.
	Record *GameRecord
}

// Directory is the directory plane as seen by the shard runtime and
// the game replicas. Implementations must be safe for concurrent use;
// no operation may hold a connection across a cross-shard round-trip.
type Directory interface {
	// RegisterSession records which shard owns a live session.
	RegisterSession(ctx context.Context, clientID, shardID uuid.UUID) error
	// UnregisterSession removes the session's entry.
	UnregisterSession(ctx context.Context, clientID uuid.UUID) error
	// LookupSession resolves a client to its shard.
	LookupSession(ctx context.Context, clientID uuid.UUID) (uuid.UUID, bool, error)

	// ClaimGame atomically claims a fresh game id with the reserved
	// empty value. Reports false when the id is already taken.
	ClaimGame(ctx context.Context, gameID string) (bool, error)
	// WriteGame initialises a game entry with its shard and host.
	WriteGame(ctx context.Context, gameID string, rec GameRecord) error
	// LookupGame reads a game entry in all three of its states.
	LookupGame(ctx context.Context, gameID string) (GameEntry, error)
	// DeleteGame removes a game entry.
	DeleteGame(ctx context.Context, gameID string) error

	// Publish sends bytes to a peer shard's topic.
	Publish(ctx context.Context, topic string, data []byte) error
	// Subscribe streams messages published on a topic until the
	// context ends. The returned closer tears the subscription down.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func() error, error)
}

func sessionKey(clientID uuid.UUID) string {
	return sessionKeyPrefix + clientID.String()
}

func gameKey(gameID string) string {
	return gameKeyPrefix + gameID
}
