package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is the production Directory backed by go-redis. The client's
// internal pool gives the synchronous per-operation semantics the
// callers expect; nothing here pins a connection.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to the broker at addr and verifies it with a ping.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{rdb: rdb}, nil
}

// Close releases the underlying client.
func (d *Redis) Close() error {
	return d.rdb.Close()
}

func (d *Redis) RegisterSession(ctx context.Context, clientID, shardID uuid.UUID) error {
	if err := d.rdb.Set(ctx, sessionKey(clientID), shardID.String(), 0).Err(); err != nil {
		return fmt.Errorf("register session %s: %w", clientID, err)
	}
	return nil
}

func (d *Redis) UnregisterSession(ctx context.Context, clientID uuid.UUID) error {
	if err := d.rdb.Del(ctx, sessionKey(clientID)).Err(); err != nil {
		return fmt.Errorf("unregister session %s: %w", clientID, err)
	}
	return nil
}

func (d *Redis) LookupSession(ctx context.Context, clientID uuid.UUID) (uuid.UUID, bool, error) {
	val, err := d.rdb.Get(ctx, sessionKey(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lookup session %s: %w", clientID, err)
	}
	shardID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("session %s maps to malformed shard id %q: %w", clientID, val, err)
	}
	return shardID, true, nil
}

func (d *Redis) ClaimGame(ctx context.Context, gameID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, gameKey(gameID), "", 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim game %s: %w", gameID, err)
	}
	return ok, nil
}

func (d *Redis) WriteGame(ctx context.Context, gameID string, rec GameRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal game record %s: %w", gameID, err)
	}
	if err := d.rdb.Set(ctx, gameKey(gameID), raw, 0).Err(); err != nil {
		return fmt.Errorf("write game %s: %w", gameID, err)
	}
	return nil
}

func (d *Redis) LookupGame(ctx context.Context, gameID string) (GameEntry, error) {
	val, err := d.rdb.Get(ctx, gameKey(gameID)).Result()
	if errors.Is(err, redis.Nil) {
		return GameEntry{}, nil
	}
	if err != nil {
		return GameEntry{}, fmt.Errorf("lookup game %s: %w", gameID, err)
	}
	if val == "" {
		return GameEntry{Exists: true, Claimed: true}, nil
	}
	var rec GameRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return GameEntry{}, fmt.Errorf("game %s holds malformed record %q: %w", gameID, val, err)
	}
	return GameEntry{Exists: true, Record: &rec}, nil
}

func (d *Redis) DeleteGame(ctx context.Context, gameID string) error {
	if err := d.rdb.Del(ctx, gameKey(gameID)).Err(); err != nil {
		return fmt.Errorf("delete game %s: %w", gameID, err)
	}
	return nil
}

func (d *Redis) Publish(ctx context.Context, topic string, data []byte) error {
	if err := d.rdb.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (d *Redis) Subscribe(ctx context.Context, topic string) (<-chan []byte, func() error, error) {
	pubsub := d.rdb.Subscribe(ctx, topic)
	// Force the SUBSCRIBE round-trip so a dead broker fails here, not
	// silently in the reader loop.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, pubsub.Close, nil
}

// DebugReset wipes the well-known development game key. Guarded by the
// SHOULD_RESET_REDIS flag at startup.
func (d *Redis) DebugReset(ctx context.Context) error {
	return d.rdb.Set(ctx, gameKey("monkey"), "", 0).Err()
}
