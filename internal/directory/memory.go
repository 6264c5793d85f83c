package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Directory used by tests and by single-shard
// development runs without a broker. Topic subscribers share one
// in-memory bus; delivery is best-effort like the real broker.
type Memory struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]uuid.UUID
	games    map[string]*GameEntry
	topics   map[string][]chan []byte
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[uuid.UUID]uuid.UUID),
		games:    make(map[string]*GameEntry),
		topics:   make(map[string][]chan []byte),
	}
}

func (d *Memory) RegisterSession(_ context.Context, clientID, shardID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[clientID] = shardID
	return nil
}

func (d *Memory) UnregisterSession(_ context.Context, clientID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, clientID)
	return nil
}

func (d *Memory) LookupSession(_ context.Context, clientID uuid.UUID) (uuid.UUID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	shardID, ok := d.sessions[clientID]
	return shardID, ok, nil
}

func (d *Memory) ClaimGame(_ context.Context, gameID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.games[gameID]; taken {
		return false, nil
	}
	d.games[gameID] = &GameEntry{Exists: true, Claimed: true}
	return true, nil
}

func (d *Memory) WriteGame(_ context.Context, gameID string, rec GameRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := rec
	d.games[gameID] = &GameEntry{Exists: true, Record: &r}
	return nil
}

func (d *Memory) LookupGame(_ context.Context, gameID string) (GameEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.games[gameID]
	if !ok {
		return GameEntry{}, nil
	}
	out := GameEntry{Exists: true, Claimed: entry.Claimed}
	if entry.Record != nil {
		rec := *entry.Record
		out.Record = &rec
	}
	return out, nil
}

func (d *Memory) DeleteGame(_ context.Context, gameID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.games, gameID)
	return nil
}

func (d *Memory) Publish(_ context.Context, topic string, data []byte) error {
	d.mu.Lock()
	subs := append([]chan []byte(nil), d.topics[topic]...)
	d.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- data:
		default:
			// Broker semantics: slow subscribers lose messages.
		}
	}
	return nil
}

func (d *Memory) Subscribe(ctx context.Context, topic string) (<-chan []byte, func() error, error) {
	ch := make(chan []byte, 256)
	d.mu.Lock()
	d.topics[topic] = append(d.topics[topic], ch)
	d.mu.Unlock()

	closer := func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.topics[topic]
		for i, sub := range subs {
			if sub == ch {
				d.topics[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		return nil
	}
	return ch, closer, nil
}
