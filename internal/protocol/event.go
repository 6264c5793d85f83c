package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codegrass/server/internal/task"
)

// GameEvent is the inner payload of a Default{op: GameEvent} frame,
// fanned out by the host replica to every participant of a match.
type GameEvent struct {
	Op    EventOp         `json:"op"`
	Event json.RawMessage `json:"event,omitempty"`
}

// NewGameEvent wraps a concrete event payload under its opcode.
func NewGameEvent(op EventOp, payload any) (GameEvent, error) {
	if payload == nil {
		return GameEvent{Op: op}, nil
	}
	e, err := json.Marshal(payload)
	if err != nil {
		return GameEvent{}, fmt.Errorf("marshal %s event: %w", op, err)
	}
	return GameEvent{Op: op, Event: e}, nil
}

// Data decodes the event payload against the schema for its op.
func (e GameEvent) Data(v any) error {
	if len(e.Event) == 0 {
		return fmt.Errorf("event %s carried no data", e.Op)
	}
	return json.Unmarshal(e.Event, v)
}

// ShutdownEvent tells participants the match is over, either because
// the host left or the game was torn down.
type ShutdownEvent struct{}

type StartEvent struct {
	TaskCount int `json:"task_count"`
}

type TaskEvent struct {
	Task task.GameTask `json:"task"`
}

// TaskFinishedEvent announces that a participant passed every public
// and private test case of a task. Not delivered to the submitter.
type TaskFinishedEvent struct {
	Task      task.GameTask `json:"task"`
	TaskIndex int           `json:"task_index"`
	ClientID  uuid.UUID     `json:"client_id"`
}

type ConnectedClientEvent struct {
	GameID   string    `json:"game_id"`
	ClientID uuid.UUID `json:"client_id"`
	Nickname string    `json:"nickname"`
}

type DisconnectedClientEvent struct {
	GameID   string    `json:"game_id"`
	ClientID uuid.UUID `json:"client_id"`
}
