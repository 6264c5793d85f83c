package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codegrass/server/internal/task"
)

// Response is the inner payload of a Default{op: Response} frame.
type Response struct {
	Op ResponseOp      `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// NewResponse wraps a concrete response payload under its opcode.
func NewResponse(op ResponseOp, payload any) (Response, error) {
	if payload == nil {
		return Response{Op: op}, nil
	}
	d, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal %s response: %w", op, err)
	}
	return Response{Op: op, D: d}, nil
}

// Data decodes the response payload against the schema for its op.
func (r Response) Data(v any) error {
	if len(r.D) == 0 {
		return fmt.Errorf("response %s carried no data", r.Op)
	}
	return json.Unmarshal(r.D, v)
}

type IdentifyResponse struct {
	Success bool `json:"success"`
}

type CreateResponse struct {
	GameID string `json:"game_id"`
}

type ExistsResponse struct {
	Exists bool `json:"exists"`
}

type JoinResponse struct {
	GameID  string `json:"game_id"`
	IsHost  bool   `json:"is_host"`
	Success bool   `json:"success"`
}

type LeaveResponse struct {
	GameID  string `json:"game_id"`
	Success bool   `json:"success"`
}

type ShutdownResponse struct {
	Success bool `json:"success"`
}

type TaskResponse struct {
	Task task.GameTask `json:"task"`
}

type PingResponse struct{}

// TimeoutResponse echoes a request whose handler exceeded its deadline.
type TimeoutResponse struct {
	D Default `json:"d"`
}

// TestProgress is the per-case outcome of a compile run.
type TestProgress struct {
	ID     uuid.UUID `json:"id"`
	Passed bool      `json:"passed"`
}

type CompileResponse struct {
	TaskIndex          int            `json:"task_index"`
	PublicTestProgress []TestProgress `json:"public_test_progress"`
	IsDone             bool           `json:"is_done"`
	IsDonePublicTests  bool           `json:"is_done_public_tests"`
	IsDonePrivateTests bool           `json:"is_done_private_tests"`
	Stderr             string         `json:"stderr,omitempty"`
}
