package protocol

import (
	"encoding/json"
	"fmt"
)

// Request is the inner payload of a Default{op: Request} frame.
type Request struct {
	Op RequestOp       `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// DecodeRequest parses the inner request and validates its opcode.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, err
	}
	if !r.Op.Valid() {
		return Request{}, fmt.Errorf("unknown request opcode %q", string(r.Op))
	}
	return r, nil
}

// Data decodes the request payload against the schema for its op.
func (r Request) Data(v any) error {
	if len(r.D) == 0 {
		return fmt.Errorf("request %s carried no data", r.Op)
	}
	return json.Unmarshal(r.D, v)
}

type IdentifyRequest struct {
	Nickname string `json:"nickname"`
}

type JoinRequest struct {
	GameID string `json:"game_id"`
}

type ExistsRequest struct {
	GameID string `json:"game_id"`
}

type StartRequest struct {
	TaskCount int `json:"task_count"`
}

type TaskRequest struct {
	TaskIndex int `json:"task_index"`
}

type CompileRequest struct {
	TaskIndex int    `json:"task_index"`
	Code      string `json:"code"`
	Language  string `json:"language,omitempty"`
}
