package protocol

import "fmt"

// OpCode is the outer frame discriminator. It is serialised as a bare
// number, so the values are wire format and must not be reordered.
type OpCode uint8

const (
	OpHello OpCode = iota
	OpError
	OpForcedDisconnection
	OpGameEvent
	OpRequest
	OpResponse
)

func (op OpCode) Valid() bool {
	return op <= OpResponse
}

func (op OpCode) String() string {
	switch op {
	case OpHello:
		return "Hello"
	case OpError:
		return "Error"
	case OpForcedDisconnection:
		return "ForcedDisconnection"
	case OpGameEvent:
		return "GameEvent"
	case OpRequest:
		return "Request"
	case OpResponse:
		return "Response"
	default:
		return fmt.Sprintf("OpCode(%d)", uint8(op))
	}
}

// RequestOp discriminates the payload of an inbound Request frame.
// Serialised as a string, matching the original wire format.
type RequestOp string

const (
	RequestOpJoin     RequestOp = "Join"
	RequestOpLeave    RequestOp = "Leave"
	RequestOpStart    RequestOp = "Start"
	RequestOpTask     RequestOp = "Task"
	RequestOpCompile  RequestOp = "Compile"
	RequestOpPing     RequestOp = "Ping"
	RequestOpIdentify RequestOp = "Identify"
	RequestOpCreate   RequestOp = "Create"
	RequestOpExists   RequestOp = "Exists"
)

func (op RequestOp) Valid() bool {
	switch op {
	case RequestOpJoin, RequestOpLeave, RequestOpStart, RequestOpTask,
		RequestOpCompile, RequestOpPing, RequestOpIdentify, RequestOpCreate,
		RequestOpExists:
		return true
	}
	return false
}

// ResponseOp discriminates the payload of an outbound Response frame.
type ResponseOp string

const (
	ResponseOpJoin     ResponseOp = "Join"
	ResponseOpLeave    ResponseOp = "Leave"
	ResponseOpShutdown ResponseOp = "Shutdown"
	ResponseOpTask     ResponseOp = "Task"
	ResponseOpTimeout  ResponseOp = "Timeout"
	ResponseOpPing     ResponseOp = "Ping"
	ResponseOpCompile  ResponseOp = "Compile"
	ResponseOpIdentify ResponseOp = "Identify"
	ResponseOpCreate   ResponseOp = "Create"
	ResponseOpExists   ResponseOp = "Exists"
)

// EventOp discriminates game events fanned out to participants.
type EventOp string

const (
	EventOpShutdown           EventOp = "Shutdown"
	EventOpStart              EventOp = "Start"
	EventOpTask               EventOp = "Task"
	EventOpTaskFinished       EventOp = "TaskFinished"
	EventOpConnectedClient    EventOp = "ConnectedClient"
	EventOpDisconnectedClient EventOp = "DisconnectedClient"
)
