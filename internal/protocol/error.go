package protocol

import "fmt"

// ErrorCode discriminates client-visible errors. Values are wire format.
type ErrorCode string

const (
	ErrInvalidMessage      ErrorCode = "InvalidMessage"
	ErrClientDoesNotExist  ErrorCode = "ClientDoesNotExist"
	ErrAlreadyInGame       ErrorCode = "AlreadyInGame"
	ErrNotInGame           ErrorCode = "NotInGame"
	ErrInternalServerError ErrorCode = "InternalServerError"
	ErrNotGameHost         ErrorCode = "NotGameHost"
	ErrNoDataWithOpCode    ErrorCode = "NoDataWithOpCode"
	ErrCompilationError    ErrorCode = "CompilationError"
	ErrOutOfRangeTask      ErrorCode = "OutOfRangeTask"
	ErrNoGameWasFound      ErrorCode = "NoGameWasFound"
	ErrGameNotStarted      ErrorCode = "GameNotStarted"
	ErrGameAlreadyStarted  ErrorCode = "GameAlreadyStarted"
	ErrClientNotIdentified ErrorCode = "ClientNotIdentified"
	ErrInvalidGameID       ErrorCode = "InvalidGameID"
	ErrInvalidOpCode       ErrorCode = "InvalidOpCode"
	ErrParsingError        ErrorCode = "ParsingError"
	ErrSendError           ErrorCode = "SendError"
)

// ClientError is the typed error surfaced to clients as an Error frame.
// Handlers return it; the session layer serialises it and decides
// whether the connection survives.
type ClientError struct {
	Code   ErrorCode `json:"code"`
	Reason string    `json:"reason,omitempty"`
}

// NewClientError builds a ClientError with a human-readable reason.
func NewClientError(code ErrorCode, reason string) *ClientError {
	return &ClientError{Code: code, Reason: reason}
}

func (e *ClientError) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// Terminal reports whether the session must close after emitting the
// error. Only unparseable traffic is terminal; every game-logic error
// leaves the connection open.
func (e *ClientError) Terminal() bool {
	switch e.Code {
	case ErrInvalidMessage, ErrParsingError:
		return true
	}
	return false
}
