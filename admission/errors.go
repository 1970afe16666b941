package admission

import "errors"

var (
	ErrTooManyConnections = errors.New("too-many-connections")
	ErrMessageTooLarge    = errors.New("message-too-large")
	ErrRateLimited        = errors.New("rate-limited")
	ErrInvalidRoomCode    = errors.New("invalid-room-code")
)
