package websocket

import "errors"

var ErrInvalidJSON = errors.New("invalid JSON data")

// Session-related errors
var (
	ErrInvalidTransition = errors.New("invalid session state transition")
)
