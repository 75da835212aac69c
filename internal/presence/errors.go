package presence

import "errors"

// Registry errors
var (
	ErrEmptyConnectionID    = errors.New("connection id cannot be empty")
	ErrEmptyUserID          = errors.New("user id cannot be empty")
	ErrConnectionReassigned = errors.New("connection id already bound to another user")
)
