package websocket

import (
	"errors"
	"fmt"

	"chatrelay/pkg/types"
)

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Room-related errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before joining")
	ErrConnectionIDInUse          = errors.New("connection id already tracked")
	ErrConnectionNotTracked       = errors.New("connection is not tracked")
	ErrRoomAuthorization          = fmt.Errorf("%w: room does not match authenticated identity", types.ErrForbidden)
)

// Handler-related errors
var (
	ErrBinaryFrame = fmt.Errorf("%w: binary frames are not supported", types.ErrProtocol)
)
