package router

import (
	"errors"
	"fmt"

	"chatrelay/pkg/types"
)

// Errors reported back to the sender
var (
	ErrRateLimitExceeded = fmt.Errorf("%w: rate limit exceeded", types.ErrThrottled)
	ErrSelfAddressed     = fmt.Errorf("%w: event addressed to sender", types.ErrProtocol)
	ErrIdentityMismatch  = fmt.Errorf("%w: payload identity does not match connection", types.ErrProtocol)
	ErrNotRoutable       = fmt.Errorf("%w: event is not routed", types.ErrProtocol)
	ErrUnauthenticated   = fmt.Errorf("%w: sender is not authenticated", types.ErrForbidden)
)

// Errors that only get logged: the event is dropped for this delivery
var (
	ErrBlocked            = errors.New("delivery blocked between users")
	ErrLookupFailed       = errors.New("friendship lookup failed")
	ErrProfileUnavailable = errors.New("sender profile unavailable")
)
