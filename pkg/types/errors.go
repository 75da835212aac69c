package types

import (
	"errors"
	"fmt"
)

// Error classes. Component errors wrap one of these so the transport can map
// any failure to a client-visible code without importing the component.
var (
	ErrProtocol  = errors.New("protocol violation")
	ErrForbidden = errors.New("forbidden")
	ErrThrottled = errors.New("throttled")
)

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrMalformedEnvelope  = fmt.Errorf("%w: malformed event envelope", ErrProtocol)
	ErrUnknownEventType   = fmt.Errorf("%w: unknown event type", ErrProtocol)
	ErrInvalidPayload     = fmt.Errorf("%w: invalid event payload", ErrProtocol)
	ErrInvalidUserID      = fmt.Errorf("%w: user ID must be 1-128 characters without whitespace", ErrProtocol)
	ErrEmptyMessage       = fmt.Errorf("%w: message must carry text or an attachment", ErrProtocol)
	ErrInvalidMessageKind = fmt.Errorf("%w: messageType must be text, image or file", ErrProtocol)
	ErrContentTooLarge    = fmt.Errorf("%w: message content exceeds 64KB limit", ErrProtocol)
	ErrInvalidStatus      = fmt.Errorf("%w: status type must be blocked or unblocked", ErrProtocol)
)

// Client-visible error codes carried in error events
const (
	ErrorCodeInvalidEvent  = "invalid_event"
	ErrorCodeRoomForbidden = "room_forbidden"
	ErrorCodeRateLimited   = "rate_limited"
)

// ErrorCode maps an error to the code reported back to the sender. An empty
// result means the failure is not the client's fault and is only logged.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbidden):
		return ErrorCodeRoomForbidden
	case errors.Is(err, ErrThrottled):
		return ErrorCodeRateLimited
	case errors.Is(err, ErrProtocol):
		return ErrorCodeInvalidEvent
	default:
		return ""
	}
}
