package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// EventRouter delivers routed client events to their target rooms
type EventRouter interface {
	// Route validates and delivers one inbound event from an authenticated
	// connection. Errors wrapping types.ErrProtocol, ErrForbidden or
	// ErrThrottled are reported back to the sender; others are only logged.
	Route(ctx context.Context, sender Connection, env *types.Envelope) error
}

// Deliverer fans events out to rooms and to every tracked connection
// ARCHITECTURAL DISCOVERY: Delivery counts instead of errors because an empty
// room is a normal outcome for a best-effort relay
type Deliverer interface {
	// DeliverToUser sends to every connection joined to the user's room
	DeliverToUser(userID string, event *types.Event) int

	// Broadcast sends to every tracked connection
	Broadcast(event *types.Event) int
}
