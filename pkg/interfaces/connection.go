package interfaces

import "chatrelay/pkg/types"

// Connection represents one live client connection
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and presence logic
type Connection interface {
	// ID returns the server-assigned connection id, unique for the process lifetime
	ID() string

	// UserID returns the authenticated identity, empty before authentication
	UserID() string

	// IsAuthenticated returns true once an identity has been bound
	IsAuthenticated() bool

	// Send queues an event for delivery (thread-safe, non-blocking).
	// FUNCTIONAL DISCOVERY: Implementations must use a single writer so that
	// concurrent broadcasts never interleave frames
	Send(event *types.Event) error

	// Close closes the connection and cleans up resources
	Close() error
}
