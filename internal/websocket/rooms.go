package websocket

import (
	"log/slog"
	"sync"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Rooms tracks every live connection and the per-identity rooms they joined
// ARCHITECTURAL DISCOVERY: Pure membership management without presence logic
// maintains clean separation between who is online and who receives what
type Rooms struct {
	mu      sync.RWMutex                                // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy delivery
	tracked map[string]interfaces.Connection            // connID -> Connection, global broadcast targets
	rooms   map[string]map[string]interfaces.Connection // userID -> connID -> Connection
	joined  map[string]string                           // connID -> room joined
	logger  *slog.Logger
}

// NewRooms creates an empty membership table
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer access during concurrent operations
func NewRooms(logger *slog.Logger) *Rooms {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rooms{
		tracked: make(map[string]interfaces.Connection),
		rooms:   make(map[string]map[string]interfaces.Connection),
		joined:  make(map[string]string),
		logger:  logger.With("component", "rooms"),
	}
}

// Track adds an authenticated connection to the global broadcast set
func (r *Rooms) Track(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tracked[conn.ID()]; ok && existing != conn {
		return ErrConnectionIDInUse
	}
	r.tracked[conn.ID()] = conn
	return nil
}

// Untrack removes the connection from its room and from the broadcast set.
// Safe to call more than once.
func (r *Rooms) Untrack(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn.ID())
	delete(r.tracked, conn.ID())
}

// Join subscribes conn to the room named claimedUserID. Only the room of the
// connection's own identity may be joined; anything else leaves membership
// untouched and returns ErrRoomAuthorization. Re-joining is a no-op.
func (r *Rooms) Join(conn interfaces.Connection, claimedUserID string) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}
	if claimedUserID != conn.UserID() {
		r.logger.Warn("room join refused",
			"conn_id", conn.ID(),
			"user_id", conn.UserID(),
			"claimed", claimedUserID)
		return ErrRoomAuthorization
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// a join racing a disconnect must not resurrect the connection
	if _, tracked := r.tracked[conn.ID()]; !tracked {
		return ErrConnectionNotTracked
	}

	room, ok := r.rooms[claimedUserID]
	if !ok {
		room = make(map[string]interfaces.Connection)
		r.rooms[claimedUserID] = room
	}
	room[conn.ID()] = conn
	r.joined[conn.ID()] = claimedUserID
	return nil
}

// Leave unsubscribes conn from its room, dropping the room once empty
func (r *Rooms) Leave(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn.ID())
}

func (r *Rooms) leaveLocked(connID string) {
	name, ok := r.joined[connID]
	if !ok {
		return
	}
	delete(r.joined, connID)

	// TECHNICAL DISCOVERY: Clean up empty maps to prevent memory leaks
	if room, exists := r.rooms[name]; exists {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, name)
		}
	}
}

// Members returns the connections joined to a user's room
func (r *Rooms) Members(userID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[userID]
	members := make([]interfaces.Connection, 0, len(room))
	for _, conn := range room {
		members = append(members, conn)
	}
	return members
}

// IsMember reports whether conn has joined the given room
func (r *Rooms) IsMember(conn interfaces.Connection, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[userID][conn.ID()]
	return ok
}

// DeliverToUser sends event to every member of the user's room and returns
// how many accepted it. An empty room is not an error.
func (r *Rooms) DeliverToUser(userID string, event *types.Event) int {
	return r.send(r.Members(userID), event)
}

// Broadcast sends event to every tracked connection
func (r *Rooms) Broadcast(event *types.Event) int {
	r.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(r.tracked))
	for _, conn := range r.tracked {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	return r.send(targets, event)
}

// send writes outside the lock, Send itself never blocks
func (r *Rooms) send(targets []interfaces.Connection, event *types.Event) int {
	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			r.logger.Debug("delivery dropped",
				"conn_id", conn.ID(),
				"user_id", conn.UserID(),
				"event", event.Type,
				"error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Stats returns membership statistics for monitoring and debugging
func (r *Rooms) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"tracked_connections": len(r.tracked),
		"active_rooms":        len(r.rooms),
		"joined_connections":  len(r.joined),
	}
}
