package presence

import (
	"log/slog"
	"sort"
	"sync"
)

// Mirror receives online/offline transitions for external readers.
// Implementations must not block, they are called from the lifecycle loop.
type Mirror interface {
	Online(userID string)
	Offline(userID string)
}

// Registry maps live connections to identities and derives the online set.
// ARCHITECTURAL DISCOVERY: A per-identity reference count makes "was this the
// last connection" an O(1) question instead of a scan over every entry
type Registry struct {
	// TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy snapshot requests
	mu          sync.RWMutex
	connections map[string]string // connID -> userID
	refCounts   map[string]int    // userID -> live connection count
	mirror      Mirror
	logger      *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		connections: make(map[string]string),
		refCounts:   make(map[string]int),
		logger:      logger.With("component", "presence"),
	}
}

// SetMirror installs a transition hook. Call before serving connections.
func (r *Registry) SetMirror(m Mirror) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = m
}

// Add records connID as belonging to userID. firstForUser is true when the
// identity went from offline to online. Re-adding the same pair is a no-op.
func (r *Registry) Add(connID, userID string) (bool, error) {
	if connID == "" {
		return false, ErrEmptyConnectionID
	}
	if userID == "" {
		return false, ErrEmptyUserID
	}

	r.mu.Lock()
	if existing, ok := r.connections[connID]; ok {
		r.mu.Unlock()
		if existing != userID {
			return false, ErrConnectionReassigned
		}
		return false, nil
	}

	r.connections[connID] = userID
	r.refCounts[userID]++
	first := r.refCounts[userID] == 1
	mirror := r.mirror
	r.mu.Unlock()

	if first && mirror != nil {
		mirror.Online(userID)
	}
	r.logger.Debug("connection added", "conn_id", connID, "user_id", userID, "first", first)
	return first, nil
}

// Remove drops connID. ok is false for unknown ids, which are ignored so that
// duplicate disconnects stay harmless.
func (r *Registry) Remove(connID string) (userID string, lastForUser bool, ok bool) {
	r.mu.Lock()
	userID, ok = r.connections[connID]
	if !ok {
		r.mu.Unlock()
		return "", false, false
	}

	delete(r.connections, connID)
	r.refCounts[userID]--
	if r.refCounts[userID] <= 0 {
		delete(r.refCounts, userID)
		lastForUser = true
	}
	mirror := r.mirror
	r.mu.Unlock()

	if lastForUser && mirror != nil {
		mirror.Offline(userID)
	}
	r.logger.Debug("connection removed", "conn_id", connID, "user_id", userID, "last", lastForUser)
	return userID, lastForUser, true
}

// OnlineIdentities returns the distinct online identities, sorted
func (r *Registry) OnlineIdentities() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.refCounts))
	for userID := range r.refCounts {
		users = append(users, userID)
	}
	r.mu.RUnlock()

	sort.Strings(users)
	return users
}

// IsOnline reports whether the identity has at least one live connection
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refCounts[userID] > 0
}

// ConnectionsFor returns the number of live connections for an identity
func (r *Registry) ConnectionsFor(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refCounts[userID]
}

// ConnectionCount returns the number of live connections
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Stats returns registry statistics for monitoring and debugging
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string]int{
		"total_connections": len(r.connections),
		"online_users":      len(r.refCounts),
	}
}
