package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatrelay/internal/presence"
	"chatrelay/internal/websocket"
	"chatrelay/pkg/interfaces"
)

// Hub serializes connection lifecycle transitions
// ARCHITECTURAL DISCOVERY: Registry mutation and the matching presence
// broadcast happen inside one goroutine, so no two transitions interleave and
// every client observes user-online/user-offline in a consistent order
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channels absorb connect storms after a
	// relay restart without making callers spin
	connectCh    chan *request
	joinCh       chan *request
	disconnectCh chan *request
	shutdownCh   chan struct{}
	done         chan struct{}

	registry    *presence.Registry
	rooms       *websocket.Rooms
	broadcaster *presence.Broadcaster
	logger      *slog.Logger

	running bool
	mu      sync.RWMutex
}

// request is one transition plus the channel its outcome is reported on
type request struct {
	conn          interfaces.Connection
	claimedUserID string
	result        chan error
}

// NewHub creates a hub over the shared registry, rooms and broadcaster
func NewHub(registry *presence.Registry, rooms *websocket.Rooms, broadcaster *presence.Broadcaster, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		connectCh:    make(chan *request, 100),
		joinCh:       make(chan *request, 100),
		disconnectCh: make(chan *request, 100),
		registry:     registry,
		rooms:        rooms,
		broadcaster:  broadcaster,
		logger:       logger.With("component", "hub"),
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownCh = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting lifecycle hub")
	go h.run(ctx, h.shutdownCh, h.done)
	return nil
}

// Stop asks the loop to exit and waits for it
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownCh)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("lifecycle hub stopped")
	return nil
}

// IsRunning reports whether the loop accepts transitions
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Connect records a freshly authenticated connection
func (h *Hub) Connect(conn interfaces.Connection) error {
	return h.submit(h.connectCh, conn, "")
}

// Join subscribes conn to the room it claims; on success the joiner gets the
// online snapshot and everyone hears user-online
func (h *Hub) Join(conn interfaces.Connection, claimedUserID string) error {
	return h.submit(h.joinCh, conn, claimedUserID)
}

// Disconnect forgets conn. Calling it more than once is harmless.
func (h *Hub) Disconnect(conn interfaces.Connection) error {
	return h.submit(h.disconnectCh, conn, "")
}

// submit hands a transition to the loop and waits for its outcome
func (h *Hub) submit(ch chan *request, conn interfaces.Connection, claimed string) error {
	if conn == nil {
		return ErrNilConnection
	}

	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	done := h.done
	h.mu.RUnlock()

	req := &request{conn: conn, claimedUserID: claimed, result: make(chan error, 1)}
	select {
	case ch <- req:
	case <-done:
		return ErrHubNotRunning
	}

	select {
	case err := <-req.result:
		return err
	case <-done:
		return ErrHubNotRunning
	}
}

// run is the main hub processing loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination
// preventing race conditions while maintaining high throughput
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case req := <-h.connectCh:
			req.result <- h.handleConnect(req.conn)

		case req := <-h.joinCh:
			req.result <- h.handleJoin(req.conn, req.claimedUserID)

		case req := <-h.disconnectCh:
			h.handleDisconnect(req.conn)
			req.result <- nil

		case <-shutdown:
			h.logger.Info("hub shutdown requested")
			return

		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			return
		}
	}
}

// handleConnect makes conn a broadcast target. Presence starts at join, so
// every client that hears a user-offline has also heard the user-online.
func (h *Hub) handleConnect(conn interfaces.Connection) error {
	if err := h.rooms.Track(conn); err != nil {
		return fmt.Errorf("connection tracking failed: %w", err)
	}

	h.logger.Debug("connection tracked", "conn_id", conn.ID(), "user_id", conn.UserID())
	return nil
}

func (h *Hub) handleJoin(conn interfaces.Connection, claimed string) error {
	if err := h.rooms.Join(conn, claimed); err != nil {
		return err
	}
	first, err := h.registry.Add(conn.ID(), conn.UserID())
	if err != nil {
		h.rooms.Leave(conn)
		return fmt.Errorf("presence registration failed: %w", err)
	}
	h.broadcaster.Joined(conn)

	h.logger.Info("room joined", "conn_id", conn.ID(), "user_id", claimed, "first_for_user", first)
	return nil
}

// handleDisconnect removes the connection from rooms before announcing, so
// the departing connection never receives its own user-offline
func (h *Hub) handleDisconnect(conn interfaces.Connection) {
	h.rooms.Untrack(conn)

	userID, last, ok := h.registry.Remove(conn.ID())
	if !ok {
		return
	}
	if last {
		h.broadcaster.Left(userID)
		h.logger.Info("user offline", "user_id", userID)
	}
}

// Stats merges presence and membership statistics
func (h *Hub) Stats() map[string]int {
	stats := h.registry.Stats()
	for k, v := range h.rooms.Stats() {
		stats[k] = v
	}
	return stats
}
