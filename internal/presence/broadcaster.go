package presence

import (
	"log/slog"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Broadcaster turns presence transitions into outbound events
// FUNCTIONAL DISCOVERY: Only joiners get the full snapshot, everyone else
// receives incremental user-online/user-offline events
type Broadcaster struct {
	registry  *Registry
	deliverer interfaces.Deliverer
	logger    *slog.Logger
}

// NewBroadcaster creates a broadcaster reading from registry
func NewBroadcaster(registry *Registry, deliverer interfaces.Deliverer, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry:  registry,
		deliverer: deliverer,
		logger:    logger.With("component", "broadcaster"),
	}
}

// Snapshot builds the online-users event from the current registry state
func (b *Broadcaster) Snapshot() *types.Event {
	return types.NewEvent(types.EventOnlineUsers, types.OnlineUsers{Users: b.registry.OnlineIdentities()})
}

// Joined sends the snapshot privately to conn, then announces conn's identity
// to every connection
func (b *Broadcaster) Joined(conn interfaces.Connection) {
	if err := conn.Send(b.Snapshot()); err != nil {
		b.logger.Warn("failed to send online snapshot",
			"conn_id", conn.ID(),
			"user_id", conn.UserID(),
			"error", err)
	}

	n := b.deliverer.Broadcast(types.NewEvent(types.EventUserOnline, types.PresenceChange{UserID: conn.UserID()}))
	b.logger.Debug("user-online broadcast", "user_id", conn.UserID(), "recipients", n)
}

// Left announces that the identity's last connection is gone
func (b *Broadcaster) Left(userID string) {
	n := b.deliverer.Broadcast(types.NewEvent(types.EventUserOffline, types.PresenceChange{UserID: userID}))
	b.logger.Debug("user-offline broadcast", "user_id", userID, "recipients", n)
}

// Refresh sends a fresh snapshot to each named room, once per room
func (b *Broadcaster) Refresh(userIDs ...string) {
	snapshot := b.Snapshot()
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup || userID == "" {
			continue
		}
		seen[userID] = struct{}{}
		b.deliverer.DeliverToUser(userID, snapshot)
	}
}
