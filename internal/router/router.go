package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/presence"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Config holds routing policy
type Config struct {
	EnforceBlocks bool
	LookupTimeout time.Duration
	RateLimit     int
	RateWindow    time.Duration
}

// Router implements interfaces.EventRouter
// ARCHITECTURAL DISCOVERY: Pure routing logic without connection handling,
// delivery goes through the rooms and presence refreshes through the broadcaster
type Router struct {
	config      Config
	deliverer   interfaces.Deliverer
	broadcaster *presence.Broadcaster
	graph       interfaces.SocialGraph
	rateLimiter *RateLimiter
	logger      *slog.Logger
	now         func() time.Time
}

// NewRouter creates a new event router. graph may be nil, in which case
// profiles carry only the sender id and blocks are not enforced.
func NewRouter(cfg Config, deliverer interfaces.Deliverer, broadcaster *presence.Broadcaster, graph interfaces.SocialGraph, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 3 * time.Second
	}
	return &Router{
		config:      cfg,
		deliverer:   deliverer,
		broadcaster: broadcaster,
		graph:       graph,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:      logger.With("component", "router"),
		now:         time.Now,
	}
}

// Route validates one inbound event from sender and delivers it.
// Returned errors are meant for the sender. Events that cannot be delivered
// for server-side reasons are logged and dropped with a nil return.
func (r *Router) Route(ctx context.Context, sender interfaces.Connection, env *types.Envelope) error {
	if sender == nil || !sender.IsAuthenticated() {
		return ErrUnauthenticated
	}

	switch env.Type {
	case types.EventSendMessage:
		return r.routeMessage(ctx, sender, env.Payload)
	case types.EventFriendRequestSent:
		return r.routeFriendRequest(ctx, sender, env.Payload)
	case types.EventFriendRequestAccepted:
		return r.routeFriendAccepted(sender, env.Payload)
	default:
		return fmt.Errorf("%w: %s", ErrNotRoutable, env.Type)
	}
}

func (r *Router) routeMessage(ctx context.Context, sender interfaces.Connection, raw []byte) error {
	var msg types.SendMessage
	if err := types.DecodePayload(raw, &msg); err != nil {
		return err
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ReceiverID == sender.UserID() {
		return ErrSelfAddressed
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per identity after validation
	if !r.rateLimiter.Allow(sender.UserID()) {
		return ErrRateLimitExceeded
	}

	if err := r.checkBlocked(ctx, sender.UserID(), msg.ReceiverID); err != nil {
		r.logDrop(types.EventSendMessage, sender.UserID(), msg.ReceiverID, err)
		return nil
	}

	profile, err := r.profile(ctx, sender.UserID())
	if err != nil {
		r.logDrop(types.EventSendMessage, sender.UserID(), msg.ReceiverID, err)
		return nil
	}

	// FUNCTIONAL DISCOVERY: Sender and timestamp are always server-side,
	// a client-chosen message id is kept so the client can correlate
	id := msg.MessageID
	if id == "" {
		id = uuid.New().String()
	}

	out := types.ReceivedMessage{
		ID:          id,
		ReceiverID:  msg.ReceiverID,
		Message:     msg.Message,
		MessageType: msg.MessageType,
		FileURL:     msg.FileURL,
		FileName:    msg.FileName,
		FileSize:    msg.FileSize,
		Sender:      *profile,
		Timestamp:   r.now().UTC(),
	}

	r.deliver(msg.ReceiverID, types.NewEvent(types.EventReceiveMessage, out))
	return nil
}

func (r *Router) routeFriendRequest(ctx context.Context, sender interfaces.Connection, raw []byte) error {
	var req types.FriendRequest
	if err := types.DecodePayload(raw, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if !types.IsValidUserID(req.ReceiverID) {
		return types.ErrInvalidUserID
	}
	if req.SenderID != "" && req.SenderID != sender.UserID() {
		return ErrIdentityMismatch
	}
	if req.ReceiverID == sender.UserID() {
		return ErrSelfAddressed
	}
	if !r.rateLimiter.Allow(sender.UserID()) {
		return ErrRateLimitExceeded
	}

	if err := r.checkBlocked(ctx, sender.UserID(), req.ReceiverID); err != nil {
		r.logDrop(types.EventFriendRequestSent, sender.UserID(), req.ReceiverID, err)
		return nil
	}

	notice := types.FriendNotice{
		Type:       types.EventNewFriendRequest,
		SenderID:   sender.UserID(),
		ReceiverID: req.ReceiverID,
		Request:    req.Request,
		Timestamp:  r.now().UTC(),
	}
	r.deliver(req.ReceiverID, types.NewEvent(types.EventNewFriendRequest, notice))
	return nil
}

// routeFriendAccepted notifies the original requester. The accepting side is
// the authenticated sender, so receiverId must name it.
func (r *Router) routeFriendAccepted(sender interfaces.Connection, raw []byte) error {
	var req types.FriendRequest
	if err := types.DecodePayload(raw, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if !types.IsValidUserID(req.SenderID) {
		return types.ErrInvalidUserID
	}
	if req.ReceiverID == "" {
		req.ReceiverID = sender.UserID()
	}
	if req.ReceiverID != sender.UserID() {
		return ErrIdentityMismatch
	}
	if req.SenderID == sender.UserID() {
		return ErrSelfAddressed
	}
	if !r.rateLimiter.Allow(sender.UserID()) {
		return ErrRateLimitExceeded
	}

	notice := types.FriendNotice{
		Type:       types.EventFriendRequestAccepted,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Request:    req.Request,
		Timestamp:  r.now().UTC(),
	}
	r.deliver(req.SenderID, types.NewEvent(types.EventFriendRequestAccepted, notice))

	// both sides now see each other in their friend lists
	if r.broadcaster != nil {
		r.broadcaster.Refresh(req.SenderID, req.ReceiverID)
	}
	return nil
}

// DeliverStatusUpdate tells the target that the actor blocked or unblocked them
func (r *Router) DeliverStatusUpdate(ctx context.Context, update *types.StatusUpdate) error {
	if update == nil {
		return types.ErrInvalidPayload
	}
	if err := update.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.deliver(update.TargetUserID, types.NewEvent(types.EventFriendStatusUpdate, types.FriendStatus{
		Type:   update.Type,
		UserID: update.UserID,
	}))
	return nil
}

// RunMaintenance evicts idle rate limiter state until ctx is cancelled
func (r *Router) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(r.rateLimiter.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.rateLimiter.Cleanup()
		}
	}
}

// checkBlocked returns ErrBlocked or ErrLookupFailed when the pair must not
// exchange events
func (r *Router) checkBlocked(ctx context.Context, from, to string) error {
	if !r.config.EnforceBlocks || r.graph == nil {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	friendship, err := r.graph.GetFriendship(lookupCtx, from, to)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if friendship.IsBlocked() {
		return ErrBlocked
	}
	return nil
}

func (r *Router) profile(ctx context.Context, userID string) (*types.Profile, error) {
	if r.graph == nil {
		return &types.Profile{ID: userID}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.config.LookupTimeout)
	defer cancel()

	profile, err := r.graph.GetProfile(lookupCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	if profile.ID == "" {
		profile.ID = userID
	}
	return profile, nil
}

// deliver hands event to every connection in the room. An empty room drops it.
func (r *Router) deliver(userID string, event *types.Event) {
	n := r.deliverer.DeliverToUser(userID, event)
	if n == 0 {
		r.logger.Debug("no connections in room, event dropped", "type", event.Type, "room", userID)
	}
}

func (r *Router) logDrop(kind, from, to string, err error) {
	level := slog.LevelWarn
	if errors.Is(err, ErrBlocked) {
		level = slog.LevelInfo
	}
	r.logger.Log(context.Background(), level, "event dropped",
		"type", kind,
		"from", from,
		"to", to,
		"error", err)
}
