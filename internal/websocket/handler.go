package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Authenticator resolves the identity behind an upgrade request
type Authenticator interface {
	AuthenticateRequest(r *http.Request) (string, error)
}

// Lifecycle owns connect/join/disconnect transitions
type Lifecycle interface {
	Connect(conn interfaces.Connection) error
	Join(conn interfaces.Connection, claimedUserID string) error
	Disconnect(conn interfaces.Connection) error
}

// HandlerOptions carries transport settings
type HandlerOptions struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	AllowedOrigins []string
	// Unauthorized writes the refusal for a failed authentication
	Unauthorized func(w http.ResponseWriter, err error)
}

// Handler upgrades authenticated requests and runs one read loop per connection
// ARCHITECTURAL DISCOVERY: Authentication happens before the upgrade, so a
// refused client never holds a websocket or any registry state
type Handler struct {
	auth      Authenticator
	lifecycle Lifecycle
	router    interfaces.EventRouter
	opts      HandlerOptions
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(auth Authenticator, lifecycle Lifecycle, router interfaces.EventRouter, opts HandlerOptions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= opts.PingInterval {
		opts.ReadTimeout = 2 * opts.PingInterval
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 128 * 1024
	}
	if opts.Unauthorized == nil {
		opts.Unauthorized = func(w http.ResponseWriter, err error) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}

	h := &Handler{
		auth:      auth,
		lifecycle: lifecycle,
		router:    router,
		opts:      opts,
		logger:    logger.With("component", "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// ServeHTTP lets the handler be mounted directly on a mux
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket authenticates, upgrades and registers a connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.AuthenticateRequest(r)
	if err != nil {
		h.opts.Unauthorized(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	conn := NewConnection(ws, ConnectionOptions{
		BufferSize:   h.opts.BufferSize,
		WriteTimeout: h.opts.WriteTimeout,
	})
	conn.SetIdentity(userID)

	if err := h.lifecycle.Connect(conn); err != nil {
		h.logger.Error("connection registration failed",
			"conn_id", conn.ID(),
			"user_id", userID,
			"error", err)
		_ = conn.Close()
		return
	}

	h.logger.Info("connection opened",
		"conn_id", conn.ID(),
		"user_id", userID,
		"remote_addr", r.RemoteAddr)

	go h.handleConnection(conn)
}

// frameQueueSize bounds frames read ahead of the one being handled
const frameQueueSize = 16

type inboundFrame struct {
	binary bool
	data   []byte
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// ARCHITECTURAL DISCOVERY: The reader only reads, a single dispatcher handles
// frames strictly in order. A peer close is seen while a frame is still being
// routed, and closing the connection cancels that frame's lookups.
func (h *Handler) handleConnection(conn *Connection) {
	frames := make(chan inboundFrame, frameQueueSize)
	go h.dispatchLoop(conn, frames)

	defer func() {
		_ = conn.Close()
		close(frames)
		if err := h.lifecycle.Disconnect(conn); err != nil {
			h.logger.Debug("disconnect not recorded", "conn_id", conn.ID(), "error", err)
		}
		h.logger.Info("connection closed", "conn_id", conn.ID(), "user_id", conn.UserID())
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", "conn_id", conn.ID(), "error", err)
			}
			return
		}

		select {
		case frames <- inboundFrame{binary: messageType != websocket.TextMessage, data: data}:
		case <-conn.Done():
			return
		}
	}
}

// dispatchLoop handles queued frames until the reader closes the queue.
// Frames still queued when the connection is gone are discarded.
func (h *Handler) dispatchLoop(conn *Connection, frames <-chan inboundFrame) {
	for frame := range frames {
		select {
		case <-conn.Done():
			continue
		default:
		}

		if frame.binary {
			h.reject(conn, "", ErrBinaryFrame)
			continue
		}
		h.handleFrame(conn, frame.data)
	}
}

// TECHNICAL DISCOVERY: WriteControl may run concurrently with the writer
// goroutine, so pings do not go through the send queue
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.PingInterval / 2)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// handleFrame processes one inbound frame. A panic is contained to the frame.
func (h *Handler) handleFrame(conn *Connection, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("event handler panic",
				"conn_id", conn.ID(),
				"user_id", conn.UserID(),
				"panic", fmt.Sprint(rec))
		}
	}()

	env, err := types.DecodeEnvelope(data)
	if err != nil {
		h.reject(conn, "", err)
		return
	}

	if env.Type == types.EventJoinRoom {
		join, err := types.DecodeJoinRoom(env.Payload)
		if err != nil {
			h.reject(conn, env.Type, err)
			return
		}
		if err := h.lifecycle.Join(conn, join.UserID); err != nil {
			h.reject(conn, env.Type, err)
		}
		return
	}

	if err := h.router.Route(conn.ctx, conn, env); err != nil {
		h.reject(conn, env.Type, err)
	}
}

// reject reports client-caused failures back to the sender and only logs the rest
func (h *Handler) reject(conn *Connection, kind string, err error) {
	code := types.ErrorCode(err)
	if code == "" {
		if !errors.Is(err, context.Canceled) {
			h.logger.Warn("event dropped",
				"conn_id", conn.ID(),
				"user_id", conn.UserID(),
				"event", kind,
				"error", err)
		}
		return
	}

	h.logger.Warn("event rejected",
		"conn_id", conn.ID(),
		"user_id", conn.UserID(),
		"event", kind,
		"code", code,
		"error", err)

	notice := types.ErrorNotice{Code: code, Message: err.Error(), Event: kind}
	if sendErr := conn.Send(types.NewEvent(types.EventError, notice)); sendErr != nil {
		h.logger.Debug("failed to send error event", "conn_id", conn.ID(), "error", sendErr)
	}
}

// checkOrigin applies the configured allow list; an empty list allows all
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
