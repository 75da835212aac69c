package types

import (
	"encoding/json"
	"time"
)

// Inbound event kinds accepted from clients.
const (
	EventJoinRoom              = "join-room"
	EventSendMessage           = "send-message"
	EventFriendRequestSent     = "friend-request-sent"
	EventFriendRequestAccepted = "friend-request-accepted"
)

// Outbound event kinds emitted by the relay. EventFriendRequestAccepted is
// reused verbatim for the notification delivered to the original requester.
const (
	EventOnlineUsers        = "online-users"
	EventUserOnline         = "user-online"
	EventUserOffline        = "user-offline"
	EventReceiveMessage     = "receive-message"
	EventNewFriendRequest   = "new-friend-request"
	EventFriendStatusUpdate = "friend-status-update"
	EventError              = "error"
)

// Chat message content kinds
const (
	MessageKindText  = "text"
	MessageKindImage = "image"
	MessageKindFile  = "file"
)

// Friendship states as stored by the social graph
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
	FriendshipBlocked  = "blocked"
)

// Block status update kinds
const (
	StatusBlocked   = "blocked"
	StatusUnblocked = "unblocked"
)

// Envelope is the wire frame for inbound events.
// ARCHITECTURAL DISCOVERY: Payload stays raw until the kind is known so each
// kind is decoded into its own closed payload type at the router boundary
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is an outbound frame. Payload is one of the payload structs below.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewEvent builds an outbound frame
func NewEvent(kind string, payload interface{}) *Event {
	return &Event{Type: kind, Payload: payload}
}

// JoinRoom is the join-room payload
type JoinRoom struct {
	UserID string `json:"userId"`
}

// SendMessage is the send-message payload as submitted by a client.
// Any sender or timestamp the client adds is ignored.
type SendMessage struct {
	MessageID   string `json:"messageId,omitempty"`
	ReceiverID  string `json:"receiverId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType,omitempty"`
	FileURL     string `json:"fileUrl,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
}

// FriendRequest is the payload of friend-request-sent and
// friend-request-accepted. Request is the opaque request record from the
// REST layer, relayed untouched.
type FriendRequest struct {
	SenderID   string          `json:"senderId,omitempty"`
	ReceiverID string          `json:"receiverId,omitempty"`
	Request    json.RawMessage `json:"request,omitempty"`
}

// StatusUpdate is a block/unblock notification arriving from the social graph
// owner. UserID is the actor, TargetUserID the user to notify.
type StatusUpdate struct {
	Type         string `json:"type"`
	UserID       string `json:"userId"`
	TargetUserID string `json:"targetUserId"`
}

// Profile is the public view of a user attached to relayed messages
type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Friendship is the persisted relationship between two users.
// FUNCTIONAL DISCOVERY: Direction matters only for pending requests, blocks
// are symmetric for routing purposes
type Friendship struct {
	RequesterID string    `json:"requesterId"`
	RecipientID string    `json:"recipientId"`
	Status      string    `json:"status"`
	BlockedBy   string    `json:"blockedBy,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsBlocked reports whether either side blocked the other
func (f *Friendship) IsBlocked() bool {
	return f != nil && f.Status == FriendshipBlocked
}

// OnlineUsers is the full presence snapshot
type OnlineUsers struct {
	Users []string `json:"users"`
}

// PresenceChange carries a single user-online or user-offline transition
type PresenceChange struct {
	UserID string `json:"userId"`
}

// ReceivedMessage is the receive-message payload built by the server
type ReceivedMessage struct {
	ID          string    `json:"id"`
	ReceiverID  string    `json:"receiverId"`
	Message     string    `json:"message"`
	MessageType string    `json:"messageType"`
	FileURL     string    `json:"fileUrl,omitempty"`
	FileName    string    `json:"fileName,omitempty"`
	FileSize    int64     `json:"fileSize,omitempty"`
	Sender      Profile   `json:"sender"`
	Timestamp   time.Time `json:"timestamp"`
}

// FriendNotice is the payload of new-friend-request and
// friend-request-accepted notifications
type FriendNotice struct {
	Type       string          `json:"type"`
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Request    json.RawMessage `json:"request,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// FriendStatus is the friend-status-update payload
type FriendStatus struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// ErrorNotice is the payload of an error event sent to the offending connection
type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
