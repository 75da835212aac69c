package types

import (
	"regexp"
)

// MaxMessageBytes bounds the text body of a single chat message (64KB)
const MaxMessageBytes = 65536

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios.
// Identities come from third-party tokens ("auth0|abc", emails, hex object ids)
// so the accepted alphabet is wider than a plain slug.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-.:@|]+$`)

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 128 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidMessageKind checks messageType, empty meaning text
func IsValidMessageKind(kind string) bool {
	switch kind {
	case "", MessageKindText, MessageKindImage, MessageKindFile:
		return true
	default:
		return false
	}
}

// Validate ensures the join payload names a well-formed identity
func (j *JoinRoom) Validate() error {
	if !IsValidUserID(j.UserID) {
		return ErrInvalidUserID
	}
	return nil
}

// Validate ensures the message meets all requirements.
// FUNCTIONAL DISCOVERY: messageType defaults to text here so every relayed
// message carries an explicit kind
func (m *SendMessage) Validate() error {
	if !IsValidUserID(m.ReceiverID) {
		return ErrInvalidUserID
	}
	if m.MessageType == "" {
		m.MessageType = MessageKindText
	}
	if !IsValidMessageKind(m.MessageType) {
		return ErrInvalidMessageKind
	}
	if m.Message == "" && m.FileURL == "" {
		return ErrEmptyMessage
	}
	if len(m.Message) > MaxMessageBytes {
		return ErrContentTooLarge
	}
	if m.FileSize < 0 {
		return ErrInvalidPayload
	}
	return nil
}

// Validate checks the fields present on a friend request payload.
// Which side is required depends on the event kind, so callers check the
// side they route on with IsValidUserID.
func (f *FriendRequest) Validate() error {
	if f.SenderID != "" && !IsValidUserID(f.SenderID) {
		return ErrInvalidUserID
	}
	if f.ReceiverID != "" && !IsValidUserID(f.ReceiverID) {
		return ErrInvalidUserID
	}
	return nil
}

// Validate ensures a block status update can be delivered
func (s *StatusUpdate) Validate() error {
	if s.Type != StatusBlocked && s.Type != StatusUnblocked {
		return ErrInvalidStatus
	}
	if !IsValidUserID(s.UserID) || !IsValidUserID(s.TargetUserID) {
		return ErrInvalidUserID
	}
	return nil
}
