package types

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// DecodeEnvelope peeks at the frame's type without unmarshalling the payload.
// Frames that are not JSON objects, lack a string type, or name a kind the
// relay does not accept are rejected.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedEnvelope
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrMalformedEnvelope
	}

	kind := root.Get("type")
	if kind.Type != gjson.String || kind.Str == "" {
		return nil, ErrMalformedEnvelope
	}
	if !IsInboundEvent(kind.Str) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, kind.Str)
	}

	env := &Envelope{Type: kind.Str}
	if payload := root.Get("payload"); payload.Exists() {
		env.Payload = json.RawMessage(payload.Raw)
	}
	return env, nil
}

// IsInboundEvent reports whether clients may send the given kind
func IsInboundEvent(kind string) bool {
	switch kind {
	case EventJoinRoom, EventSendMessage, EventFriendRequestSent, EventFriendRequestAccepted:
		return true
	default:
		return false
	}
}

// DecodeJoinRoom accepts either {"userId": "U"} or a bare "U"
func DecodeJoinRoom(raw json.RawMessage) (*JoinRoom, error) {
	payload := gjson.ParseBytes(raw)
	join := &JoinRoom{}
	switch {
	case payload.Type == gjson.String:
		join.UserID = payload.Str
	case payload.IsObject():
		if err := json.Unmarshal(raw, join); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	default:
		return nil, ErrInvalidPayload
	}
	if err := join.Validate(); err != nil {
		return nil, err
	}
	return join, nil
}

// DecodePayload unmarshals an object payload into v
func DecodePayload(raw json.RawMessage, v interface{}) error {
	if !gjson.ParseBytes(raw).IsObject() {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
