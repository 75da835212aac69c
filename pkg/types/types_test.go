package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantType string
		wantErr  error
	}{
		{name: "join with object payload", frame: `{"type":"join-room","payload":{"userId":"U1"}}`, wantType: EventJoinRoom},
		{name: "message", frame: `{"type":"send-message","payload":{"receiverId":"U2","message":"hi"}}`, wantType: EventSendMessage},
		{name: "no payload", frame: `{"type":"friend-request-sent"}`, wantType: EventFriendRequestSent},
		{name: "not json", frame: `{"type":`, wantErr: ErrMalformedEnvelope},
		{name: "array frame", frame: `[1,2]`, wantErr: ErrMalformedEnvelope},
		{name: "numeric type", frame: `{"type":7}`, wantErr: ErrMalformedEnvelope},
		{name: "missing type", frame: `{"payload":{}}`, wantErr: ErrMalformedEnvelope},
		{name: "unknown kind", frame: `{"type":"teleport"}`, wantErr: ErrUnknownEventType},
		{name: "outbound kind from client", frame: `{"type":"online-users"}`, wantErr: ErrUnknownEventType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrProtocol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, env.Type)
		})
	}
}

func TestDecodeJoinRoom(t *testing.T) {
	join, err := DecodeJoinRoom(json.RawMessage(`{"userId":"U1"}`))
	require.NoError(t, err)
	assert.Equal(t, "U1", join.UserID)

	join, err = DecodeJoinRoom(json.RawMessage(`"auth0|U1"`))
	require.NoError(t, err)
	assert.Equal(t, "auth0|U1", join.UserID)

	_, err = DecodeJoinRoom(json.RawMessage(`42`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeJoinRoom(nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = DecodeJoinRoom(json.RawMessage(`{"userId":""}`))
	assert.ErrorIs(t, err, ErrInvalidUserID)
}

func TestSendMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     SendMessage
		wantErr error
	}{
		{name: "plain text", msg: SendMessage{ReceiverID: "U2", Message: "hello"}},
		{name: "attachment only", msg: SendMessage{ReceiverID: "U2", MessageType: MessageKindImage, FileURL: "https://cdn/x.png"}},
		{name: "missing receiver", msg: SendMessage{Message: "hello"}, wantErr: ErrInvalidUserID},
		{name: "receiver with spaces", msg: SendMessage{ReceiverID: "U 2", Message: "hello"}, wantErr: ErrInvalidUserID},
		{name: "empty body", msg: SendMessage{ReceiverID: "U2"}, wantErr: ErrEmptyMessage},
		{name: "unknown kind", msg: SendMessage{ReceiverID: "U2", Message: "x", MessageType: "video"}, wantErr: ErrInvalidMessageKind},
		{name: "too large", msg: SendMessage{ReceiverID: "U2", Message: strings.Repeat("a", MaxMessageBytes+1)}, wantErr: ErrContentTooLarge},
		{name: "negative size", msg: SendMessage{ReceiverID: "U2", FileURL: "f", FileSize: -1}, wantErr: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSendMessage_ValidateDefaultsKind(t *testing.T) {
	msg := SendMessage{ReceiverID: "U2", Message: "hello"}
	require.NoError(t, msg.Validate())
	assert.Equal(t, MessageKindText, msg.MessageType)
}

func TestStatusUpdate_Validate(t *testing.T) {
	assert.NoError(t, (&StatusUpdate{Type: StatusUnblocked, UserID: "A", TargetUserID: "B"}).Validate())
	assert.ErrorIs(t, (&StatusUpdate{Type: "muted", UserID: "A", TargetUserID: "B"}).Validate(), ErrInvalidStatus)
	assert.ErrorIs(t, (&StatusUpdate{Type: StatusBlocked, UserID: "A"}).Validate(), ErrInvalidUserID)
}

func TestIsValidUserID(t *testing.T) {
	assert.True(t, IsValidUserID("64b7f0c2e1a4"))
	assert.True(t, IsValidUserID("user@example.com"))
	assert.False(t, IsValidUserID(""))
	assert.False(t, IsValidUserID(strings.Repeat("a", 129)))
	assert.False(t, IsValidUserID("tab\tchar"))
}

func TestErrorCode(t *testing.T) {
	wrapped := errors.New("database down")
	assert.Equal(t, ErrorCodeInvalidEvent, ErrorCode(ErrUnknownEventType))
	assert.Equal(t, ErrorCodeInvalidEvent, ErrorCode(ErrContentTooLarge))
	assert.Equal(t, "", ErrorCode(wrapped))
	assert.Equal(t, "", ErrorCode(nil))
}

func TestEvent_MarshalShape(t *testing.T) {
	data, err := json.Marshal(NewEvent(EventUserOnline, PresenceChange{UserID: "U1"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user-online","payload":{"userId":"U1"}}`, string(data))
}

func TestFriendship_IsBlocked(t *testing.T) {
	var none *Friendship
	assert.False(t, none.IsBlocked())
	assert.True(t, (&Friendship{Status: FriendshipBlocked}).IsBlocked())
	assert.False(t, (&Friendship{Status: FriendshipAccepted}).IsBlocked())
}
