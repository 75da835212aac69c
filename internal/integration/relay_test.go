package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/api"
	"chatrelay/internal/config"
	"chatrelay/pkg/types"
)

var profiles = []types.Profile{
	{ID: "U1", Name: "Ada", Avatar: "https://cdn.example.com/ada.png"},
	{ID: "U2", Name: "Grace"},
	{ID: "U3", Name: "Linus"},
}

const quiet = 300 * time.Millisecond

func TestRelay_SnapshotThenIncrementalPresence(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, nil)

	u1 := dial(t, relay, "U1")
	u1.send(types.EventJoinRoom, types.JoinRoom{UserID: "U1"})

	snapshot := u1.next()
	require.Equal(t, types.EventOnlineUsers, snapshot.Type)
	assert.Equal(t, []string{"U1"}, decode[types.OnlineUsers](t, snapshot).Users)

	self := u1.next()
	require.Equal(t, types.EventUserOnline, self.Type)
	assert.Equal(t, "U1", decode[types.PresenceChange](t, self).UserID)

	u2 := dialAndJoin(t, relay, "U2")

	// U1 learns about U2 incrementally, never through a second snapshot
	var seen []inbound
	for {
		ev := u1.next()
		seen = append(seen, ev)
		if ev.Type == types.EventUserOnline && decode[types.PresenceChange](t, ev).UserID == "U2" {
			break
		}
	}
	assert.NotContains(t, kinds(seen), types.EventOnlineUsers)

	settle(u2)
	u3 := dial(t, relay, "U3")
	u3.send(types.EventJoinRoom, "U3")
	snap := u3.waitFor(types.EventOnlineUsers)
	assert.ElementsMatch(t, []string{"U1", "U2", "U3"}, decode[types.OnlineUsers](t, snap).Users)
}

func TestRelay_JoinOtherIdentityRejected(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, nil)

	u1 := dial(t, relay, "U1")
	u1.send(types.EventJoinRoom, types.JoinRoom{UserID: "U2"})

	ev := u1.waitFor(types.EventError)
	notice := decode[types.ErrorNotice](t, ev)
	assert.Equal(t, types.ErrorCodeRoomForbidden, notice.Code)
	assert.Equal(t, types.EventJoinRoom, notice.Event)

	// no membership in U2's room: a message to U2 does not reach U1
	u3 := dialAndJoin(t, relay, "U3")
	settle(u1, u3)
	u3.send(types.EventSendMessage, types.SendMessage{ReceiverID: "U2", Message: "for U2 only"})
	assert.NotContains(t, kinds(u1.collect(quiet)), types.EventReceiveMessage)

	// the connection survives and can still join its own room
	u1.send(types.EventJoinRoom, types.JoinRoom{UserID: "U1"})
	u1.waitFor(types.EventOnlineUsers)
}

func TestRelay_MessageReachesEveryReceiverDevice(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, nil)

	senderPhone := dialAndJoin(t, relay, "U1")
	senderLaptop := dialAndJoin(t, relay, "U1")
	receiverPhone := dialAndJoin(t, relay, "U2")
	receiverLaptop := dialAndJoin(t, relay, "U2")
	settle(senderPhone, senderLaptop, receiverPhone, receiverLaptop)

	senderPhone.send(types.EventSendMessage, types.SendMessage{
		MessageID:  "m-1",
		ReceiverID: "U2",
		Message:    "hello",
	})

	for _, c := range []*testClient{receiverPhone, receiverLaptop} {
		ev := c.next()
		require.Equal(t, types.EventReceiveMessage, ev.Type)

		msg := decode[types.ReceivedMessage](t, ev)
		assert.Equal(t, "m-1", msg.ID)
		assert.Equal(t, "U2", msg.ReceiverID)
		assert.Equal(t, "hello", msg.Message)
		assert.Equal(t, types.MessageKindText, msg.MessageType)
		assert.Equal(t, types.Profile{ID: "U1", Name: "Ada", Avatar: "https://cdn.example.com/ada.png"}, msg.Sender)
		assert.False(t, msg.Timestamp.IsZero())
	}

	for _, c := range []*testClient{senderPhone, senderLaptop} {
		assert.Empty(t, c.collect(quiet), "sender devices receive nothing")
	}
}

func TestRelay_OfflineOnlyAfterLastDevice(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, nil)

	observer := dialAndJoin(t, relay, "U2")
	phone := dialAndJoin(t, relay, "U1")
	laptop := dialAndJoin(t, relay, "U1")
	settle(observer, phone, laptop)

	require.NoError(t, phone.conn.Close())
	assert.NotContains(t, kinds(observer.collect(quiet)), types.EventUserOffline)

	require.NoError(t, laptop.conn.Close())
	ev := observer.waitFor(types.EventUserOffline)
	assert.Equal(t, "U1", decode[types.PresenceChange](t, ev).UserID)
	assert.NotContains(t, kinds(observer.collect(quiet)), types.EventUserOffline, "announced once")

	// a fresh joiner no longer sees U1
	late := dial(t, relay, "U3")
	late.send(types.EventJoinRoom, types.JoinRoom{UserID: "U3"})
	snap := late.waitFor(types.EventOnlineUsers)
	assert.ElementsMatch(t, []string{"U2", "U3"}, decode[types.OnlineUsers](t, snap).Users)
}

func TestRelay_FriendRequestFlow(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, nil)

	requester := dialAndJoin(t, relay, "U1")
	recipient := dialAndJoin(t, relay, "U2")
	settle(requester, recipient)

	request := json.RawMessage(`{"_id":"req-7","status":"pending"}`)
	requester.send(types.EventFriendRequestSent, types.FriendRequest{ReceiverID: "U2", Request: request})

	ev := recipient.next()
	require.Equal(t, types.EventNewFriendRequest, ev.Type)
	notice := decode[types.FriendNotice](t, ev)
	assert.Equal(t, "U1", notice.SenderID)
	assert.Equal(t, "U2", notice.ReceiverID)
	assert.JSONEq(t, string(request), string(notice.Request))
	assert.Empty(t, requester.collect(quiet))

	recipient.send(types.EventFriendRequestAccepted, types.FriendRequest{SenderID: "U1", Request: request})

	accepted := requester.next()
	require.Equal(t, types.EventFriendRequestAccepted, accepted.Type)
	assert.Equal(t, "U2", decode[types.FriendNotice](t, accepted).ReceiverID)

	snap := requester.next()
	require.Equal(t, types.EventOnlineUsers, snap.Type)
	assert.ElementsMatch(t, []string{"U1", "U2"}, decode[types.OnlineUsers](t, snap).Users)

	// the acceptor gets only the refreshed snapshot
	own := recipient.next()
	require.Equal(t, types.EventOnlineUsers, own.Type)
	assert.Empty(t, recipient.collect(quiet))
	assert.Empty(t, requester.collect(quiet))
}

func TestRelay_MessageToOfflineIdentityIsDropped(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, nil)

	sender := dialAndJoin(t, relay, "U1")
	receiver := dialAndJoin(t, relay, "U2")
	settle(sender, receiver)

	sender.send(types.EventSendMessage, types.SendMessage{ReceiverID: "U9", Message: "anyone?"})
	assert.Empty(t, sender.collect(quiet), "no error for an empty room")

	sender.send(types.EventSendMessage, types.SendMessage{ReceiverID: "U2", Message: "still here"})
	ev := receiver.next()
	require.Equal(t, types.EventReceiveMessage, ev.Type)
	assert.Equal(t, "still here", decode[types.ReceivedMessage](t, ev).Message)
}

func TestRelay_BlockedPairIsNotRelayed(t *testing.T) {
	relay := startRelay(t, seed{
		profiles: profiles,
		friendships: []types.Friendship{
			{RequesterID: "U3", RecipientID: "U1", Status: types.FriendshipBlocked, BlockedBy: "U3"},
			{RequesterID: "U1", RecipientID: "U2", Status: types.FriendshipAccepted},
		},
	}, nil)

	u1 := dialAndJoin(t, relay, "U1")
	u2 := dialAndJoin(t, relay, "U2")
	u3 := dialAndJoin(t, relay, "U3")
	settle(u1, u2, u3)

	u1.send(types.EventSendMessage, types.SendMessage{ReceiverID: "U3", Message: "let me in"})
	assert.Empty(t, u3.collect(quiet), "blocked in either direction")
	assert.Empty(t, u1.collect(quiet), "the sender is not told")

	u1.send(types.EventSendMessage, types.SendMessage{ReceiverID: "U2", Message: "hi friend"})
	assert.Equal(t, types.EventReceiveMessage, u2.next().Type)
}

func TestRelay_InvalidEventsAnsweredWithError(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, nil)
	u1 := dialAndJoin(t, relay, "U1")
	settle(u1)

	u1.sendRaw(`{"type":"teleport","payload":{}}`)
	notice := decode[types.ErrorNotice](t, u1.waitFor(types.EventError))
	assert.Equal(t, types.ErrorCodeInvalidEvent, notice.Code)

	u1.send(types.EventSendMessage, types.SendMessage{ReceiverID: "U1", Message: "me"})
	notice = decode[types.ErrorNotice](t, u1.waitFor(types.EventError))
	assert.Equal(t, types.ErrorCodeInvalidEvent, notice.Code)
	assert.Equal(t, types.EventSendMessage, notice.Event)
}

func TestRelay_RateLimitSharedAcrossDevices(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, func(c *config.Config) { c.Router.RateLimit = 3 })

	phone := dialAndJoin(t, relay, "U1")
	laptop := dialAndJoin(t, relay, "U1")
	receiver := dialAndJoin(t, relay, "U2")
	settle(phone, laptop, receiver)

	for i := 0; i < 2; i++ {
		phone.send(types.EventSendMessage, types.SendMessage{ReceiverID: "U2", Message: "p"})
		laptop.send(types.EventSendMessage, types.SendMessage{ReceiverID: "U2", Message: "l"})
	}

	got := receiver.collect(quiet)
	assert.Len(t, got, 3)

	var limited int
	for _, ev := range append(phone.collect(quiet), laptop.collect(quiet)...) {
		if ev.Type == types.EventError && decode[types.ErrorNotice](t, ev).Code == types.ErrorCodeRateLimited {
			limited++
		}
	}
	assert.Equal(t, 1, limited)
}

func TestRelay_UnauthenticatedUpgradeRefused(t *testing.T) {
	relay := startRelay(t, seed{}, nil)
	url := "ws://" + relay.Addr() + "/ws"

	_, resp, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, jwt.MapClaims{"role": "admin"}))
	_, resp, err = gorillaws.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// query token is accepted for browsers that cannot set headers
	conn, _, err := gorillaws.DefaultDialer.Dial(url+"?token="+tokenFor(t, jwt.MapClaims{"sub": "U1"}), nil)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestRelay_PresenceAPIReflectsConnections(t *testing.T) {
	relay := startRelay(t, seed{profiles: profiles}, nil)
	base := "http://" + relay.Addr()

	dialAndJoin(t, relay, "U1")
	dialAndJoin(t, relay, "U1")

	req, err := http.NewRequest(http.MethodGet, base+"/api/presence/U1", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, jwt.MapClaims{"id": "U2"}))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var presence api.UserPresenceResponse
	require.NoError(t, json.Unmarshal(body, &presence))
	assert.True(t, presence.Online)
	assert.Equal(t, 2, presence.Connections)

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Components["database"])
}
