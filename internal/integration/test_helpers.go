package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/types"
)

const eventTimeout = 2 * time.Second

// inbound is an event as a client sees it
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// seed is written to the social graph before the relay starts
type seed struct {
	profiles    []types.Profile
	friendships []types.Friendship
}

// startRelay runs the full application on a free port against a fresh sqlite file
func startRelay(t *testing.T, s seed, mutate func(*config.Config)) *app.Application {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "relay.db")
	if mutate != nil {
		mutate(cfg)
	}

	seedGraph(t, cfg.Database.Path, s)

	relay, err := app.NewApplication(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, relay.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = relay.Stop(ctx)
	})
	return relay
}

func seedGraph(t *testing.T, path string, s seed) {
	t.Helper()
	dbCfg := dbconfig.DefaultConfig()
	dbCfg.DatabasePath = path
	dbCfg.WriteRetryDelay = 0

	m, err := database.NewManager(dbCfg, nil)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	ctx := context.Background()
	for i := range s.profiles {
		require.NoError(t, m.UpsertUser(ctx, &s.profiles[i]))
	}
	for i := range s.friendships {
		require.NoError(t, m.SetFriendship(ctx, &s.friendships[i]))
	}
}

func tokenFor(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("issuer-secret"))
	require.NoError(t, err)
	return s
}

// testClient is one websocket connection with a background reader
type testClient struct {
	t      *testing.T
	userID string
	conn   *gorillaws.Conn
	events chan inbound
}

func dial(t *testing.T, relay *app.Application, userID string) *testClient {
	t.Helper()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, jwt.MapClaims{"id": userID}))
	conn, _, err := gorillaws.DefaultDialer.Dial("ws://"+relay.Addr()+"/ws", header)
	require.NoError(t, err)

	c := &testClient{t: t, userID: userID, conn: conn, events: make(chan inbound, 256)}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// dialAndJoin connects and joins the client's own room, consuming the snapshot
func dialAndJoin(t *testing.T, relay *app.Application, userID string) *testClient {
	t.Helper()
	c := dial(t, relay, userID)
	c.send(types.EventJoinRoom, types.JoinRoom{UserID: userID})
	c.waitFor(types.EventOnlineUsers)
	return c
}

func (c *testClient) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev inbound
		if json.Unmarshal(data, &ev) == nil {
			c.events <- ev
		}
	}
}

func (c *testClient) send(kind string, payload interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]interface{}{"type": kind, "payload": payload}))
}

func (c *testClient) sendRaw(frame string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(gorillaws.TextMessage, []byte(frame)))
}

// next returns the next event or fails after eventTimeout
func (c *testClient) next() inbound {
	c.t.Helper()
	select {
	case ev, ok := <-c.events:
		require.True(c.t, ok, "%s: connection closed", c.userID)
		return ev
	case <-time.After(eventTimeout):
		c.t.Fatalf("%s: no event within %v", c.userID, eventTimeout)
		return inbound{}
	}
}

// waitFor skips events until one of kind arrives
func (c *testClient) waitFor(kind string) inbound {
	c.t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case ev, ok := <-c.events:
			require.True(c.t, ok, "%s: connection closed waiting for %s", c.userID, kind)
			if ev.Type == kind {
				return ev
			}
		case <-deadline:
			c.t.Fatalf("%s: no %s within %v", c.userID, kind, eventTimeout)
			return inbound{}
		}
	}
}

// drain discards events until the connection has been quiet for d
func (c *testClient) drain(d time.Duration) {
	for {
		select {
		case _, ok := <-c.events:
			if !ok {
				return
			}
		case <-time.After(d):
			return
		}
	}
}

// collect returns every event received within d
func (c *testClient) collect(d time.Duration) []inbound {
	var out []inbound
	deadline := time.After(d)
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func kinds(events []inbound) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func decode[T any](t *testing.T, ev inbound) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(ev.Payload, &v))
	return v
}

func settle(clients ...*testClient) {
	for _, c := range clients {
		c.drain(150 * time.Millisecond)
	}
}
