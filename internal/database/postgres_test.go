package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

var _ interfaces.SocialGraph = (*PostgresGateway)(nil)

// Runs only against a disposable database named by CHATRELAY_TEST_POSTGRES_DSN
func TestPostgresGateway(t *testing.T) {
	dsn := os.Getenv("CHATRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHATRELAY_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	g, err := NewPostgresGateway(ctx, PostgresOptions{DSN: dsn, MaxConnections: 4, ConnectTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	defer g.Close()

	_, err = g.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			avatar TEXT
		);
		CREATE TABLE IF NOT EXISTS friendships (
			requester_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			status TEXT NOT NULL,
			blocked_by TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (requester_id, recipient_id)
		)`)
	require.NoError(t, err)

	a, b := "pg-"+uuid.NewString(), "pg-"+uuid.NewString()
	t.Cleanup(func() {
		_, _ = g.pool.Exec(context.Background(), `DELETE FROM friendships WHERE requester_id = $1 OR requester_id = $2`, a, b)
		_, _ = g.pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1 OR id = $2`, a, b)
	})

	_, err = g.pool.Exec(ctx, `INSERT INTO users (id, name) VALUES ($1, 'Ada'), ($2, 'Bob')`, a, b)
	require.NoError(t, err)

	p, err := g.GetProfile(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, &types.Profile{ID: a, Name: "Ada"}, p)

	_, err = g.GetProfile(ctx, "pg-missing-"+uuid.NewString())
	assert.ErrorIs(t, err, interfaces.ErrUserNotFound)

	f, err := g.GetFriendship(ctx, a, b)
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = g.pool.Exec(ctx, `INSERT INTO friendships (requester_id, recipient_id, status, blocked_by) VALUES ($1, $2, 'blocked', $1)`, a, b)
	require.NoError(t, err)

	f, err = g.GetFriendship(ctx, b, a)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.IsBlocked())
	assert.Equal(t, a, f.BlockedBy)

	assert.NoError(t, g.HealthCheck(ctx))
	assert.Contains(t, g.Stats(), "total_conns")
}

func TestNewPostgresGateway_InvalidDSN(t *testing.T) {
	_, err := NewPostgresGateway(context.Background(), PostgresOptions{DSN: "postgres://%zz"}, nil)
	assert.Error(t, err)
}
