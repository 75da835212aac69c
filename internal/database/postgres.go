package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// PostgresGateway reads the social graph from tables owned by the REST layer.
// It implements interfaces.SocialGraph and never writes.
type PostgresGateway struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// PostgresOptions configures the pgx pool
type PostgresOptions struct {
	DSN            string
	MaxConnections int
	ConnectTimeout time.Duration
}

// NewPostgresGateway connects a pool and pings it once
func NewPostgresGateway(ctx context.Context, opts PostgresOptions, logger *slog.Logger) (*PostgresGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if opts.MaxConnections > 0 {
		poolConfig.MaxConns = int32(opts.MaxConnections)
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	connectCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return NewPostgresGatewayFromPool(pool, logger), nil
}

// NewPostgresGatewayFromPool wraps an existing pool
func NewPostgresGatewayFromPool(pool *pgxpool.Pool, logger *slog.Logger) *PostgresGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresGateway{pool: pool, logger: logger.With("component", "postgres")}
}

// GetProfile returns the public profile of userID or interfaces.ErrUserNotFound
func (g *PostgresGateway) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	var p types.Profile
	err := g.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(avatar, '') FROM users WHERE id = $1`, userID,
	).Scan(&p.ID, &p.Name, &p.Avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &p, nil
}

// GetFriendship returns the most recent relationship between a and b in
// either direction, or nil when there is none
func (g *PostgresGateway) GetFriendship(ctx context.Context, a, b string) (*types.Friendship, error) {
	query := `
		SELECT requester_id, recipient_id, status, COALESCE(blocked_by, ''), updated_at
		FROM friendships
		WHERE (requester_id = $1 AND recipient_id = $2)
		   OR (requester_id = $2 AND recipient_id = $1)
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var f types.Friendship
	err := g.pool.QueryRow(ctx, query, a, b).
		Scan(&f.RequesterID, &f.RecipientID, &f.Status, &f.BlockedBy, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query friendship: %w", err)
	}
	return &f, nil
}

// HealthCheck pings the pool
func (g *PostgresGateway) HealthCheck(ctx context.Context) error {
	if err := g.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Stats reports pool usage for the health endpoint
func (g *PostgresGateway) Stats() map[string]interface{} {
	s := g.pool.Stat()
	return map[string]interface{}{
		"total_conns":    s.TotalConns(),
		"idle_conns":     s.IdleConns(),
		"acquired_conns": s.AcquiredConns(),
	}
}

// Close closes the pool
func (g *PostgresGateway) Close() error {
	g.pool.Close()
	return nil
}
