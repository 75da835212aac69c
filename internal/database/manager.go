package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Manager is the sqlite social graph store. It implements interfaces.SocialGraph.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // single writer for sqlite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations, checks the
// resulting schema and starts the write loop
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLitePragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once after a delay
			err := op.operation(m.db)
			if err != nil && m.config.WriteRetryDelay > 0 {
				m.logger.Warn("database write failed, retrying", "delay", m.config.WriteRetryDelay, "error", err)
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// GetProfile returns the public profile of userID or interfaces.ErrUserNotFound
func (m *Manager) GetProfile(ctx context.Context, userID string) (*types.Profile, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	var p types.Profile
	err := m.db.QueryRowContext(ctx, `SELECT id, name, avatar FROM users WHERE id = ?`, userID).
		Scan(&p.ID, &p.Name, &p.Avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &p, nil
}

// GetFriendship returns the most recent relationship between a and b in
// either direction, or nil when there is none
func (m *Manager) GetFriendship(ctx context.Context, a, b string) (*types.Friendship, error) {
	query := `
		SELECT requester_id, recipient_id, status, blocked_by, updated_at
		FROM friendships
		WHERE (requester_id = ? AND recipient_id = ?)
		   OR (requester_id = ? AND recipient_id = ?)
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var (
		f         types.Friendship
		blockedBy sql.NullString
	)
	err := m.db.QueryRowContext(ctx, query, a, b, b, a).
		Scan(&f.RequesterID, &f.RecipientID, &f.Status, &blockedBy, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query friendship: %w", err)
	}
	if blockedBy.Valid {
		f.BlockedBy = blockedBy.String
	}
	return &f, nil
}

// UpsertUser creates or updates a profile. Profiles are owned by the REST
// layer; this is a seeding helper for tests and local fixtures.
func (m *Manager) UpsertUser(ctx context.Context, p *types.Profile) error {
	if p == nil || p.ID == "" || p.Name == "" {
		return ErrInvalidUser
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, name, avatar, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				avatar = excluded.avatar,
				updated_at = excluded.updated_at
		`, p.ID, p.Name, p.Avatar, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

// SetFriendship records the relationship from f.RequesterID to f.RecipientID.
// A zero UpdatedAt is set to now. Like UpsertUser it only seeds data, the
// relay itself never writes relationships.
func (m *Manager) SetFriendship(ctx context.Context, f *types.Friendship) error {
	if f == nil || f.RequesterID == "" || f.RecipientID == "" || f.RequesterID == f.RecipientID {
		return ErrInvalidRelation
	}
	switch f.Status {
	case types.FriendshipPending, types.FriendshipAccepted, types.FriendshipBlocked:
	default:
		return ErrInvalidRelation
	}

	updatedAt := f.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	blockedBy := sql.NullString{String: f.BlockedBy, Valid: f.BlockedBy != ""}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		// FUNCTIONAL DISCOVERY: Transaction keeps the pair to a single direction,
		// a later write in the opposite direction replaces the earlier row
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM friendships WHERE requester_id = ? AND recipient_id = ?`,
			f.RecipientID, f.RequesterID); err != nil {
			return fmt.Errorf("failed to clear reverse friendship: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO friendships (requester_id, recipient_id, status, blocked_by, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(requester_id, recipient_id) DO UPDATE SET
				status = excluded.status,
				blocked_by = excluded.blocked_by,
				updated_at = excluded.updated_at
		`, f.RequesterID, f.RecipientID, f.Status, blockedBy, updatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert friendship: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit friendship: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
