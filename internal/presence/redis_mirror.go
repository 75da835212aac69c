package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirrorOptions configures the redis presence mirror
type RedisMirrorOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Key      string
	Timeout  time.Duration
}

// RedisMirror keeps a redis set of online identities so other services can
// answer "is X online" without calling the relay.
// ARCHITECTURAL DISCOVERY: Transitions are coalesced per identity and applied
// by a single writer goroutine. The lifecycle loop never waits on redis and
// the last transition for a user always reaches the set.
type RedisMirror struct {
	client  *redis.Client
	key     string
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]bool // userID -> latest online state not yet written
	wake    chan struct{}

	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

// NewRedisMirror creates a mirror. No connection is made until Start.
func NewRedisMirror(opts RedisMirrorOptions, logger *slog.Logger) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})
	return newRedisMirror(client, opts, logger)
}

func newRedisMirror(client *redis.Client, opts RedisMirrorOptions, logger *slog.Logger) *RedisMirror {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &RedisMirror{
		client:  client,
		key:     opts.Key,
		timeout: opts.Timeout,
		pending: make(map[string]bool),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger.With("component", "redis_mirror"),
	}
}

// Start verifies connectivity, clears state left by a previous process and
// starts the writer
func (m *RedisMirror) Start(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	// FUNCTIONAL DISCOVERY: A restarted relay has no connections, so anything
	// in the set is stale
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("failed to reset presence set: %w", err)
	}

	m.wg.Add(1)
	go m.writeLoop()
	m.logger.Info("presence mirror started", "key", m.key)
	return nil
}

// Online records that userID should be in the set
func (m *RedisMirror) Online(userID string) {
	m.record(userID, true)
}

// Offline records that userID should leave the set
func (m *RedisMirror) Offline(userID string) {
	m.record(userID, false)
}

// record overwrites any unwritten state for the user, it never blocks
func (m *RedisMirror) record(userID string, online bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending[userID] = online
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *RedisMirror) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.wake:
			m.flush()
		case <-m.done:
			// whatever is still pending is the final state
			m.flush()
			return
		}
	}
}

// flush takes the pending batch and writes it
func (m *RedisMirror) flush() {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]bool, len(batch))
	m.mu.Unlock()

	for userID, online := range batch {
		m.apply(userID, online)
	}
}

func (m *RedisMirror) apply(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var err error
	if online {
		err = m.client.SAdd(ctx, m.key, userID).Err()
	} else {
		err = m.client.SRem(ctx, m.key, userID).Err()
	}
	if err != nil {
		m.logger.Error("presence mirror update failed",
			"user_id", userID,
			"online", online,
			"error", err)
	}
}

// Members reads the mirrored set back
func (m *RedisMirror) Members(ctx context.Context) ([]string, error) {
	return m.client.SMembers(ctx, m.key).Result()
}

// Ping checks redis connectivity for health reporting
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Pending returns the number of identities with an unwritten transition
func (m *RedisMirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Close flushes pending transitions and closes the client
func (m *RedisMirror) Close() error {
	var err error
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.done)
		m.wg.Wait()
		err = m.client.Close()
	})
	return err
}
