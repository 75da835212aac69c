package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"chatrelay/pkg/types"
)

var (
	ErrNotConnected      = errors.New("nats connection not established")
	ErrAlreadySubscribed = errors.New("subscriber already started")
)

// StatusDeliverer receives validated block/unblock updates
type StatusDeliverer interface {
	DeliverStatusUpdate(ctx context.Context, update *types.StatusUpdate) error
}

// Options configures the NATS connection and subscription
type Options struct {
	URL           string
	Subject       string
	QueueGroup    string
	MaxReconnects int
	ReconnectWait time.Duration
	// HandleTimeout bounds one delivery
	HandleTimeout time.Duration
}

// Subscriber turns friend status messages published by the social graph
// owner into friend-status-update events
type Subscriber struct {
	nc        *nats.Conn
	sub       *nats.Subscription
	opts      Options
	deliverer StatusDeliverer
	logger    *slog.Logger
	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc

	delivered atomic.Int64
	rejected  atomic.Int64
}

// NewSubscriber connects to opts.URL. Call Start to begin receiving.
func NewSubscriber(opts Options, deliverer StatusDeliverer, logger *slog.Logger) (*Subscriber, error) {
	if opts.Subject == "" {
		return nil, fmt.Errorf("nats subject cannot be empty")
	}
	s := newSubscriber(nil, opts, deliverer, logger)

	natsOpts := []nats.Option{
		nats.Name("chatrelay"),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			s.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	s.nc = nc
	return s, nil
}

func newSubscriber(nc *nats.Conn, opts Options, deliverer StatusDeliverer, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		nc:        nc,
		opts:      opts,
		deliverer: deliverer,
		logger:    logger.With("component", "events", "subject", opts.Subject),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the status subject. Messages are handled until ctx is
// cancelled or Close is called.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc == nil {
		return ErrNotConnected
	}
	if s.sub != nil {
		return ErrAlreadySubscribed
	}

	handler := func(msg *nats.Msg) {
		if err := s.HandleMessage(msg.Data); err != nil {
			s.logger.Warn("status update rejected", "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.opts.QueueGroup != "" {
		sub, err = s.nc.QueueSubscribe(s.opts.Subject, s.opts.QueueGroup, handler)
	} else {
		sub, err = s.nc.Subscribe(s.opts.Subject, handler)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.sub = sub

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.ctx.Done():
		}
	}()

	s.logger.Info("subscribed to status updates")
	return nil
}

// HandleMessage decodes and delivers one status update
func (s *Subscriber) HandleMessage(data []byte) error {
	var update types.StatusUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		s.rejected.Add(1)
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.HandleTimeout)
	defer cancel()

	if err := s.deliverer.DeliverStatusUpdate(ctx, &update); err != nil {
		s.rejected.Add(1)
		return err
	}

	s.delivered.Add(1)
	s.logger.Debug("status update delivered",
		"type", update.Type,
		"user_id", update.UserID,
		"target_user_id", update.TargetUserID)
	return nil
}

// IsConnected reports whether the NATS connection is up
func (s *Subscriber) IsConnected() bool {
	return s.nc != nil && s.nc.IsConnected()
}

// Stats returns delivery counters for the health endpoint
func (s *Subscriber) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected": s.IsConnected(),
		"delivered": s.delivered.Load(),
		"rejected":  s.rejected.Load(),
	}
}

// Close drains the subscription and closes the connection. Safe to call twice.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return nil
	}
	s.cancel()

	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			s.logger.Warn("failed to unsubscribe", "error", err)
		}
	}
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
