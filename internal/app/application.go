package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/events"
	"chatrelay/internal/hub"
	"chatrelay/internal/presence"
	"chatrelay/internal/router"
	"chatrelay/internal/websocket"
	pkgdatabase "chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
)

var errMirrorDisabled = errors.New("presence mirror disabled after failed start")

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	logger      *slog.Logger
	graph       interfaces.SocialGraph
	registry    *presence.Registry
	rooms       *websocket.Rooms
	broadcaster *presence.Broadcaster
	router      *router.Router
	hub         *hub.Hub
	mirror      *presence.RedisMirror
	subscriber  *events.Subscriber
	wsHandler   *websocket.Handler
	apiServer   *api.Server
	httpServer  *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	serveErr chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Social graph → Presence → Rooms → Router → Hub → Transport → API → HTTP
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg, logger: logger}

	// STEP 1: Social graph store
	graph, err := openSocialGraph(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	app.graph = graph

	// STEP 2: Presence registry, rooms and the broadcaster over them
	app.registry = presence.NewRegistry(logger)
	app.rooms = websocket.NewRooms(logger)
	app.broadcaster = presence.NewBroadcaster(app.registry, app.rooms, logger)

	// STEP 3: Router delivering through the rooms
	app.router = router.NewRouter(router.Config{
		EnforceBlocks: cfg.Router.EnforceBlocks,
		LookupTimeout: cfg.Router.LookupTimeout,
		RateLimit:     cfg.Router.RateLimit,
		RateWindow:    cfg.Router.RateWindow,
	}, app.rooms, app.broadcaster, graph, logger)

	// STEP 4: Hub serializing lifecycle transitions
	app.hub = hub.NewHub(app.registry, app.rooms, app.broadcaster, logger)

	// STEP 5: Optional presence mirror. Started in Start.
	if cfg.Redis.Addr != "" {
		app.mirror = presence.NewRedisMirror(presence.RedisMirrorOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Key:      cfg.Redis.Key,
		}, logger)
	}

	// STEP 6: Optional block status ingress
	if cfg.NATS.URL != "" {
		sub, err := events.NewSubscriber(events.Options{
			URL:           cfg.NATS.URL,
			Subject:       cfg.NATS.Subject,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			HandleTimeout: cfg.Router.LookupTimeout,
		}, app.router, logger)
		if err != nil {
			app.closeResources()
			return nil, fmt.Errorf("failed to initialize nats subscriber: %w", err)
		}
		app.subscriber = sub
	}

	// STEP 7: Transport and API
	authenticator := auth.NewAuthenticator(auth.Options{
		ClaimNames:      cfg.Auth.ClaimNames,
		VerifySignature: cfg.Auth.VerifySignature,
		Secret:          cfg.Auth.Secret,
	}, logger)

	app.wsHandler = websocket.NewHandler(authenticator, app.hub, app.router, websocket.HandlerOptions{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		Unauthorized:   auth.WriteUnauthorized,
	}, logger)

	app.apiServer = api.NewServer(api.Options{
		Presence:       app.registry,
		Stats:          app.hub,
		Auth:           authenticator,
		Checks:         app.healthChecks(),
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger)

	// STEP 8: HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle(cfg.WebSocket.Path, app.wsHandler)
	mux.Handle("/", app.apiServer)

	app.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

func openSocialGraph(cfg *config.DatabaseConfig, logger *slog.Logger) (interfaces.SocialGraph, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		gw, err := database.NewPostgresGateway(context.Background(), database.PostgresOptions{
			DSN:            cfg.DSN,
			MaxConnections: cfg.MaxConnections,
			ConnectTimeout: cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres gateway: %w", err)
		}
		return gw, nil
	default:
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.Path
		dbConfig.MaxConnections = cfg.MaxConnections
		dbConfig.WriteTimeout = cfg.Timeout

		m, err := database.NewManager(dbConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		return m, nil
	}
}

func (app *Application) healthChecks() map[string]api.Check {
	checks := map[string]api.Check{
		"database": app.graph.HealthCheck,
	}
	if app.mirror != nil {
		checks["redis"] = func(ctx context.Context) error {
			app.mu.Lock()
			mirror := app.mirror
			app.mu.Unlock()
			if mirror == nil {
				return errMirrorDisabled
			}
			return mirror.Ping(ctx)
		}
	}
	if app.subscriber != nil {
		checks["nats"] = func(ctx context.Context) error {
			if !app.subscriber.IsConnected() {
				return events.ErrNotConnected
			}
			return nil
		}
	}
	return checks
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle transitions, then the listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return errors.New("application already started")
	}

	runCtx, cancel := context.WithCancel(ctx)

	// FUNCTIONAL DISCOVERY: Mirror failures never stop the relay, it runs
	// without the mirror instead
	if app.mirror != nil {
		if err := app.mirror.Start(runCtx); err != nil {
			app.logger.Warn("presence mirror disabled", "error", err)
			_ = app.mirror.Close()
			app.mirror = nil
		} else {
			app.registry.SetMirror(app.mirror)
		}
	}

	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	if app.subscriber != nil {
		if err := app.subscriber.Start(runCtx); err != nil {
			cancel()
			_ = app.hub.Stop()
			return fmt.Errorf("failed to start nats subscriber: %w", err)
		}
	}

	go app.router.RunMaintenance(runCtx)

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.listener = ln
	app.cancel = cancel
	app.serveErr = make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("http server error", "error", err)
			app.serveErr <- err
		}
		close(app.serveErr)
	}()

	app.logger.Info("chatrelay started",
		"addr", ln.Addr().String(),
		"ws_path", app.config.WebSocket.Path,
		"database", app.config.Database.Driver,
		"redis_mirror", app.mirror != nil,
		"nats", app.subscriber != nil)
	return nil
}

// Errors reports a fatal HTTP server error. It is closed once the server stops.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Ingress → Mirror → Social graph
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down chatrelay")

	app.mu.Lock()
	started := app.listener != nil
	cancel := app.cancel
	app.mu.Unlock()

	var errs []error
	if started {
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
		}
		cancel()
	}

	app.closeResources()
	app.logger.Info("chatrelay shutdown complete")
	return errors.Join(errs...)
}

func (app *Application) closeResources() {
	if app.subscriber != nil {
		if err := app.subscriber.Close(); err != nil {
			app.logger.Warn("nats close error", "error", err)
		}
	}
	if app.mirror != nil {
		if err := app.mirror.Close(); err != nil {
			app.logger.Warn("redis close error", "error", err)
		}
	}
	if app.graph != nil {
		if err := app.graph.Close(); err != nil {
			app.logger.Warn("database close error", "error", err)
		}
	}
}

// Addr returns the bound address once started, the configured one before
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the combined websocket and API handler
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}

// Stats returns live connection counters
func (app *Application) Stats() map[string]int {
	return app.hub.Stats()
}

// ShutdownTimeout is the configured graceful shutdown bound
func (app *Application) ShutdownTimeout() time.Duration {
	return app.config.HTTP.ShutdownTimeout
}
