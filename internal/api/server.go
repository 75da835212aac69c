package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chatrelay/pkg/types"
)

// Presence is the read side of the presence registry
type Presence interface {
	OnlineIdentities() []string
	ConnectionsFor(userID string) int
}

// StatsProvider reports connection counters
type StatsProvider interface {
	Stats() map[string]int
}

// TokenAuthenticator resolves a bearer token to an identity
type TokenAuthenticator interface {
	Authenticate(token string) (string, error)
}

// Check reports the health of one dependency
type Check func(ctx context.Context) error

// Options wires the server to the running relay
type Options struct {
	ServiceName    string
	Presence       Presence
	Stats          StatsProvider
	Auth           TokenAuthenticator
	Checks         map[string]Check
	AllowedOrigins []string
	HealthTimeout  time.Duration
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	engine  *gin.Engine
	opts    Options
	sampler *processSampler
	logger  *slog.Logger
	now     func() time.Time
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status      string            `json:"status"`
	Service     string            `json:"service"`
	Timestamp   time.Time         `json:"timestamp"`
	Components  map[string]string `json:"components"`
	Connections map[string]int    `json:"connections"`
	Process     ProcessStats      `json:"process"`
}

// OnlineResponse is returned by GET /api/presence/online
type OnlineResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// UserPresenceResponse is returned by GET /api/presence/:userId
type UserPresenceResponse struct {
	UserID      string `json:"userId"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	statusOK       = "ok"
	statusDegraded = "degraded"

	contextUserID = "user_id"
)

// NewServer builds the gin engine and its routes
func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "chatrelay"
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 5 * time.Second
	}

	s := &Server{
		engine:  gin.New(),
		opts:    opts,
		sampler: newProcessSampler(time.Now()),
		logger:  logger.With("component", "api"),
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery(), s.requestLogger(), s.cors())

	s.engine.GET("/health", s.health)
	s.engine.GET("/api/health", s.health)

	presence := s.engine.Group("/api/presence")
	presence.Use(s.bearerAuth())
	{
		presence.GET("/online", s.online)
		presence.GET("/:userId", s.userPresence)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// FUNCTIONAL DISCOVERY: Any failed dependency check turns the response into a 503
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.HealthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:     statusOK,
		Service:    s.opts.ServiceName,
		Timestamp:  s.now().UTC(),
		Components: make(map[string]string, len(s.opts.Checks)),
		Process:    s.sampler.Sample(),
	}

	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			resp.Status = statusDegraded
			resp.Components[name] = "error: " + err.Error()
			s.logger.Warn("health check failed", "component", name, "error", err)
			continue
		}
		resp.Components[name] = statusOK
	}

	if s.opts.Stats != nil {
		resp.Connections = s.opts.Stats.Stats()
	}

	code := http.StatusOK
	if resp.Status != statusOK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) online(c *gin.Context) {
	users := s.opts.Presence.OnlineIdentities()
	s.logger.Debug("online listing", "requested_by", c.GetString(contextUserID), "count", len(users))
	if users == nil {
		users = []string{}
	}
	c.JSON(http.StatusOK, OnlineResponse{Users: users, Count: len(users)})
}

func (s *Server) userPresence(c *gin.Context) {
	userID := c.Param("userId")
	if !types.IsValidUserID(userID) {
		s.sendError(c, http.StatusBadRequest, "invalid user id")
		return
	}

	n := s.opts.Presence.ConnectionsFor(userID)
	c.JSON(http.StatusOK, UserPresenceResponse{UserID: userID, Online: n > 0, Connections: n})
}

// bearerAuth requires a credential the relay would accept on upgrade
func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Auth == nil {
			s.sendError(c, http.StatusServiceUnavailable, "authentication not configured")
			c.Abort()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			s.sendError(c, http.StatusUnauthorized, "missing bearer token")
			c.Abort()
			return
		}

		userID, err := s.opts.Auth.Authenticate(token)
		if err != nil {
			s.sendError(c, http.StatusUnauthorized, err.Error())
			c.Abort()
			return
		}

		c.Set(contextUserID, userID)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// cors mirrors the websocket origin policy: an empty list allows every origin
func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP())
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(c *gin.Context, code int, message string) {
	c.JSON(code, ErrorResponse{
		Error:   strings.ToLower(strings.ReplaceAll(http.StatusText(code), " ", "_")),
		Code:    code,
		Message: message,
	})
}
