package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CHATRELAY_HTTP_PORT
const EnvPrefix = "CHATRELAY"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	HTTP      *HTTPConfig      `mapstructure:"http" yaml:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
	Auth      *AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Router    *RouterConfig    `mapstructure:"router" yaml:"router"`
	Database  *DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     *RedisConfig     `mapstructure:"redis" yaml:"redis"`
	NATS      *NATSConfig      `mapstructure:"nats" yaml:"nats"`
	Logging   *LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

type HTTPConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// FUNCTIONAL DISCOVERY: An empty AllowedOrigins list accepts every origin,
// matching how browser clients are served in development
type WebSocketConfig struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	BufferSize     int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	MaxMessageSize int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// AuthConfig controls how bearer credentials are turned into identities
type AuthConfig struct {
	ClaimNames      []string `mapstructure:"claim_names" yaml:"claim_names"`
	VerifySignature bool     `mapstructure:"verify_signature" yaml:"verify_signature"`
	Secret          string   `mapstructure:"secret" yaml:"secret"`
}

type RouterConfig struct {
	EnforceBlocks bool          `mapstructure:"enforce_blocks" yaml:"enforce_blocks"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
	RateLimit     int           `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateWindow    time.Duration `mapstructure:"rate_window" yaml:"rate_window"`
}

// DatabaseConfig selects the social graph store. Path is used by sqlite,
// DSN by postgres.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver" yaml:"driver"`
	Path           string        `mapstructure:"path" yaml:"path"`
	DSN            string        `mapstructure:"dsn" yaml:"dsn"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
}

// RedisConfig enables the presence mirror when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
	Key      string `mapstructure:"key" yaml:"key"`
}

// NATSConfig enables block status ingress when URL is set
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Subject       string        `mapstructure:"subject" yaml:"subject"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Driver names accepted by DatabaseConfig.Driver
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// FUNCTIONAL DISCOVERY: Defaults run a single relay against a local sqlite file
// with no redis or nats, which is enough for development and tests
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			Path:           "/ws",
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
			AllowedOrigins: []string{},
		},
		Auth: &AuthConfig{
			ClaimNames: []string{"id", "userId", "sub"},
		},
		Router: &RouterConfig{
			EnforceBlocks: true,
			LookupTimeout: 3 * time.Second,
			RateLimit:     100,
			RateWindow:    time.Minute,
		},
		Database: &DatabaseConfig{
			Driver:         DriverSQLite,
			Path:           "./chatrelay.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		Redis: &RedisConfig{
			PoolSize: 10,
			Key:      "chatrelay:online",
		},
		NATS: &NATSConfig{
			Subject:       "chatrelay.friend-status",
			MaxReconnects: 10,
			ReconnectWait: 2 * time.Second,
		},
		Logging: &LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Auth == nil || c.Router == nil ||
		c.Database == nil || c.Redis == nil || c.NATS == nil || c.Logging == nil {
		return fmt.Errorf("all configuration sections are required")
	}

	// port 0 binds a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("WebSocket path must start with /")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	// TECHNICAL DISCOVERY: Pongs are only observed between pings, so the read
	// deadline has to outlast at least one ping interval
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if len(c.Auth.ClaimNames) == 0 {
		return fmt.Errorf("at least one identity claim name is required")
	}
	if c.Auth.VerifySignature && c.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required when signature verification is enabled")
	}

	if c.Router.LookupTimeout <= 0 {
		return fmt.Errorf("router lookup timeout must be positive")
	}
	if c.Router.RateLimit <= 0 || c.Router.RateWindow <= 0 {
		return fmt.Errorf("router rate limit and window must be positive")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.Redis.Addr != "" && c.Redis.Key == "" {
		return fmt.Errorf("redis key cannot be empty")
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats subject cannot be empty")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("log format must be json or text")
	}

	return nil
}

// Redacted returns a copy safe to print, with secrets masked
func (c *Config) Redacted() *Config {
	out := *c
	auth := *c.Auth
	redis := *c.Redis
	db := *c.Database
	if auth.Secret != "" {
		auth.Secret = "***"
	}
	if redis.Password != "" {
		redis.Password = "***"
	}
	if db.DSN != "" {
		db.DSN = "***"
	}
	out.Auth = &auth
	out.Redis = &redis
	out.Database = &db
	return &out
}

// newViper returns an isolated viper instance seeded with every default so
// that AutomaticEnv can resolve each key
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	d := DefaultConfig()
	defaults := map[string]interface{}{
		"http.host":                  d.HTTP.Host,
		"http.port":                  d.HTTP.Port,
		"http.read_timeout":          d.HTTP.ReadTimeout,
		"http.write_timeout":         d.HTTP.WriteTimeout,
		"http.shutdown_timeout":      d.HTTP.ShutdownTimeout,
		"websocket.path":             d.WebSocket.Path,
		"websocket.ping_interval":    d.WebSocket.PingInterval,
		"websocket.read_timeout":     d.WebSocket.ReadTimeout,
		"websocket.write_timeout":    d.WebSocket.WriteTimeout,
		"websocket.buffer_size":      d.WebSocket.BufferSize,
		"websocket.max_message_size": d.WebSocket.MaxMessageSize,
		"websocket.allowed_origins":  d.WebSocket.AllowedOrigins,
		"auth.claim_names":           d.Auth.ClaimNames,
		"auth.verify_signature":      d.Auth.VerifySignature,
		"auth.secret":                d.Auth.Secret,
		"router.enforce_blocks":      d.Router.EnforceBlocks,
		"router.lookup_timeout":      d.Router.LookupTimeout,
		"router.rate_limit":          d.Router.RateLimit,
		"router.rate_window":         d.Router.RateWindow,
		"database.driver":            d.Database.Driver,
		"database.path":              d.Database.Path,
		"database.dsn":               d.Database.DSN,
		"database.timeout":           d.Database.Timeout,
		"database.max_connections":   d.Database.MaxConnections,
		"redis.addr":                 d.Redis.Addr,
		"redis.password":             d.Redis.Password,
		"redis.db":                   d.Redis.DB,
		"redis.pool_size":            d.Redis.PoolSize,
		"redis.key":                  d.Redis.Key,
		"nats.url":                   d.NATS.URL,
		"nats.subject":               d.NATS.Subject,
		"nats.max_reconnects":        d.NATS.MaxReconnects,
		"nats.reconnect_wait":        d.NATS.ReconnectWait,
		"logging.level":              d.Logging.Level,
		"logging.format":             d.Logging.Format,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func LoadFromEnv() (*Config, error) {
	v := newViper()
	v.AutomaticEnv()
	return decode(v)
}

// LoadFromFile reads a YAML (or any viper-supported) file over the defaults
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence layers environment > file > defaults. An empty
// path skips the file layer.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
