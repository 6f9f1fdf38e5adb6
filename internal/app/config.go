package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/pickup-proximity/internal/domain/proximity"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the complete application configuration, loadable from
// environment variables (PICKUP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Driver      string `default:"postgres" usage:"Storage driver: postgres or sqlite"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PICKUP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SQLitePath  string `env:"SQLITE_PATH" default:"file:pickup.db?_txlock=immediate" usage:"SQLite DSN used with driver=sqlite" flag:"sqlite-path"`

	Auth     AuthConfig
	Tracking TrackingConfig
	Realtime RealtimeConfig

	Redis RedisConfig
	Stan  StanConfig

	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET" usage:"HS256 secret for access tokens (PICKUP_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	Issuer    string `default:"pickup" usage:"Expected token issuer"`
}

// TrackingConfig holds the ingestion and proximity tunables.
type TrackingConfig struct {
	Timeout      time.Duration `default:"3s" usage:"Upper bound for one ingest or query, lock wait included"`
	FallbackPace float64       `default:"50" usage:"Walking pace in meters per minute used when no speed is reported" flag:"fallback-pace"`
	Rings        []string      `default:"300:very-close:#d32f2f,1000:close:#f57c00,3000:approaching:#fbc02d" usage:"Default proximity rings as threshold:label[:color]"`
	HistoryLimit int           `default:"20" usage:"Samples returned by GET /location/{orderId}"`
	RingCacheTTL time.Duration `default:"5m" usage:"How long validated restaurant rings are cached"`
}

// RealtimeConfig controls the broadcast hub and websocket endpoints.
type RealtimeConfig struct {
	Buffer         int      `default:"64" usage:"Per-subscriber update queue"`
	AllowedOrigins []string `default:"*" usage:"Origins allowed to open websockets"`
	MaxSubscribers int      `default:"50000" usage:"Subscriber count above which the instance reports not live"`
}

// RedisConfig enables the cross-instance relay when URL is set.
type RedisConfig struct {
	URL     string `usage:"Redis URL, e.g. redis://localhost:6379/0; empty disables the relay" flag:"redis-url"`
	Channel string `default:"pickup:proximity" usage:"Pub/sub channel shared by instances"`
}

// StanConfig enables the NATS Streaming export when URL is set.
type StanConfig struct {
	URL       string `usage:"NATS URL; empty disables the export" flag:"stan-url"`
	ClusterID string `default:"test-cluster" usage:"NATS Streaming cluster id"`
	ClientID  string `usage:"NATS Streaming client id, defaults to a per-process id"`
	Subject   string `default:"pickup.proximity" usage:"Subject proximity updates are exported to"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env files, then configuration from environment
// variables, flags and YAML config files, and applies platform defaults.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	return loadConfig(aconfig.Config{
		EnvPrefix: "PICKUP",
		Files:     []string{"config.yaml", "/etc/pickup/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set PICKUP_DATABASE_URL or DATABASE_URL")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite path is required with driver=sqlite")
		}
	default:
		return errors.Errorf("unknown storage driver %q", c.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required: set PICKUP_AUTH_JWT_SECRET")
	}
	if _, err := c.Tracking.ParseRings(); err != nil {
		return errors.Wrap(err, "default rings")
	}
	return nil
}

// ParseRings validates the configured default rings.
func (c TrackingConfig) ParseRings() (proximity.Rings, error) {
	if len(c.Rings) == 0 {
		return proximity.DefaultRings(), nil
	}
	return proximity.ParseRings(c.Rings)
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PICKUP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.URL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.URL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
