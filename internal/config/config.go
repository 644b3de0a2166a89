package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

type Config struct {
	App      AppConfig
	Store    StoreConfig
	Redis    RedisConfig
	Firebase FirebaseConfig
	Realtime RealtimeConfig
	Queue    QueueConfig
}

// Load reads the configuration from the environment. Call godotenv first
// if a .env file should be honoured.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case StoreDriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StoreDriverPostgres)
		}
	case StoreDriverMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORE_DRIVER=%s", StoreDriverMongo)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Realtime.JWTSecret == "" {
		return fmt.Errorf("APP_JWT_SECRET is required")
	}
	if c.Queue.DockResponseWindow <= 0 {
		return fmt.Errorf("DOCK_RESPONSE_WINDOW must be positive")
	}
	return nil
}

type AppConfig struct {
	Env       string `envconfig:"APP_ENV" default:"dev"`
	Port      string `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, "dev")
}

type StoreConfig struct {
	Driver        string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"dockqueue"`
	SeedWaypoints bool   `envconfig:"SEED_WAYPOINTS" default:"true"`

	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"1h"`
}

// RedisConfig is optional; without a URL the server runs single-instance
// with in-process locks and fan-out.
type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"5s"`
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

// FirebaseConfig supports both base64-encoded credentials (cloud deployments)
// and a credentials file path (local development).
type FirebaseConfig struct {
	CredentialsBase64 string `envconfig:"FIREBASE_CREDENTIALS_BASE64"`
	CredentialsFile   string `envconfig:"FIREBASE_CREDENTIALS_FILE" default:"./firebase-service-account.json"`
}

type RealtimeConfig struct {
	JWTSecret       string        `envconfig:"APP_JWT_SECRET"`
	ChannelTokenTTL time.Duration `envconfig:"CHANNEL_TOKEN_TTL" default:"12h"`
}

type QueueConfig struct {
	DockResponseWindow time.Duration `envconfig:"DOCK_RESPONSE_WINDOW" default:"300s"`
	AdmissionLockTTL   time.Duration `envconfig:"ADMISSION_LOCK_TTL" default:"10s"`
}
