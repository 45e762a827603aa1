package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tracking *Trackingconfig `yaml:"tracking"`
	Identity *Identityconfig `yaml:"identity"`
	Store    *Storeconfig    `yaml:"store"`
	RabbitMq *RabbitMqconfig `yaml:"rabbitmq"`
	Sandbox  *Sandboxconfig  `yaml:"sandbox"`
	Log      *Loggerconfig   `yaml:"log"`
}

// Trackingconfig tunes the realtime connection manager.
type Trackingconfig struct {
	BaseURL              string        `yaml:"base_url"`
	AuthToken            string        `yaml:"auth_token"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	LocationInterval     time.Duration `yaml:"location_interval"`
	StatusSyncInterval   time.Duration `yaml:"status_sync_interval"`
	QueueCapacity        int           `yaml:"queue_capacity"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// Identityconfig tunes the ride identity manager and its REST client.
type Identityconfig struct {
	APIBaseURL       string        `yaml:"api_base_url"`
	APIToken         string        `yaml:"api_token"`
	HTTPTimeout      time.Duration `yaml:"http_timeout"`
	StatusTTL        time.Duration `yaml:"status_ttl"`
	CurrentKey       string        `yaml:"current_key"`
	StatusCache      string        `yaml:"status_cache"` // memory | redis
	InsecureTLS      bool          `yaml:"insecure_tls"`
	ValidateOnResume bool          `yaml:"validate_on_resume"`
}

type Storeconfig struct {
	Backend    string       `yaml:"backend"` // memory | sqlite | postgres | redis
	SQLitePath string       `yaml:"sqlite_path"`
	DB         *DBconfig    `yaml:"db"`
	Redis      *Redisconfig `yaml:"redis"`
}

type DBconfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type Redisconfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RabbitMqconfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

// Sandboxconfig drives cmd/helper, the local booking backend.
type Sandboxconfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type Loggerconfig struct {
	Level string `yaml:"level"`
}

func New() (*Config, error) {
	getEnv := func(key, def string) string {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		return val
	}

	getEnvInt := func(key string, def int) int {
		valStr := os.Getenv(key)
		if valStr == "" {
			return def
		}
		val, err := strconv.Atoi(valStr)
		if err != nil {
			fmt.Printf("invalid %s=%q, using default key %v\n", key, valStr, def)
			return def
		}
		return val
	}

	getEnvDuration := func(key string, def time.Duration) time.Duration {
		valStr := os.Getenv(key)
		if valStr == "" {
			return def
		}
		val, err := time.ParseDuration(valStr)
		if err != nil {
			fmt.Printf("invalid %s=%q, using default key %v\n", key, valStr, def)
			return def
		}
		return val
	}

	getEnvBool := func(key string, def bool) bool {
		valStr := os.Getenv(key)
		if valStr == "" {
			return def
		}
		val, err := strconv.ParseBool(valStr)
		if err != nil {
			fmt.Printf("invalid %s=%q, using default key %v\n", key, valStr, def)
			return def
		}
		return val
	}

	cnf := &Config{
		Tracking: &Trackingconfig{
			BaseURL:              getEnv("TRACKING_WS_URL", "ws://localhost:3001"),
			AuthToken:            getEnv("TRACKING_AUTH_TOKEN", ""),
			MaxReconnectAttempts: getEnvInt("TRACKING_MAX_RECONNECT_ATTEMPTS", 10),
			ReconnectBaseDelay:   getEnvDuration("TRACKING_RECONNECT_BASE_DELAY", time.Second),
			ReconnectMaxDelay:    getEnvDuration("TRACKING_RECONNECT_MAX_DELAY", 30*time.Second),
			HeartbeatInterval:    getEnvDuration("TRACKING_HEARTBEAT_INTERVAL", 30*time.Second),
			LocationInterval:     getEnvDuration("TRACKING_LOCATION_INTERVAL", 5*time.Second),
			StatusSyncInterval:   getEnvDuration("TRACKING_STATUS_SYNC_INTERVAL", 10*time.Second),
			QueueCapacity:        getEnvInt("TRACKING_QUEUE_CAPACITY", 100),
			HandshakeTimeout:     getEnvDuration("TRACKING_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:         getEnvDuration("TRACKING_WRITE_TIMEOUT", 5*time.Second),
		},
		Identity: &Identityconfig{
			APIBaseURL:       getEnv("BOOKING_API_URL", "http://localhost:3001"),
			APIToken:         getEnv("BOOKING_API_TOKEN", ""),
			HTTPTimeout:      getEnvDuration("BOOKING_API_TIMEOUT", 10*time.Second),
			StatusTTL:        getEnvDuration("RIDE_STATUS_TTL", 30*time.Second),
			CurrentKey:       getEnv("RIDE_CURRENT_KEY", "current_ride_id"),
			StatusCache:      getEnv("RIDE_STATUS_CACHE", "memory"),
			InsecureTLS:      getEnvBool("BOOKING_API_INSECURE_TLS", false),
			ValidateOnResume: getEnvBool("RIDE_VALIDATE_ON_RESUME", true),
		},
		Store: &Storeconfig{
			Backend:    getEnv("STORE_BACKEND", "sqlite"),
			SQLitePath: getEnv("STORE_SQLITE_PATH", "ride-tracker.db"),
			DB: &DBconfig{
				Host:     getEnv("DB_HOST", "localhost"),
				Port:     getEnvInt("DB_PORT", 5432),
				User:     getEnv("DB_USER", "ridehail_user"),
				Password: getEnv("DB_PASSWORD", "ridehail_pass"),
				Database: getEnv("DB_NAME", "ridehail_db"),
			},
			Redis: &Redisconfig{
				URL:      getEnv("REDIS_URL", "localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
			},
		},
		RabbitMq: &RabbitMqconfig{
			Enabled:  getEnvBool("RABBITMQ_ENABLED", false),
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnvInt("RABBITMQ_PORT", 5672),
			User:     getEnv("RABBITMQ_USER", "guest"),
			Password: getEnv("RABBITMQ_PASSWORD", "guest"),
			VHost:    getEnv("RABBITMQ_VHOST", ""),
		},
		Sandbox: &Sandboxconfig{
			Port:      getEnvInt("SANDBOX_PORT", 3001),
			JWTSecret: getEnv("SANDBOX_JWT_SECRET", "sandbox-secret"),
		},
		Log: &Loggerconfig{
			Level: getEnv("LOG_LEVEL", "INFO"),
		},
	}

	return cnf, cnf.Validate()
}

// NewFromYAML starts from the environment defaults and overlays the file.
func NewFromYAML(path string) (*Config, error) {
	cnf, err := New()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cnf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cnf, cnf.Validate()
}

func (c *Config) Validate() error {
	t := c.Tracking
	if t == nil || c.Identity == nil || c.Store == nil {
		return fmt.Errorf("config: missing section")
	}
	if t.MaxReconnectAttempts < 0 {
		return fmt.Errorf("config: max_reconnect_attempts must be >= 0")
	}
	if t.ReconnectBaseDelay <= 0 || t.ReconnectMaxDelay < t.ReconnectBaseDelay {
		return fmt.Errorf("config: reconnect delays must satisfy 0 < base <= max")
	}
	if t.HeartbeatInterval <= 0 || t.LocationInterval <= 0 || t.StatusSyncInterval <= 0 {
		return fmt.Errorf("config: intervals must be positive")
	}
	if t.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue_capacity must be positive")
	}
	if c.Identity.StatusTTL <= 0 {
		return fmt.Errorf("config: status_ttl must be positive")
	}
	switch c.Store.Backend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	return nil
}
