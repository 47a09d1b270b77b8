// Package config loads runtime settings. Layers are applied in order:
// defaults, the YAML file named by COURSECHAT_CONFIG_FILE, a .env file, and
// finally COURSECHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FileEnvVar names the YAML config file
	FileEnvVar = "COURSECHAT_CONFIG_FILE"

	// DefaultJWTSecret is only suitable for local development
	DefaultJWTSecret = "coursechat-development-secret"
)

// Store backends for chat messages. Users, courses and the feed always live
// in SQLite.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	HTTP  HTTPConfig  `yaml:"http"`
	Log   LogConfig   `yaml:"log"`
	Store StoreConfig `yaml:"store"`
	Auth  AuthConfig  `yaml:"auth"`
	Chat  ChatConfig  `yaml:"chat"`
}

// HTTPConfig is the listener. Port 0 picks a free port.
type HTTPConfig struct {
	Host            string        `yaml:"host" env:"COURSECHAT_HTTP_HOST" validate:"required"`
	Port            int           `yaml:"port" env:"COURSECHAT_HTTP_PORT" validate:"min=0,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"COURSECHAT_HTTP_READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"COURSECHAT_HTTP_WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"COURSECHAT_HTTP_SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"COURSECHAT_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" env:"COURSECHAT_LOG_FORMAT" validate:"oneof=text json"`
}

type StoreConfig struct {
	Backend        string        `yaml:"backend" env:"COURSECHAT_STORE_BACKEND" validate:"oneof=sqlite memory redis badger"`
	DatabasePath   string        `yaml:"database_path" env:"COURSECHAT_DATABASE_PATH" validate:"required"`
	MaxConnections int           `yaml:"max_connections" env:"COURSECHAT_DATABASE_MAX_CONNECTIONS" validate:"min=1"`
	RetryDelay     time.Duration `yaml:"retry_delay" env:"COURSECHAT_DATABASE_RETRY_DELAY" validate:"gte=0"`
	RedisAddr      string        `yaml:"redis_addr" env:"COURSECHAT_REDIS_ADDR"`
	RedisPassword  string        `yaml:"redis_password" env:"COURSECHAT_REDIS_PASSWORD"`
	RedisDB        int           `yaml:"redis_db" env:"COURSECHAT_REDIS_DB" validate:"gte=0"`
	// BadgerDir empty means an in-memory Badger instance
	BadgerDir string `yaml:"badger_dir" env:"COURSECHAT_BADGER_DIR"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"COURSECHAT_JWT_SECRET" validate:"required,min=16"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"COURSECHAT_TOKEN_TTL" validate:"gt=0"`
}

type ChatConfig struct {
	EnforceMembership bool          `yaml:"enforce_membership" env:"COURSECHAT_CHAT_ENFORCE_MEMBERSHIP"`
	Revocation        string        `yaml:"revocation" env:"COURSECHAT_CHAT_REVOCATION" validate:"oneof=none disconnect"`
	RateLimit         int           `yaml:"rate_limit" env:"COURSECHAT_CHAT_RATE_LIMIT" validate:"gte=0"`
	RateWindow        time.Duration `yaml:"rate_window" env:"COURSECHAT_CHAT_RATE_WINDOW" validate:"gt=0"`
	SendBuffer        int           `yaml:"send_buffer" env:"COURSECHAT_CHAT_SEND_BUFFER" validate:"min=1"`
	PingInterval      time.Duration `yaml:"ping_interval" env:"COURSECHAT_CHAT_PING_INTERVAL" validate:"gt=0"`
	PongWait          time.Duration `yaml:"pong_wait" env:"COURSECHAT_CHAT_PONG_WAIT" validate:"gt=0"`
	WriteWait         time.Duration `yaml:"write_wait" env:"COURSECHAT_CHAT_WRITE_WAIT" validate:"gt=0"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Backend:        BackendSQLite,
			DatabasePath:   "./coursechat.db",
			MaxConnections: 10,
			RetryDelay:     100 * time.Millisecond,
		},
		Auth: AuthConfig{
			JWTSecret: DefaultJWTSecret,
			TokenTTL:  24 * time.Hour,
		},
		Chat: ChatConfig{
			Revocation:   "none",
			RateLimit:    100,
			RateWindow:   time.Minute,
			SendBuffer:   100,
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
			WriteWait:    5 * time.Second,
		},
	}
}

// Validate checks field constraints and the rules that span fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Store.Backend == BackendRedis && c.Store.RedisAddr == "" {
		return fmt.Errorf("%w: redis backend requires store.redis_addr", ErrInvalidConfig)
	}
	if c.Chat.PingInterval >= c.Chat.PongWait {
		return fmt.Errorf("%w: chat.ping_interval must be shorter than chat.pong_wait", ErrInvalidConfig)
	}
	return nil
}

// Load reads the file named by COURSECHAT_CONFIG_FILE, if any, and .env from
// the working directory
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(FileEnvVar), ".env")
}

// LoadFrom applies every layer. Either path may be empty; a missing .env is
// not an error but a missing config file is.
func LoadFrom(configFile, dotEnvFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	}

	if dotEnvFile != "" {
		if _, err := os.Stat(dotEnvFile); err == nil {
			// existing environment variables win over the file
			if err := godotenv.Load(dotEnvFile); err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", dotEnvFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat %s: %w", dotEnvFile, err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(config); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
