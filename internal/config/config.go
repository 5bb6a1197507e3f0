package config

import (
	"errors"
	"fmt"
	"time"
)

// DefaultJWTSecret is the placeholder secret written to fresh config files.
const DefaultJWTSecret = "change-me"

// Config holds server configuration values.
type Config struct {
	Addr               string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout  time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	LogLevel           string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat          string        `mapstructure:"log_format" yaml:"log_format"`

	Auth  AuthConfig  `mapstructure:"auth" yaml:"auth"`
	Store StoreConfig `mapstructure:"store" yaml:"store"`
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
	Chat  ChatConfig  `mapstructure:"chat" yaml:"chat"`
}

// AuthConfig configures token issuing and validation.
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL    time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// StoreConfig selects the storage driver.
type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"` // sqlite or postgres
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// RedisConfig enables cross-node presence and event relay.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	NodeID    string `mapstructure:"node_id" yaml:"node_id"` // empty means generated at startup
	Channel   string `mapstructure:"channel" yaml:"channel"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// ChatConfig tunes chat limits.
type ChatConfig struct {
	MaxContentBytes int `mapstructure:"max_content_bytes" yaml:"max_content_bytes"`
	DefaultPageSize int `mapstructure:"default_page_size" yaml:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size" yaml:"max_page_size"`
	RoomListLimit   int `mapstructure:"room_list_limit" yaml:"room_list_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		MaxMessageBytes:    1 << 20,
		RateLimitPerMinute: 120,
		LogLevel:           "info",
		LogFormat:          "console",
		Auth: AuthConfig{
			JWTSecret: DefaultJWTSecret,
			JWTIssuer: "roomwire",
			TokenTTL:  24 * time.Hour,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "roomwire.db",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Channel:   "roomwire:events",
			KeyPrefix: "roomwire:presence:",
		},
		Chat: ChatConfig{
			MaxContentBytes: 4096,
			DefaultPageSize: 10,
			MaxPageSize:     100,
			RoomListLimit:   20,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as command line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
}

// Validate reports configuration that cannot start a server.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	return errors.Join(errs...)
}
