// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig configures handshake token verification.
type AuthConfig struct {
	JWTSecret               string `mapstructure:"jwt_secret"`
	HandshakeTimeoutSeconds int    `mapstructure:"handshake_timeout_seconds"`
}

// DBConfig controls access to the event log database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	MaxConnLifetimeMin int    `mapstructure:"max_conn_lifetime_minutes"`
}

// RedisConfig controls the broadcast channel backend. An empty address
// selects the in-memory broker.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// ProgressConfig tunes the publisher's throttle and write bounds.
type ProgressConfig struct {
	ThresholdPercent int `mapstructure:"threshold_percent"`
	WriteTimeoutMs   int `mapstructure:"write_timeout_ms"`
}

// HeartbeatConfig tunes the WebSocket keepalive cycle.
type HeartbeatConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	PongWaitSeconds int `mapstructure:"pong_wait_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROGRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.handshake_timeout_seconds", 10)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("redis.channel_prefix", "progress:owner:")
	v.SetDefault("progress.threshold_percent", 5)
	v.SetDefault("progress.write_timeout_ms", 2000)
	v.SetDefault("heartbeat.interval_seconds", 25)
	v.SetDefault("heartbeat.pong_wait_seconds", 50)
	v.SetDefault("logging.development", true)
}

// bindEnv registers every key with Viper so AutomaticEnv can see it.
// Unmarshal only reads env vars for known keys, and keys without a
// default (jwt_secret, dsn, addr, password) are otherwise unknown.
func bindEnv(v *viper.Viper) {
	keys := []string{
		"server.port",
		"auth.jwt_secret",
		"auth.handshake_timeout_seconds",
		"db.dsn",
		"db.max_conns",
		"db.min_conns",
		"db.max_conn_lifetime_minutes",
		"redis.addr",
		"redis.password",
		"redis.db",
		"redis.channel_prefix",
		"progress.threshold_percent",
		"progress.write_timeout_ms",
		"heartbeat.interval_seconds",
		"heartbeat.pong_wait_seconds",
		"logging.development",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set")
	}
	if c.Auth.HandshakeTimeoutSeconds <= 0 {
		return fmt.Errorf("auth.handshake_timeout_seconds must be > 0")
	}
	if c.Progress.ThresholdPercent < 0 || c.Progress.ThresholdPercent >= 100 {
		return fmt.Errorf("progress.threshold_percent must be in [0, 100)")
	}
	if c.Progress.WriteTimeoutMs <= 0 {
		return fmt.Errorf("progress.write_timeout_ms must be > 0")
	}
	if c.Heartbeat.IntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat.interval_seconds must be > 0")
	}
	if c.Heartbeat.PongWaitSeconds <= c.Heartbeat.IntervalSeconds {
		return fmt.Errorf("heartbeat.pong_wait_seconds must exceed heartbeat.interval_seconds")
	}
	return nil
}

// HandshakeTimeout converts the auth timeout to a duration.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Auth.HandshakeTimeoutSeconds) * time.Second
}

// PublishWriteTimeout converts the write bound to a duration.
func (c Config) PublishWriteTimeout() time.Duration {
	return time.Duration(c.Progress.WriteTimeoutMs) * time.Millisecond
}

// PingInterval converts the heartbeat interval to a duration.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalSeconds) * time.Second
}

// PongWait converts the heartbeat liveness window to a duration.
func (c Config) PongWait() time.Duration {
	return time.Duration(c.Heartbeat.PongWaitSeconds) * time.Second
}
