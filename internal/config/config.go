package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Shard holds all configuration for the shard server process.
type Shard struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Simulation
	TickIntervalMS  int    `yaml:"tick_interval_ms"` // positive, default 1000
	ZoneParallelism int    `yaml:"zone_parallelism"` // max concurrent zone pipelines per tick; 0 = NumCPU
	GameModule      string `yaml:"game_module"`      // registered module identifier

	// Push channel
	SinkWriteTimeoutMS int `yaml:"sink_write_timeout_ms"`
	SendQueueSize      int `yaml:"send_queue_size"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Auth
	Auth AuthConfig `yaml:"auth"`

	// Logging
	LogLevel string `yaml:"log_level"` // debug, info, warn, error (default: info)
}

// AuthConfig holds session token and account options.
type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	TokenTTL           string `yaml:"token_ttl"` // duration, e.g. "24h"
	AutoCreateAccounts bool   `yaml:"auto_create_accounts"`
	AdminToken         string `yaml:"admin_token"`
}

// ParsedTokenTTL parses the configured session token lifetime.
func (a AuthConfig) ParsedTokenTTL() (time.Duration, error) {
	if a.TokenTTL == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(a.TokenTTL)
	if err != nil {
		return 0, fmt.Errorf("parsing token_ttl %q: %w", a.TokenTTL, err)
	}
	return d, nil
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`

	// Connection pool parameters (optional, defaults from pgxpool apply if not set)
	MaxConns          int32  `yaml:"max_conns"`
	MinConns          int32  `yaml:"min_conns"`
	MaxConnLifetime   string `yaml:"max_conn_lifetime"`   // duration, e.g. "1h"
	MaxConnIdleTime   string `yaml:"max_conn_idle_time"`  // duration, e.g. "30m"
	HealthCheckPeriod string `yaml:"health_check_period"` // duration, e.g. "1m"
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	base := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)

	var params []string
	if d.MaxConns > 0 {
		params = append(params, fmt.Sprintf("pool_max_conns=%d", d.MaxConns))
	}
	if d.MinConns > 0 {
		params = append(params, fmt.Sprintf("pool_min_conns=%d", d.MinConns))
	}
	if d.MaxConnLifetime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_lifetime=%s", d.MaxConnLifetime))
	}
	if d.MaxConnIdleTime != "" {
		params = append(params, fmt.Sprintf("pool_max_conn_idle_time=%s", d.MaxConnIdleTime))
	}
	if d.HealthCheckPeriod != "" {
		params = append(params, fmt.Sprintf("pool_health_check_period=%s", d.HealthCheckPeriod))
	}

	if len(params) > 0 {
		return base + "&" + strings.Join(params, "&")
	}
	return base
}

// TickInterval returns the tick cadence as a duration.
func (c Shard) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// SinkWriteTimeout returns the bounded per-subscriber write timeout.
func (c Shard) SinkWriteTimeout() time.Duration {
	return time.Duration(c.SinkWriteTimeoutMS) * time.Millisecond
}

// Default returns Shard config with sensible defaults.
func Default() Shard {
	return Shard{
		BindAddress:        "0.0.0.0",
		Port:               8080,
		TickIntervalMS:     1000,
		ZoneParallelism:    8,
		GameModule:         "arena",
		SinkWriteTimeoutMS: 5000,
		SendQueueSize:      256,
		LogLevel:           "info",
		Auth: AuthConfig{
			TokenTTL:           "24h",
			AutoCreateAccounts: true,
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "gridshard",
			Password: "gridshard",
			DBName:   "gridshard",
			SSLMode:  "disable",
		},
	}
}

// Load loads shard config from a YAML file. If the file doesn't exist,
// returns defaults. Unrecognized options are rejected.
func Load(path string) (Shard, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot start with.
func (c Shard) Validate() error {
	if c.TickIntervalMS <= 0 {
		return fmt.Errorf("tick_interval_ms must be positive, got %d", c.TickIntervalMS)
	}
	if c.GameModule == "" {
		return fmt.Errorf("game_module must be set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.ZoneParallelism < 0 {
		return fmt.Errorf("zone_parallelism must not be negative, got %d", c.ZoneParallelism)
	}
	if _, err := c.Auth.ParsedTokenTTL(); err != nil {
		return err
	}
	return nil
}
