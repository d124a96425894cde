package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the agent store API. Values are loaded
// from an optional YAML file and can be overridden by environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Password  PasswordConfig  `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings. An empty DSN selects
// the in-memory store (development and tests only).
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`
	AutoMigrate     bool   `yaml:"auto_migrate"`
}

// AuthConfig contains token issuance settings. The JWT secret is process-wide
// configuration; swapping it requires a restart, not a code change.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	Issuer          string        `yaml:"issuer"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// PasswordConfig carries scrypt parameters for credential hashing.
type PasswordConfig struct {
	CPUCost     int `yaml:"cpu_cost"`
	BlockSize   int `yaml:"block_size"`
	Parallelism int `yaml:"parallelism"`
	KeyLength   int `yaml:"key_length"`
	SaltLength  int `yaml:"salt_length"`
}

// RateLimitConfig throttles unauthenticated auth endpoints per client IP.
type RateLimitConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"per_second"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig controls the shared logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15,
			WriteTimeout: 15,
			IdleTimeout:  60,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			Issuer:          "agentstore",
			AccessTokenTTL:  24 * time.Hour,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			CPUCost:     16384,
			BlockSize:   8,
			Parallelism: 1,
			KeyLength:   32,
			SaltLength:  64,
		},
		RateLimit: RateLimitConfig{
			Burst:     20,
			PerSecond: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path (optional) and applies environment
// overrides. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("config: auth jwt secret is required (AGENTSTORE_JWT_SECRET)")
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.Password.CPUCost < 2 || c.Password.CPUCost&(c.Password.CPUCost-1) != 0 {
		return errors.New("config: password cpu cost must be a power of two > 1")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "AGENTSTORE_ADDR")
	setString(&cfg.Database.DSN, "AGENTSTORE_PG_DSN")
	setString(&cfg.Auth.JWTSecret, "AGENTSTORE_JWT_SECRET")
	setString(&cfg.Auth.Issuer, "AGENTSTORE_JWT_ISSUER")
	setDuration(&cfg.Auth.AccessTokenTTL, "AGENTSTORE_ACCESS_TTL")
	setDuration(&cfg.Auth.RefreshTokenTTL, "AGENTSTORE_REFRESH_TTL")
	setString(&cfg.Logging.Level, "AGENTSTORE_LOG_LEVEL")
	setInt(&cfg.RateLimit.Burst, "AGENTSTORE_RATE_BURST")
	setInt(&cfg.RateLimit.PerSecond, "AGENTSTORE_RATE_PER_SEC")
	if v := strings.TrimSpace(os.Getenv("AGENTSTORE_CORS_ORIGINS")); v != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
