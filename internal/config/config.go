package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-license/internal/middleware"
	"github.com/technosupport/ts-license/internal/ratelimit"
)

const (
	AuthModeStatic = "static"
	AuthModeHourly = "hourly"
)

var ErrMissingSecret = errors.New("config: client API secret is required (auth.secret, auth.secret_file or LICENSE_AUTH_SECRET)")

type Config struct {
	Environment string `yaml:"environment" envconfig:"ENVIRONMENT"`

	Server struct {
		Addr            string        `yaml:"addr" envconfig:"ADDR"`
		ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
		WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
		CORSOrigins     []string      `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
		TrustedProxies  []string      `yaml:"trusted_proxies" envconfig:"TRUSTED_PROXIES"`
	} `yaml:"server" envconfig:"SERVER"`

	Database struct {
		URL             string        `yaml:"url" envconfig:"URL"`
		MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
		MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	} `yaml:"database" envconfig:"DATABASE"`

	Redis struct {
		Addr     string `yaml:"addr" envconfig:"ADDR"`
		Password string `yaml:"password" envconfig:"PASSWORD"`
		DB       int    `yaml:"db" envconfig:"DB"`
	} `yaml:"redis" envconfig:"REDIS"`

	NATS struct {
		URL           string `yaml:"url" envconfig:"URL"`
		SubjectPrefix string `yaml:"subject_prefix" envconfig:"SUBJECT_PREFIX"`
		MaxRetries    int    `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	} `yaml:"nats" envconfig:"NATS"`

	Auth struct {
		Mode           string        `yaml:"mode" envconfig:"MODE"`
		Secret         string        `yaml:"secret" envconfig:"SECRET"`
		SecretFile     string        `yaml:"secret_file" envconfig:"SECRET_FILE"`
		StaticMemoSize int           `yaml:"static_memo_size" envconfig:"STATIC_MEMO_SIZE"`
		JWTSigningKey  string        `yaml:"jwt_signing_key" envconfig:"JWT_SIGNING_KEY"`
		JWTIssuer      string        `yaml:"jwt_issuer" envconfig:"JWT_ISSUER"`
		OperatorTTL    time.Duration `yaml:"operator_ttl" envconfig:"OPERATOR_TTL"`
	} `yaml:"auth" envconfig:"AUTH"`

	Audit struct {
		SpoolDir       string        `yaml:"spool_dir" envconfig:"SPOOL_DIR"`
		SpoolMaxMB     int64         `yaml:"spool_max_mb" envconfig:"SPOOL_MAX_MB"`
		ReplayInterval time.Duration `yaml:"replay_interval" envconfig:"REPLAY_INTERVAL"`
	} `yaml:"audit" envconfig:"AUDIT"`

	RateLimit       middleware.Config `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	ProductCacheTTL time.Duration     `yaml:"product_cache_ttl" envconfig:"PRODUCT_CACHE_TTL"`

	Sentry struct {
		DSN        string  `yaml:"dsn" envconfig:"DSN"`
		SampleRate float64 `yaml:"sample_rate" envconfig:"SAMPLE_RATE"`
	} `yaml:"sentry" envconfig:"SENTRY"`

	Log struct {
		Level  string `yaml:"level" envconfig:"LEVEL"`
		Format string `yaml:"format" envconfig:"FORMAT"`
	} `yaml:"log" envconfig:"LOG"`
}

// Defaults applied before the YAML file is read.
func Defaults() *Config {
	c := &Config{Environment: "production"}
	c.Server.Addr = ":8000"
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 30 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Database.MaxOpenConns = 25
	c.Database.MaxIdleConns = 25
	c.Database.ConnMaxLifetime = 15 * time.Minute
	c.NATS.SubjectPrefix = "license.events"
	c.NATS.MaxRetries = 3
	c.Auth.Mode = AuthModeStatic
	c.Auth.StaticMemoSize = 256
	c.Auth.JWTIssuer = "ts-license"
	c.Auth.OperatorTTL = 12 * time.Hour
	c.Audit.SpoolMaxMB = 64
	c.Audit.ReplayInterval = 30 * time.Second
	c.RateLimit = middleware.Config{
		ClientIP: ratelimit.LimitConfig{Rate: 60, Window: time.Minute},
		Operator: ratelimit.LimitConfig{Rate: 600, Window: time.Minute},
	}
	c.ProductCacheTTL = time.Minute
	c.Sentry.SampleRate = 1.0
	c.Log.Level = "info"
	c.Log.Format = "json"
	return c
}

// Load reads .env (if present), then the YAML file at path (if present), then
// LICENSE_* environment variables, each layer overriding the previous.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process("LICENSE", cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if cfg.Auth.SecretFile != "" {
		secret, err := ReadSecretFile(cfg.Auth.SecretFile)
		if err != nil {
			return nil, err
		}
		cfg.Auth.Secret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	if c.Auth.Mode != AuthModeStatic && c.Auth.Mode != AuthModeHourly {
		return fmt.Errorf("config: auth.mode must be %q or %q, got %q", AuthModeStatic, AuthModeHourly, c.Auth.Mode)
	}
	if c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if c.Database.URL == "" {
		return errors.New("config: database.url is required")
	}
	if c.Auth.JWTSigningKey == "" {
		return errors.New("config: auth.jwt_signing_key is required")
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return fmt.Errorf("config: server.trusted_proxies: %w", err)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// ReadSecretFile returns the trimmed file contents; an empty file is an error.
func ReadSecretFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("config: secret file %s is empty", path)
	}
	return secret, nil
}
