package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
)

// minSecretLen is the shortest SECRET_KEY accepted for HS256 signing and session sealing.
const minSecretLen = 32

// Config holds application configuration loaded from the environment.
// It is built once at start-up and treated as read-only afterwards.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:"0.0.0.0:8431"`
	BaseURL  string `envconfig:"BASE_URL" default:"http://localhost:8431"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEV" default:"false"`
	LogFile  string `envconfig:"LOG_FILE" default:""`

	DatabaseURL      string `envconfig:"DATABASE_URL" default:""`
	DatabaseTimeZone string `envconfig:"DATABASE_TIMEZONE" default:""`

	SecretKey       string        `envconfig:"SECRET_KEY" required:"true"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"120m"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`
	VerifyTokenTTL  time.Duration `envconfig:"VERIFY_TOKEN_TTL" default:"10m"`
	ResetTokenTTL   time.Duration `envconfig:"RESET_TOKEN_TTL" default:"30m"`
	AdminSessionTTL time.Duration `envconfig:"ADMIN_SESSION_TTL" default:"24h"`
	BcryptCost      int           `envconfig:"BCRYPT_COST" default:"12"`
	APIKeyPrefix    string        `envconfig:"API_KEY_PREFIX" default:"pk_"`

	SnowflakeNode int64 `envconfig:"SNOWFLAKE_NODE" default:"1"`

	RedisURL         string        `envconfig:"REDIS_URL" default:""`
	LoginMaxAttempts int           `envconfig:"LOGIN_MAX_ATTEMPTS" default:"5"`
	LoginWindow      time.Duration `envconfig:"LOGIN_WINDOW" default:"15m"`
}

// Load reads a .env file when present, then the process environment, into a Config.
func Load() (*Config, error) {
	// best-effort: a missing .env is normal outside development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot express with tags.
func (c *Config) Validate() error {
	if len(c.SecretKey) < minSecretLen {
		return fmt.Errorf("SECRET_KEY must be at least %d bytes", minSecretLen)
	}
	ttls := map[string]time.Duration{
		"ACCESS_TOKEN_TTL":  c.AccessTokenTTL,
		"REFRESH_TOKEN_TTL": c.RefreshTokenTTL,
		"VERIFY_TOKEN_TTL":  c.VerifyTokenTTL,
		"RESET_TOKEN_TTL":   c.ResetTokenTTL,
		"ADMIN_SESSION_TTL": c.AdminSessionTTL,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.APIKeyPrefix == "" {
		return errors.New("API_KEY_PREFIX must not be empty")
	}
	if c.LoginMaxAttempts <= 0 || c.LoginWindow <= 0 {
		return errors.New("LOGIN_MAX_ATTEMPTS and LOGIN_WINDOW must be positive")
	}
	return nil
}
