package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	Store           string        `mapstructure:"STORE"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir   string        `mapstructure:"MIGRATIONS_DIR"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultFacility string        `mapstructure:"DEFAULT_FACILITY"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	ListFailOpen    bool          `mapstructure:"LIST_FAIL_OPEN"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MIGRATIONS_DIR", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DEFAULT_FACILITY", "CORS_ORIGINS", "LIST_FAIL_OPEN", "SHUTDOWN_TIMEOUT",
	"REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. It does not validate; call Validate.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LIST_FAIL_OPEN", true)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DefaultFacilityID parses DEFAULT_FACILITY; uuid.Nil when unset.
func (c *Config) DefaultFacilityID() uuid.UUID {
	id, err := uuid.Parse(c.DefaultFacility)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Validate checks that the configuration is safe to run. Outside development
// a token verification source is required.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is %q", StorePostgres)
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q; "+
				"refusing to start without authentication configuration", c.Env)
	}
	if c.DefaultFacility != "" {
		if _, err := uuid.Parse(c.DefaultFacility); err != nil {
			return fmt.Errorf("DEFAULT_FACILITY is not a valid uuid: %w", err)
		}
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when RATE_LIMIT_RPS is set")
	}
	return nil
}
