package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ehr/chartlock/internal/platform/editwindow"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port             string   `mapstructure:"PORT"`
	Env              string   `mapstructure:"ENV"`
	LogLevel         string   `mapstructure:"LOG_LEVEL"`
	StoreDriver      string   `mapstructure:"STORE_DRIVER"`
	SQLitePath       string   `mapstructure:"SQLITE_PATH"`
	DatabaseURL      string   `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer       string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience     string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL      string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey   string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	EditWindowHours  float64  `mapstructure:"EDIT_WINDOW_HOURS"`
	EditWarningHours float64  `mapstructure:"EDIT_WARNING_HOURS"`
	MetricsEnabled   bool     `mapstructure:"METRICS_ENABLED"`
	WriteRateLimit   float64  `mapstructure:"WRITE_RATE_LIMIT"`
	WriteRateBurst   int      `mapstructure:"WRITE_RATE_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "EDIT_WINDOW_HOURS", "EDIT_WARNING_HOURS", "METRICS_ENABLED",
	"WRITE_RATE_LIMIT", "WRITE_RATE_BURST",
}

// Load reads configuration from a .env file in the working directory, if
// present, overridden by environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "hospital.db")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("EDIT_WINDOW_HOURS", editwindow.DefaultWindowHours)
	v.SetDefault("EDIT_WARNING_HOURS", editwindow.DefaultWarningHours)
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("WRITE_RATE_LIMIT", 5)
	v.SetDefault("WRITE_RATE_BURST", 20)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// EditPolicy is the edit-window policy injected into the guard.
func (c *Config) EditPolicy() editwindow.Policy {
	return editwindow.NewPolicy(c.EditWindowHours, c.EditWarningHours)
}

// Validate checks that the configuration is safe to run. Outside development
// a real token verifier must be configured, since the token's name claim is
// written as the author of every record.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.StoreDriver)
	}

	if c.EditWindowHours <= 0 {
		return fmt.Errorf("EDIT_WINDOW_HOURS must be positive, got %v", c.EditWindowHours)
	}
	if c.EditWarningHours < 0 || c.EditWarningHours > c.EditWindowHours {
		return fmt.Errorf("EDIT_WARNING_HOURS must be between 0 and EDIT_WINDOW_HOURS, got %v", c.EditWarningHours)
	}

	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters in production")
	}

	return nil
}
