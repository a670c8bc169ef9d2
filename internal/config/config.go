package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Keys          KeyConfig
	Rotation      RotationConfig
	Guardrails    GuardrailConfig
	Admin         AdminConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig

	Environment string
}

// IsProduction reports whether the production guardrails apply.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// KeyConfig holds signing key configuration. The master encryption key
// is the only secret material in the config; it never reaches logs.
type KeyConfig struct {
	Algorithm           string
	MasterEncryptionKey []byte
	ProtectorPurpose    string
}

// RotationConfig holds the rotation scheduler's local knobs. The
// rotation policy itself lives in the database.
type RotationConfig struct {
	CheckInterval           time.Duration
	RetiredKeyRetentionDays int
	LedgerRetentionDays     int
}

// GuardrailConfig holds overridable guardrail bounds
type GuardrailConfig struct {
	MinRotationIntervalDays int
	MaxRotationIntervalDays int
	MaxAccessTokenMinutes   int
	MaxRefreshTokenDays     int
	MaxReuseLeewaySeconds   int
}

// AdminConfig holds the admin API configuration
type AdminConfig struct {
	APIToken string
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	masterKey, err := parseMasterKey("KEY_MASTER_ENCRYPTION_KEY")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "trustgate"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "trustgate"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: parseInt("DB_MAX_IDLE_CONNS", 5),
		},
		Keys: KeyConfig{
			Algorithm:           getEnv("KEY_ALGORITHM", "ES256"),
			MasterEncryptionKey: masterKey,
			ProtectorPurpose:    getEnv("KEY_PROTECTOR_PURPOSE", "signing-keys"),
		},
		Rotation: RotationConfig{
			CheckInterval:           parseDuration("ROTATION_CHECK_INTERVAL", "1h"),
			RetiredKeyRetentionDays: parseInt("ROTATION_RETIRED_KEY_RETENTION_DAYS", 30),
			LedgerRetentionDays:     parseInt("REUSE_LEDGER_RETENTION_DAYS", 30),
		},
		Guardrails: GuardrailConfig{
			MinRotationIntervalDays: parseInt("GUARDRAIL_MIN_ROTATION_INTERVAL_DAYS", 7),
			MaxRotationIntervalDays: parseInt("GUARDRAIL_MAX_ROTATION_INTERVAL_DAYS", 180),
			MaxAccessTokenMinutes:   parseInt("GUARDRAIL_MAX_ACCESS_TOKEN_MINUTES", 720),
			MaxRefreshTokenDays:     parseInt("GUARDRAIL_MAX_REFRESH_TOKEN_DAYS", 365),
			MaxReuseLeewaySeconds:   parseInt("GUARDRAIL_MAX_REUSE_LEEWAY_SECONDS", 300),
		},
		Admin: AdminConfig{
			APIToken: getEnv("ADMIN_API_TOKEN", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "trustgate"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if len(c.Keys.MasterEncryptionKey) == 0 {
		return fmt.Errorf("KEY_MASTER_ENCRYPTION_KEY is required")
	}
	switch c.Keys.Algorithm {
	case "RS256", "ES256":
	default:
		return fmt.Errorf("KEY_ALGORITHM must be RS256 or ES256, got %q", c.Keys.Algorithm)
	}
	if c.IsProduction() && c.Admin.APIToken == "" {
		return fmt.Errorf("ADMIN_API_TOKEN is required in production")
	}
	return nil
}

// parseMasterKey decodes the base64 master key from the environment.
func parseMasterKey(key string) ([]byte, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", key, err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("%s must decode to at least 32 bytes", key)
	}
	return decoded, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		// Fallback to default
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
