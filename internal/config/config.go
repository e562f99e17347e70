package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/groundwire/ptt-signal/internal/logging"
	"go.uber.org/zap"
)

// Config holds validated environment configuration for the signaling service.
type Config struct {
	// Required unless AllowDevAuth is set
	JWTIssuerDomain string
	JWTAudience     string

	ListenAddress string

	// Optional, with defaults
	GoEnv        string
	LogLevel     string
	AllowDevAuth bool

	MaxConnectionsPerRoom int
	FloorMaxDurationMs    int
	AuthTimeoutMs         int
	IdleTimeoutMs         int

	RedisAddr     string
	RedisPassword string

	FirebaseCredentialsFile string

	AllowedOrigins string

	// Rate limits (M = Minute, H = Hour)
	RateLimitWsIp   string
	RateLimitWsUser string
}

// ValidateEnv validates the environment variables the service needs and
// returns a populated Config. Returns an error describing every problem
// found rather than failing on the first one.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.AllowDevAuth = os.Getenv("ALLOW_DEV_AUTH") == "true"

	cfg.JWTIssuerDomain = os.Getenv("JWT_ISSUER_DOMAIN")
	cfg.JWTAudience = os.Getenv("JWT_AUDIENCE")
	if !cfg.AllowDevAuth {
		if cfg.JWTIssuerDomain == "" {
			errs = append(errs, "JWT_ISSUER_DOMAIN is required unless ALLOW_DEV_AUTH=true")
		}
		if cfg.JWTAudience == "" {
			errs = append(errs, "JWT_AUDIENCE is required unless ALLOW_DEV_AUTH=true")
		}
	}

	cfg.ListenAddress = getEnvOrDefault("LISTEN_ADDRESS", ":8080")

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.MaxConnectionsPerRoom = getEnvIntOrDefault("MAX_CONNECTIONS_PER_ROOM", 50, &errs)
	cfg.FloorMaxDurationMs = getEnvIntOrDefault("FLOOR_MAX_DURATION_MS", 120000, &errs)
	cfg.AuthTimeoutMs = getEnvIntOrDefault("AUTH_TIMEOUT_MS", 10000, &errs)
	cfg.IdleTimeoutMs = getEnvIntOrDefault("IDLE_TIMEOUT_MS", 45000, &errs)

	cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
	if cfg.RedisAddr != "" && !isValidHostPort(cfg.RedisAddr) {
		errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	cfg.FirebaseCredentialsFile = os.Getenv("FIREBASE_CREDENTIALS_FILE")

	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitWsIp = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

func logValidatedConfig(cfg *Config) {
	logging.Info(context.Background(), "environment configuration validated")
	logging.Info(context.Background(), "configuration",
		zap.String("listen_address", cfg.ListenAddress),
		zap.Bool("allow_dev_auth", cfg.AllowDevAuth),
		zap.String("jwt_issuer_domain", cfg.JWTIssuerDomain),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("redis_password", redactSecret(cfg.RedisPassword)),
		zap.Int("max_connections_per_room", cfg.MaxConnectionsPerRoom),
		zap.Int("floor_max_duration_ms", cfg.FloorMaxDurationMs),
		zap.Int("auth_timeout_ms", cfg.AuthTimeoutMs),
		zap.Int("idle_timeout_ms", cfg.IdleTimeoutMs),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errs *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return defaultValue
	}
	return v
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
