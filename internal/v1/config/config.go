package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	JWTSecret         string
	Port              string
	ExternalStoreAddr string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Authentication
	JWKSDomain      string
	JWKSAudience    string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Rate limits (ulule/limiter formatted-rate strings, e.g. "100-M")
	RateLimitAPIGlobal string
	RateLimitAPIRooms  string

	// History request rate limit, enforced per connection by ratelimit.Limiter.
	HistoryRateLimitMax    int
	HistoryRateLimitWindow time.Duration
}

// ValidateEnv validates all required environment variables and returns a
// Config object. It returns an error if any required variable is missing
// or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	cfg.ExternalStoreAddr = os.Getenv("EXTERNAL_STORE_ADDR")
	if cfg.ExternalStoreAddr == "" {
		errs = append(errs, "EXTERNAL_STORE_ADDR is required")
	} else if !isValidHostPort(cfg.ExternalStoreAddr) {
		errs = append(errs, fmt.Sprintf("EXTERNAL_STORE_ADDR must be in format 'host:port' (got '%s')", cfg.ExternalStoreAddr))
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.JWKSDomain = os.Getenv("AUTH_JWKS_DOMAIN")
	cfg.JWKSAudience = os.Getenv("AUTH_JWKS_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")

	historyMax, err := strconv.Atoi(getEnvOrDefault("HISTORY_RATE_LIMIT_MAX", "20"))
	if err != nil || historyMax < 1 {
		errs = append(errs, fmt.Sprintf("HISTORY_RATE_LIMIT_MAX must be a positive integer (got '%s')", os.Getenv("HISTORY_RATE_LIMIT_MAX")))
	}
	cfg.HistoryRateLimitMax = historyMax

	historyWindowSeconds, err := strconv.Atoi(getEnvOrDefault("HISTORY_RATE_LIMIT_WINDOW_SECONDS", "60"))
	if err != nil || historyWindowSeconds < 1 {
		errs = append(errs, fmt.Sprintf("HISTORY_RATE_LIMIT_WINDOW_SECONDS must be a positive integer (got '%s')", os.Getenv("HISTORY_RATE_LIMIT_WINDOW_SECONDS")))
	}
	cfg.HistoryRateLimitWindow = time.Duration(historyWindowSeconds) * time.Second

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"external_store_addr", cfg.ExternalStoreAddr,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret shows only the first 8 characters of a secret.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
