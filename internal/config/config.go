// Package config validates and loads process configuration from the
// environment, in the same eager-validation style the rest of this codebase
// expects at startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	JWTSigningKey string
	Port          string
	DatabaseDSN   string

	// Cache / pub-sub (Redis) — optional; single-process mode runs without it
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Durable job queue (NATS)
	NATSURL string

	// Container runtime
	DockerHost  string
	ScratchRoot string

	// Sandbox execution limits
	ExecDefaultTimeoutSeconds int
	ExecMaxTimeoutSeconds     int
	ExecDefaultMemoryMB       int
	ExecMaxMemoryMB           int
	SecurityScanEnabled       bool
	BannedKeywords            []string

	// General
	GoEnv          string
	LogLevel       string
	AllowedOrigins string

	// Federated auth (optional, extension point)
	OIDCDomain   string
	OIDCAudience string

	// Rate limit bucket overrides (format: "<max>-[<count>]<unit>", e.g. "1000-15M")
	RateLimitAPIGlobal  string
	RateLimitAPILogin   string
	RateLimitAPIRegister string
	RateLimitAPIExec    string
	RateLimitWSConnect  string
	RateLimitRoomCreate string
	RateLimitChat       string
}

var defaultBannedKeywords = []string{
	"os.system", "subprocess", "Runtime.getRuntime", "ProcessBuilder",
	"exec.Command", "/etc/passwd", "/etc/shadow", "fork(", "ptrace",
}

// ValidateEnv validates all required environment variables and returns a
// Config. Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	cfg.JWTSigningKey = os.Getenv("JWT_SIGNING_KEY")
	if cfg.JWTSigningKey == "" {
		errors = append(errors, "JWT_SIGNING_KEY is required")
	} else if len(cfg.JWTSigningKey) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SIGNING_KEY must be at least 32 characters (got %d)", len(cfg.JWTSigningKey)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	if cfg.DatabaseDSN == "" {
		errors = append(errors, "DATABASE_DSN is required")
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.DockerHost = getEnvOrDefault("DOCKER_HOST", "unix:///var/run/docker.sock")
	cfg.ScratchRoot = getEnvOrDefault("SANDBOX_SCRATCH_ROOT", "/var/lib/codecollab/scratch")

	cfg.ExecDefaultTimeoutSeconds = getEnvIntOrDefault("EXEC_DEFAULT_TIMEOUT_SECONDS", 30, &errors)
	cfg.ExecMaxTimeoutSeconds = getEnvIntOrDefault("EXEC_MAX_TIMEOUT_SECONDS", 60, &errors)
	cfg.ExecDefaultMemoryMB = getEnvIntOrDefault("EXEC_DEFAULT_MEMORY_MB", 256, &errors)
	cfg.ExecMaxMemoryMB = getEnvIntOrDefault("EXEC_MAX_MEMORY_MB", 512, &errors)

	cfg.SecurityScanEnabled = getEnvOrDefault("SECURITY_SCAN_ENABLED", "true") == "true"
	if raw := os.Getenv("BANNED_KEYWORDS"); raw != "" {
		cfg.BannedKeywords = strings.Split(raw, ",")
	} else {
		cfg.BannedKeywords = defaultBannedKeywords
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.OIDCDomain = os.Getenv("OIDC_DOMAIN")
	cfg.OIDCAudience = os.Getenv("OIDC_AUDIENCE")

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-15M")
	cfg.RateLimitAPILogin = getEnvOrDefault("RATE_LIMIT_API_LOGIN", "100-15M")
	cfg.RateLimitAPIRegister = getEnvOrDefault("RATE_LIMIT_API_REGISTER", "10-60M")
	cfg.RateLimitAPIExec = getEnvOrDefault("RATE_LIMIT_API_EXEC", "30-1M")
	cfg.RateLimitWSConnect = getEnvOrDefault("RATE_LIMIT_WS_CONNECT", "10-1M")
	cfg.RateLimitRoomCreate = getEnvOrDefault("RATE_LIMIT_ROOM_CREATE", "20-15M")
	cfg.RateLimitChat = getEnvOrDefault("RATE_LIMIT_CHAT", "100-1M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

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
	slog.Info("environment configuration validated")
	slog.Info("configuration",
		"jwt_signing_key", redactSecret(cfg.JWTSigningKey),
		"port", cfg.Port,
		"nats_url", cfg.NATSURL,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"docker_host", cfg.DockerHost,
		"scratch_root", cfg.ScratchRoot,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"security_scan_enabled", cfg.SecurityScanEnabled,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int, errors *[]string) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive integer (got '%s')", key, raw))
		return defaultValue
	}
	return v
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
