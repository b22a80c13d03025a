package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	// GitHubToken is the long-lived token exchanged for short-lived
	// upstream credentials. GitHubTokenSecretName names an AWS secret
	// that holds it instead.
	GitHubToken           string
	GitHubTokenSecretName string
	TokenURL              string

	RedisURL    string
	DatabaseURL string

	RateLimitRPM   int
	ManualApproval bool
	AdminKeyHash   string

	EncryptionKey string
	TokenFile     string

	CatalogTTL   time.Duration
	OTLPEndpoint string
	AWSRegion    string

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                  getEnv("ADDR", ":8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		GitHubToken:           getEnv("GITHUB_TOKEN", ""),
		GitHubTokenSecretName: getEnv("GITHUB_TOKEN_SECRET_NAME", ""),
		TokenURL:              getEnv("TOKEN_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RateLimitRPM:          getIntEnv("RATE_LIMIT_RPM", 60),
		ManualApproval:        getEnv("MANUAL_APPROVAL", "false") == "true",
		AdminKeyHash:          getEnv("ADMIN_KEY_HASH", ""),
		EncryptionKey:         getEnv("ENCRYPTION_KEY", ""),
		TokenFile:             getEnv("TOKEN_FILE", ""),
		CatalogTTL:            getDurationEnv("CATALOG_TTL", 10*time.Minute),
		OTLPEndpoint:          getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:             getEnv("AWS_REGION", ""),
		ShutdownTimeout:       getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
