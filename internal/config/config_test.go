package config

import (
	"os"
	"testing"
	"time"
)

var allEnvVars = []string{
	"ADDR", "LOG_LEVEL", "GITHUB_TOKEN", "GITHUB_TOKEN_SECRET_NAME",
	"TOKEN_URL", "REDIS_URL", "DATABASE_URL", "RATE_LIMIT_RPM",
	"MANUAL_APPROVAL", "ADMIN_KEY_HASH", "ENCRYPTION_KEY", "TOKEN_FILE",
	"CATALOG_TTL", "OTLP_ENDPOINT", "AWS_REGION", "SHUTDOWN_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range allEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"GitHubToken", cfg.GitHubToken, ""},
		{"GitHubTokenSecretName", cfg.GitHubTokenSecretName, ""},
		{"TokenURL", cfg.TokenURL, ""},
		{"RedisURL", cfg.RedisURL, ""},
		{"DatabaseURL", cfg.DatabaseURL, ""},
		{"AdminKeyHash", cfg.AdminKeyHash, ""},
		{"TokenFile", cfg.TokenFile, ""},
		{"OTLPEndpoint", cfg.OTLPEndpoint, ""},
		{"AWSRegion", cfg.AWSRegion, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.RateLimitRPM != 60 {
		t.Errorf("RateLimitRPM = %d, want 60", cfg.RateLimitRPM)
	}
	if cfg.CatalogTTL != 10*time.Minute {
		t.Errorf("CatalogTTL = %v, want 10m", cfg.CatalogTTL)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.ManualApproval {
		t.Error("ManualApproval should default to false")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)

	os.Setenv("ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("GITHUB_TOKEN", "ghu_test")
	os.Setenv("GITHUB_TOKEN_SECRET_NAME", "relay/github-token")
	os.Setenv("TOKEN_URL", "https://example.com/token")
	os.Setenv("REDIS_URL", "redis://localhost:6379")
	os.Setenv("DATABASE_URL", "postgres://localhost/relay")
	os.Setenv("RATE_LIMIT_RPM", "120")
	os.Setenv("MANUAL_APPROVAL", "true")
	os.Setenv("CATALOG_TTL", "300")
	os.Setenv("SHUTDOWN_TIMEOUT", "10")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.GitHubToken != "ghu_test" {
		t.Errorf("GitHubToken = %q, want ghu_test", cfg.GitHubToken)
	}
	if cfg.GitHubTokenSecretName != "relay/github-token" {
		t.Errorf("GitHubTokenSecretName = %q", cfg.GitHubTokenSecretName)
	}
	if cfg.RateLimitRPM != 120 {
		t.Errorf("RateLimitRPM = %d, want 120", cfg.RateLimitRPM)
	}
	if !cfg.ManualApproval {
		t.Error("ManualApproval should be true")
	}
	if cfg.CatalogTTL != 5*time.Minute {
		t.Errorf("CatalogTTL = %v, want 5m", cfg.CatalogTTL)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestGetIntEnv_Invalid(t *testing.T) {
	os.Setenv("RATE_LIMIT_RPM", "not-a-number")
	defer os.Unsetenv("RATE_LIMIT_RPM")

	if got := getIntEnv("RATE_LIMIT_RPM", 60); got != 60 {
		t.Errorf("getIntEnv() = %d, want default 60", got)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"env set", "TEST_VAR", "custom", "default", "custom"},
		{"env not set", "TEST_VAR_UNSET", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.expected {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.expected)
			}
		})
	}
}
