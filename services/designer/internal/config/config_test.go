package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	for _, key := range []string{"PORT", "APP_ID", "GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_TIMEOUT_SECONDS", "RATE_LIMIT_PER_MINUTE"} {
		t.Setenv(key, "")
	}
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.AppID != "fusion360-eda-agent" {
		t.Fatalf("appId = %q, want fusion360-eda-agent", cfg.AppID)
	}
	if cfg.GeminiModel != "gemini-1.5-flash" {
		t.Fatalf("geminiModel = %q, want gemini-1.5-flash", cfg.GeminiModel)
	}
	if cfg.GeminiTimeout() != 60*time.Second {
		t.Fatalf("gemini timeout = %v, want 60s", cfg.GeminiTimeout())
	}
	if cfg.GeminiAPIKey != "" {
		t.Fatalf("expected empty key, got %q", cfg.GeminiAPIKey)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("GEMINI_MODEL", "gemini-1.5-pro")
	t.Setenv("APP_ID", "my-app")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "12")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("TRUSTED_PROXY_CIDRS", "10.0.0.0/8, 192.168.0.1")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
port: "9090"
logLevel: "debug"
geminiAPIKey: "file-key"
geminiModel: "gemini-1.0"
redisAddr: "localhost:6379"
minioEndpoint: "localhost:9000"
minioBucket: "designs"
jwtLeeway: "45s"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "9090" || cfg.LogLevel != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.GeminiAPIKey != "env-key" {
		t.Fatalf("geminiAPIKey = %q, want env-key", cfg.GeminiAPIKey)
	}
	if cfg.GeminiModel != "gemini-1.5-pro" {
		t.Fatalf("geminiModel = %q, want gemini-1.5-pro", cfg.GeminiModel)
	}
	if cfg.AppID != "my-app" {
		t.Fatalf("appId = %q, want my-app", cfg.AppID)
	}
	if cfg.RateLimitPerMinute != 12 {
		t.Fatalf("rateLimitPerMinute = %d, want 12", cfg.RateLimitPerMinute)
	}
	if !cfg.MinioUseSSL {
		t.Fatalf("minioUseSSL = false, want true")
	}
	if len(cfg.TrustedProxyCIDRs) != 2 || cfg.TrustedProxyCIDRs[1] != "192.168.0.1" {
		t.Fatalf("unexpected trusted proxies: %v", cfg.TrustedProxyCIDRs)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("port: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateConfigRejectsRateLimitWithoutRedis(t *testing.T) {
	cfg := FileConfig{RateLimitPerMinute: 5}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for rate limit without redis")
	}
}

func TestValidateConfigRejectsMinioWithoutBucket(t *testing.T) {
	cfg := FileConfig{MinioEndpoint: "localhost:9000"}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for missing bucket")
	}
}

func TestValidateConfigRejectsBadLeeway(t *testing.T) {
	cfg := FileConfig{JWTLeeway: "soon"}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for invalid leeway")
	}
}

func TestPathHonorsEnv(t *testing.T) {
	t.Setenv("DESIGNER_CONFIG", "/etc/designer.yaml")
	if got := Path(); got != "/etc/designer.yaml" {
		t.Fatalf("Path() = %q", got)
	}
}

func TestValidateConfigRejectsNegativeArchiveWorkers(t *testing.T) {
	cfg := FileConfig{ArchiveWorkers: -1}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("validateConfig() expected error for negative archive workers")
	}
}
