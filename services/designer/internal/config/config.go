package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigPath is used when DESIGNER_CONFIG is unset.
	ConfigPath = "config.yaml"

	defaultPort           = "8080"
	defaultAppID          = "fusion360-eda-agent"
	defaultGeminiModel    = "gemini-1.5-flash"
	defaultGeminiTimeout  = 60
	defaultAMQPExchange   = "edaagent.events"
	defaultPresignMinutes = 15
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                 string   `yaml:"port"`
	LogLevel             string   `yaml:"logLevel"`
	AppID                string   `yaml:"appId"`
	GeminiAPIKey         string   `yaml:"geminiAPIKey"`
	GeminiModel          string   `yaml:"geminiModel"`
	GeminiBaseURL        string   `yaml:"geminiBaseURL"`
	GeminiTimeoutSeconds int      `yaml:"geminiTimeoutSeconds"`
	DatabaseURL          string   `yaml:"databaseURL"`
	RedisAddr            string   `yaml:"redisAddr"`
	RedisPassword        string   `yaml:"redisPassword"`
	RateLimitPerMinute   int      `yaml:"rateLimitPerMinute"`
	TrustedProxyCIDRs    []string `yaml:"trustedProxyCidrs"`
	JWTSecret            string   `yaml:"jwtSecret"`
	JWTIssuer            string   `yaml:"jwtIssuer"`
	JWTAudience          string   `yaml:"jwtAudience"`
	JWTLeeway            string   `yaml:"jwtLeeway"`
	MinioEndpoint        string   `yaml:"minioEndpoint"`
	MinioAccessKey       string   `yaml:"minioAccessKey"`
	MinioSecretKey       string   `yaml:"minioSecretKey"`
	MinioBucket          string   `yaml:"minioBucket"`
	MinioUseSSL          bool     `yaml:"minioUseSSL"`
	ScriptURLMinutes     int      `yaml:"scriptUrlMinutes"`
	ArchiveWorkers       int      `yaml:"archiveWorkers"`
	AMQPURL              string   `yaml:"amqpURL"`
	AMQPExchange         string   `yaml:"amqpExchange"`
}

// Path returns the config file location, honoring DESIGNER_CONFIG.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("DESIGNER_CONFIG")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path, then applies environment overrides and
// defaults. A missing file is not an error: every setting can come from the
// environment.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	overrideString(&cfg.Port, "PORT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.AppID, "APP_ID")
	overrideString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	overrideString(&cfg.GeminiModel, "GEMINI_MODEL")
	overrideString(&cfg.GeminiBaseURL, "GEMINI_BASE_URL")
	overrideInt(&cfg.GeminiTimeoutSeconds, "GEMINI_TIMEOUT_SECONDS")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.RedisAddr, "REDIS_ADDR")
	overrideString(&cfg.RedisPassword, "REDIS_PASSWORD")
	overrideInt(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	overrideString(&cfg.JWTSecret, "JWT_SECRET")
	overrideString(&cfg.JWTIssuer, "JWT_ISSUER")
	overrideString(&cfg.JWTAudience, "JWT_AUDIENCE")
	overrideString(&cfg.JWTLeeway, "JWT_LEEWAY")
	overrideString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	overrideString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	overrideString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	overrideString(&cfg.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	overrideInt(&cfg.ScriptURLMinutes, "SCRIPT_URL_MINUTES")
	overrideInt(&cfg.ArchiveWorkers, "ARCHIVE_WORKERS")
	overrideString(&cfg.AMQPURL, "AMQP_URL")
	overrideString(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func overrideString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = defaultPort
	}
	if strings.TrimSpace(cfg.AppID) == "" {
		cfg.AppID = defaultAppID
	}
	if strings.TrimSpace(cfg.GeminiModel) == "" {
		cfg.GeminiModel = defaultGeminiModel
	}
	if cfg.GeminiTimeoutSeconds == 0 {
		cfg.GeminiTimeoutSeconds = defaultGeminiTimeout
	}
	if strings.TrimSpace(cfg.AMQPExchange) == "" {
		cfg.AMQPExchange = defaultAMQPExchange
	}
	if cfg.ScriptURLMinutes == 0 {
		cfg.ScriptURLMinutes = defaultPresignMinutes
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.GeminiTimeoutSeconds < 0 {
		return errors.New("config: geminiTimeoutSeconds must be >= 0")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.RateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.ScriptURLMinutes < 0 {
		return errors.New("config: scriptUrlMinutes must be >= 0")
	}
	if cfg.ArchiveWorkers < 0 {
		return errors.New("config: archiveWorkers must be >= 0")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" && strings.TrimSpace(cfg.MinioBucket) == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	if _, err := ParseJWTLeeway(cfg.JWTLeeway); err != nil {
		return err
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	if leewayStr == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(leewayStr)
	if err != nil {
		return 0, fmt.Errorf("invalid jwtLeeway duration: %w", err)
	}
	return dur, nil
}

// GeminiTimeout returns the generative-service request timeout.
func (c FileConfig) GeminiTimeout() time.Duration {
	return time.Duration(c.GeminiTimeoutSeconds) * time.Second
}

// ScriptURLExpiry returns how long presigned script links stay valid.
func (c FileConfig) ScriptURLExpiry() time.Duration {
	return time.Duration(c.ScriptURLMinutes) * time.Minute
}
