package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"videogateway/internal/domain"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	Port              string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	AppPassword       string
	StorageMode       domain.StorageMode
	OutputDir         string
	CacheBackend      string
	OSSEndpoint       string
	OSSBucket         string
	OSSPrefix         string
	OSSAccessKey      string
	OSSSecretKey      string
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	UpstreamTimeout   time.Duration
	RateLimitPerMin   int
	CORSOrigins       []string
	StateBackend      string
	StateDir          string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DatabaseURL       string
	GatewayURL        string
	PollInterval      time.Duration
	StudioHTTPTimeout time.Duration
	OTLPEndpoint      string
	AppVersion        string
}

const (
	CacheBackendDisk = "disk"
	CacheBackendOSS  = "oss"

	StateBackendFile     = "file"
	StateBackendRedis    = "redis"
	StateBackendPostgres = "postgres"
)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// The upstream API key is not required here: routes answer 500 when it is missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:     getEnv("OPENAI_API_BASE_URL", "https://api.openai.com/v1"),
		AppPassword:       os.Getenv("APP_PASSWORD"),
		OutputDir:         getEnv("OUTPUT_DIR", "./generated-videos"),
		CacheBackend:      strings.ToLower(getEnv("CACHE_BACKEND", CacheBackendDisk)),
		OSSEndpoint:       os.Getenv("OSS_ENDPOINT"),
		OSSBucket:         os.Getenv("OSS_BUCKET"),
		OSSPrefix:         getEnv("OSS_PREFIX", "generated-videos"),
		OSSAccessKey:      os.Getenv("OSS_ACCESS_KEY_ID"),
		OSSSecretKey:      os.Getenv("OSS_ACCESS_KEY_SECRET"),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		UpstreamTimeout:   time.Second * time.Duration(getEnvInt("UPSTREAM_TIMEOUT_SECONDS", 120)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSOrigins:       splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		StateBackend:      strings.ToLower(getEnv("STATE_BACKEND", StateBackendFile)),
		StateDir:          getEnv("STATE_DIR", "./.studio"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		GatewayURL:        getEnv("GATEWAY_URL", "http://localhost:8080"),
		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 10)),
		StudioHTTPTimeout: time.Second * time.Duration(getEnvInt("STUDIO_HTTP_TIMEOUT_SECONDS", 60)),
		OTLPEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		AppVersion:        getEnv("APP_VERSION", "dev"),
	}

	mode, err := resolveStorageMode(os.Getenv("FILE_STORAGE_MODE"), os.Getenv("VERCEL"))
	if err != nil {
		return nil, err
	}
	cfg.StorageMode = mode

	switch cfg.CacheBackend {
	case CacheBackendDisk:
	case CacheBackendOSS:
		if cfg.OSSEndpoint == "" || cfg.OSSBucket == "" {
			return nil, fmt.Errorf("OSS_ENDPOINT and OSS_BUCKET are required when CACHE_BACKEND=oss")
		}
	default:
		return nil, fmt.Errorf("unsupported CACHE_BACKEND %q", cfg.CacheBackend)
	}

	switch cfg.StateBackend {
	case StateBackendFile, StateBackendRedis:
	case StateBackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STATE_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported STATE_BACKEND %q", cfg.StateBackend)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}

	return cfg, nil
}

// PasswordRequired reports whether the gateway enforces the shared secret.
func (c *Config) PasswordRequired() bool {
	return c != nil && c.AppPassword != ""
}

// resolveStorageMode picks the storage mode once per deployment: an explicit
// mode wins, hosted deployments without local disk default to blob.
func resolveStorageMode(explicit, vercel string) (domain.StorageMode, error) {
	if strings.TrimSpace(explicit) != "" {
		return domain.ParseStorageMode(explicit)
	}
	if strings.TrimSpace(vercel) == "1" {
		return domain.StorageModeBlob, nil
	}
	return domain.StorageModeFS, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
