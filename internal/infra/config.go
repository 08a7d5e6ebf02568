package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	StoreDriver string
	DatabaseURL string
	AutoMigrate bool
	JWTSecret   string
	JWTIssuer   string
	RedisURL    string
	StoragePath string
	StorageURL  string
	GeoIPDBPath string
	CORSOrigins []string

	JobCost          int64
	StartingCredits  int64
	EngineWorkers    int
	EngineQueueSize  int
	InlineDispatch   bool
	ProviderTimeout  time.Duration
	RecoveryGrace    time.Duration
	RecoverySchedule string
	WorkerPollDelay  time.Duration

	SyntheticProvider      bool
	ProviderCallbackSecret string
	OpenAIAPIKey           string
	OpenAIModel            string
	OpenAIBaseURL          string
	OpenAIOrg              string
	QwenAPIKey             string
	QwenModel              string
	QwenBaseURL            string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	SubmitRatePerMin int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Port:        port,
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AutoMigrate: getEnvBool("DB_AUTO_MIGRATE", false),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   os.Getenv("JWT_ISSUER"),
		RedisURL:    os.Getenv("REDIS_URL"),
		StoragePath: getEnv("STORAGE_PATH", "./data/results"),
		StorageURL:  getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),
		CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),

		JobCost:          int64(getEnvInt("JOB_COST", 1)),
		StartingCredits:  int64(getEnvInt("STARTING_CREDITS", 10)),
		EngineWorkers:    getEnvInt("ENGINE_WORKERS", 4),
		EngineQueueSize:  getEnvInt("ENGINE_QUEUE_SIZE", 64),
		InlineDispatch:   getEnvBool("ENGINE_INLINE_DISPATCH", true),
		ProviderTimeout:  getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		RecoveryGrace:    getEnvDuration("RECOVERY_GRACE", 30*time.Second),
		RecoverySchedule: getEnv("RECOVERY_SCHEDULE", "@every 1m"),
		WorkerPollDelay:  getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),

		SyntheticProvider:      getEnvBool("SYNTHETIC_PROVIDER", false),
		ProviderCallbackSecret: os.Getenv("PROVIDER_CALLBACK_SECRET"),
		OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:            getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:          getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:              os.Getenv("OPENAI_ORG"),
		QwenAPIKey:             os.Getenv("DASHSCOPE_API_KEY"),
		QwenModel:              getEnv("QWEN_IMAGE_MODEL", "qwen-image-edit"),
		QwenBaseURL:            getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		SubmitRatePerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.JobCost <= 0 {
		return nil, fmt.Errorf("JOB_COST must be positive")
	}
	if cfg.StartingCredits < 0 {
		return nil, fmt.Errorf("STARTING_CREDITS must not be negative")
	}
	if cfg.EngineWorkers <= 0 {
		return nil, fmt.Errorf("ENGINE_WORKERS must be positive")
	}
	if cfg.EngineQueueSize < 0 {
		return nil, fmt.Errorf("ENGINE_QUEUE_SIZE must not be negative")
	}
	if cfg.ProviderTimeout <= 0 {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}

	return cfg, nil
}

// RecoveryCutoff is how long a job may sit untouched before the recovery
// sweep treats it as abandoned.
func (c *Config) RecoveryCutoff() time.Duration {
	return c.ProviderTimeout + c.RecoveryGrace
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

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
