package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string
	LogEnv      string

	AdminAPIKey string

	StackName     string
	KeyConfigPath string
	Engine        string

	GuardBundlePath string
	GuardDisabled   bool

	AWSRegion    string
	AWSAccountID string
	AWSPartition string

	CloudFormationWaitSeconds int

	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	ExportCacheTTLSecond int

	ApplyRateLimitRequests      int
	ApplyRateLimitWindowSeconds int
	RateLimitFailClosed         bool
}

const (
	EngineMemory         = "memory"
	EngineKMS            = "kms"
	EngineCloudFormation = "cloudformation"
)

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                    addr,
		PostgresDSN:                 os.Getenv("POSTGRES_DSN"),
		LogLevel:                    envDefault("LOG_LEVEL", "info"),
		LogEnv:                      envDefault("APP_ENV", "dev"),
		AdminAPIKey:                 os.Getenv("ADMIN_API_KEY"),
		StackName:                   envDefault("KEYSTACK_STACK", "license"),
		KeyConfigPath:               os.Getenv("KEYSTACK_KEY_CONFIG"),
		Engine:                      envDefault("KEYSTACK_ENGINE", EngineMemory),
		GuardBundlePath:             os.Getenv("KEYSTACK_GUARD_BUNDLE"),
		GuardDisabled:               envBoolDefault("KEYSTACK_GUARD_DISABLED", false),
		AWSRegion:                   os.Getenv("AWS_REGION"),
		AWSAccountID:                os.Getenv("AWS_ACCOUNT_ID"),
		AWSPartition:                envDefault("AWS_PARTITION", "aws"),
		CloudFormationWaitSeconds:   envIntDefault("KEYSTACK_CFN_WAIT_SECONDS", 900),
		RedisAddr:                   os.Getenv("REDIS_ADDR"),
		RedisPassword:               os.Getenv("REDIS_PASSWORD"),
		RedisDB:                     envIntDefault("REDIS_DB", 0),
		ExportCacheTTLSecond:        envIntDefault("KEYSTACK_EXPORT_CACHE_TTL_SECONDS", 300),
		ApplyRateLimitRequests:      envIntDefault("KEYSTACK_APPLY_RATE_LIMIT", 10),
		ApplyRateLimitWindowSeconds: envIntDefault("KEYSTACK_APPLY_RATE_WINDOW_SECONDS", 60),
		RateLimitFailClosed:         envBoolDefault("KEYSTACK_RATE_LIMIT_FAIL_CLOSED", false),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) CloudFormationWait() time.Duration {
	if c.CloudFormationWaitSeconds <= 0 {
		return 0
	}
	return time.Duration(c.CloudFormationWaitSeconds) * time.Second
}

func (c Config) ExportCacheTTL() time.Duration {
	if c.ExportCacheTTLSecond <= 0 {
		return 0
	}
	return time.Duration(c.ExportCacheTTLSecond) * time.Second
}

func (c Config) ApplyRateLimitWindow() time.Duration {
	if c.ApplyRateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.ApplyRateLimitWindowSeconds) * time.Second
}
