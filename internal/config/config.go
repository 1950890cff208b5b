// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// HTTP server port
	Port string

	// Tracked stablecoin symbols
	Symbols []string

	// Base URLs for observation sources
	DefiPoolsURL string
	CeFiEarnURL  string

	// Request timeout for fetching observations
	RequestTimeout time.Duration

	// Scheduler settings
	CalcInterval        time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	StaleAfterIntervals int

	// Sanitization policy
	OutlierMethod    string
	OutlierThreshold float64
	FlagMultiplier   float64
	CapMultiplier    float64
	RejectMultiplier float64

	// Path to optional YAML risk reference table overrides
	RiskTablesPath string

	// Storage backends
	PostgresDSN string
	RedisAddr   string
	RedisDB     int

	// Result signing for the persisted audit trail
	SigningEnabled bool

	// HTTP rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// OpenTelemetry endpoint for observability
	OtelEndpoint string
}

// Load creates a new Config from environment variables.
func Load() Config {
	return Config{
		Port:                GetEnvOrDefault("PORT", "8080"),
		Symbols:             splitList(GetEnvOrDefault("TRACKED_SYMBOLS", "USDT,USDC,DAI,TUSD,FRAX,USDP")),
		DefiPoolsURL:        GetEnvOrDefault("DEFI_POOLS_URL", "https://yields.llama.fi"),
		CeFiEarnURL:         GetEnvOrDefault("CEFI_EARN_URL", "https://api.stableyield.com/earn"),
		RequestTimeout:      GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		CalcInterval:        GetEnvAsDuration("CALC_INTERVAL", time.Hour),
		MaxRetries:          GetEnvAsInt("MAX_RETRIES", 3),
		RetryDelay:          GetEnvAsDuration("RETRY_DELAY", 30*time.Second),
		StaleAfterIntervals: GetEnvAsInt("STALE_AFTER_INTERVALS", 3),
		OutlierMethod:       strings.ToLower(GetEnvOrDefault("OUTLIER_METHOD", "mad")),
		OutlierThreshold:    GetEnvAsFloat("OUTLIER_THRESHOLD", 2.5),
		FlagMultiplier:      GetEnvAsFloat("OUTLIER_FLAG_MULTIPLIER", 1),
		CapMultiplier:       GetEnvAsFloat("OUTLIER_CAP_MULTIPLIER", 2),
		RejectMultiplier:    GetEnvAsFloat("OUTLIER_REJECT_MULTIPLIER", 4),
		RiskTablesPath:      GetEnvOrDefault("RISK_TABLES_PATH", ""),
		PostgresDSN:         GetEnvOrDefault("POSTGRES_DSN", ""),
		RedisAddr:           GetEnvOrDefault("REDIS_ADDR", ""),
		RedisDB:             GetEnvAsInt("REDIS_DB", 0),
		SigningEnabled:      GetEnvAsBool("RESULT_SIGNING_ENABLED", false),
		RateLimitRPS:        GetEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:      GetEnvAsInt("RATE_LIMIT_BURST", 20),
		OtelEndpoint:        GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// GetEnv retrieves an environment variable and whether it exists.
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value.
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value.
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value.
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value.
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}
