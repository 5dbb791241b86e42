package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Transport modes for the MCP server.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

type Config struct {
	Transport string
	MCPPort   int

	// Upstream source
	Cookie         string // operator-supplied cookie string, optional
	RequestTimeout time.Duration
	SessionTTL     time.Duration

	// Rate limiting per endpoint class
	RequestsPerSecond float64
	Burst             int
	AcquireTimeout    time.Duration

	// Retry / backoff
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Result cache
	CacheTTL  time.Duration
	CacheSize int

	Debug bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Transport:         getEnvOrDefault("TRANSPORT", TransportStdio),
		MCPPort:           getEnvIntOrDefault("MCP_PORT", 7081),
		Cookie:            os.Getenv("WEIBO_COOKIE"),
		RequestTimeout:    getEnvDurationOrDefault("REQUEST_TIMEOUT", 15*time.Second),
		SessionTTL:        getEnvDurationOrDefault("SESSION_TTL", 30*time.Minute),
		RequestsPerSecond: getEnvFloatOrDefault("REQUESTS_PER_SECOND", 2.0),
		Burst:             getEnvIntOrDefault("BURST", 4),
		AcquireTimeout:    getEnvDurationOrDefault("ACQUIRE_TIMEOUT", 10*time.Second),
		MaxAttempts:       getEnvIntOrDefault("MAX_ATTEMPTS", 3),
		BackoffInitial:    getEnvDurationOrDefault("BACKOFF_INITIAL", 500*time.Millisecond),
		BackoffMax:        getEnvDurationOrDefault("BACKOFF_MAX", 30*time.Second),
		CacheTTL:          getEnvDurationOrDefault("CACHE_TTL", 60*time.Second),
		CacheSize:         getEnvIntOrDefault("CACHE_SIZE", 256),
		Debug:             getEnvBoolOrDefault("DEBUG", false),
	}

	if cfg.Transport != TransportStdio && cfg.Transport != TransportHTTP {
		return nil, fmt.Errorf("invalid TRANSPORT %q: must be %q or %q", cfg.Transport, TransportStdio, TransportHTTP)
	}
	if cfg.MCPPort <= 0 || cfg.MCPPort > 65535 {
		return nil, fmt.Errorf("invalid MCP_PORT %d", cfg.MCPPort)
	}
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("REQUESTS_PER_SECOND must be positive")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("CACHE_SIZE must be at least 1")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
