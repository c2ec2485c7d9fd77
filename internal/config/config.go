// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Capability providers.
const (
	ProviderNone = "none"
	ProviderGRPC = "grpc"
	ProviderHTTP = "http"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBDriver        string // "sqlite" or "postgres"
	DBDSN           string // file path for sqlite, connection string for postgres
	RulesPath       string // contract mapping rules; empty uses the built-in set
	RedisAddr       string // enables the distributed locker when set
	LockTTL         time.Duration
	PollInterval    time.Duration // 0 disables the pending output poller
	Capability      CapabilityConfig
	Contract        ContractConfig
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// CapabilityConfig selects and tunes the completion capability.
type CapabilityConfig struct {
	Provider string
	GRPCAddr string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// ContractConfig overrides the compliance rule defaults of new contracts.
// Zero thresholds keep the defaults.
type ContractConfig struct {
	AutoCorrection    bool
	MinorThreshold    float64
	MajorThreshold    float64
	CriticalThreshold float64
}

// RateLimitConfig is the per-founder token bucket for the API.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// ConversationLogConfig controls NDJSON transcript logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBDriver:     strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBDSN:        getEnv("DB_DSN", getEnv("DB_PATH", "./data/cofounder.db")),
		RulesPath:    getEnv("CONTRACT_RULES_PATH", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		LockTTL:      getEnvDuration("LOCK_TTL", 30*time.Second),
		PollInterval: getEnvDuration("POLL_INTERVAL", 0),
		Capability: CapabilityConfig{
			Provider: strings.ToLower(getEnv("CAPABILITY_PROVIDER", ProviderNone)),
			GRPCAddr: getEnv("CAPABILITY_GRPC_ADDR", "localhost:50051"),
			BaseURL:  getEnv("CAPABILITY_BASE_URL", ""),
			APIKey:   getEnv("CAPABILITY_API_KEY", ""),
			Model:    getEnv("CAPABILITY_MODEL", "gpt-4o-mini"),
			Timeout:  getEnvDuration("CAPABILITY_TIMEOUT", 20*time.Second),
		},
		Contract: ContractConfig{
			AutoCorrection:    getEnvBool("AUTO_CORRECTION_ENABLED", true),
			MinorThreshold:    getEnvFloat("THRESHOLD_MINOR", 0),
			MajorThreshold:    getEnvFloat("THRESHOLD_MAJOR", 0),
			CriticalThreshold: getEnvFloat("THRESHOLD_CRITICAL", 0),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 20),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN cannot be empty")
	}
	switch c.Capability.Provider {
	case ProviderNone, ProviderGRPC, ProviderHTTP:
	default:
		return fmt.Errorf("CAPABILITY_PROVIDER must be none, grpc or http, got %q", c.Capability.Provider)
	}
	if c.Capability.Provider == ProviderGRPC && c.Capability.GRPCAddr == "" {
		return fmt.Errorf("CAPABILITY_GRPC_ADDR cannot be empty for the grpc provider")
	}
	if c.Capability.Timeout <= 0 {
		return fmt.Errorf("CAPABILITY_TIMEOUT must be > 0")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("POLL_INTERVAL cannot be negative")
	}
	if t := c.Contract; t.MinorThreshold < 0 || t.MajorThreshold < 0 || t.CriticalThreshold < 0 {
		return fmt.Errorf("thresholds cannot be negative")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"http://localhost:5173", "http://localhost:3000", "http://127.0.0.1:5173"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
