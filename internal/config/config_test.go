package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "./data/test.db")
	t.Setenv("CAPABILITY_PROVIDER", "none")
	t.Setenv("CAPABILITY_TIMEOUT", "5s")
	t.Setenv("POLL_INTERVAL", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Capability.Timeout != 5*time.Second {
		t.Fatalf("expected 5s capability timeout, got %v", cfg.Capability.Timeout)
	}
	if !cfg.Contract.AutoCorrection {
		t.Fatal("auto-correction should default to enabled")
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Port:            "8080",
			DBDriver:        "sqlite",
			DBDSN:           "x.db",
			Capability:      CapabilityConfig{Provider: ProviderNone, Timeout: time.Second},
			ConversationLog: ConversationLogConfig{Enabled: true, Dir: "logs", QueueSize: 10},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"empty port", func(c *Config) { c.Port = "" }, false},
		{"bad provider", func(c *Config) { c.Capability.Provider = "carrier-pigeon" }, false},
		{"grpc without address", func(c *Config) { c.Capability.Provider = ProviderGRPC }, false},
		{"zero timeout", func(c *Config) { c.Capability.Timeout = 0 }, false},
		{"negative threshold", func(c *Config) { c.Contract.MajorThreshold = -0.1 }, false},
		{"negative poll", func(c *Config) { c.PollInterval = -time.Second }, false},
		{"disabled log without dir", func(c *Config) { c.ConversationLog = ConversationLogConfig{QueueSize: 1} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_BOOL", "off")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_DURATION", "nonsense")

	if getEnvBool("TEST_BOOL", true) {
		t.Fatal("expected off to parse as false")
	}
	if got := getEnvFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback for invalid duration, got %v", got)
	}
}
