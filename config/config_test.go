package config

import (
	"strings"
	"testing"
	"time"

	"wabotctl/internal/errors"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.PollInterval != 5*time.Second || cfg.RetryDelay != 5*time.Second {
		t.Errorf("unexpected pairing timings: poll=%v retry=%v", cfg.PollInterval, cfg.RetryDelay)
	}
	if cfg.MaxStreamAttempts != 3 {
		t.Errorf("MaxStreamAttempts = %d, want 3", cfg.MaxStreamAttempts)
	}
	if !strings.HasSuffix(cfg.SessionDB, DefaultSessionFile) {
		t.Errorf("SessionDB = %q", cfg.SessionDB)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"empty server", func(c *Config) { c.ServerURL = "" }, "server"},
		{"relative server", func(c *Config) { c.ServerURL = "/api" }, "server"},
		{"bad scheme", func(c *Config) { c.ServerURL = "ftp://host/api" }, "server"},
		{"no db", func(c *Config) { c.SessionDB = "" }, "db"},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, "timeout"},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, "poll-interval"},
		{"zero retry", func(c *Config) { c.RetryDelay = 0 }, "retry-delay"},
		{"no attempts", func(c *Config) { c.MaxStreamAttempts = 0 }, "stream-attempts"},
		{"negative wait", func(c *Config) { c.PairTimeout = -time.Second }, "wait"},
		{"valid https", func(c *Config) { c.ServerURL = "https://x.ngrok-free.app/api" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *errors.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", ce.Field, tt.wantField)
			}
		})
	}
}

func TestBaseURL_TrimsSlash(t *testing.T) {
	cfg := &Config{ServerURL: "https://host/api///"}
	if got := cfg.BaseURL(); got != "https://host/api" {
		t.Errorf("BaseURL = %q", got)
	}
}
