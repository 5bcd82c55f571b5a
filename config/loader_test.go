package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv_Server(t *testing.T) {
	t.Setenv("WABOT_SERVER", "https://bots.example.com/api")
	t.Setenv("WABOT_DB", "/tmp/s.db")
	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.ServerURL != "https://bots.example.com/api" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.SessionDB != "/tmp/s.db" {
		t.Errorf("SessionDB = %q", cfg.SessionDB)
	}
}

func TestLoadFromEnv_Durations(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"go syntax", "250ms", 250 * time.Millisecond},
		{"bare seconds", "10", 10 * time.Second},
		{"garbage ignored", "soon", DefaultPollInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WABOT_POLL_INTERVAL", tt.value)
			cfg := Default()
			LoadFromEnv(cfg)
			if cfg.PollInterval != tt.want {
				t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, tt.want)
			}
		})
	}
}

func TestLoadFromEnv_Pairing(t *testing.T) {
	t.Setenv("WABOT_RETRY_DELAY", "2s")
	t.Setenv("WABOT_STREAM_ATTEMPTS", "5")
	t.Setenv("WABOT_PAIR_TIMEOUT", "1m")
	t.Setenv("WABOT_UI_ADDR", "127.0.0.1:9999")

	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
	if cfg.MaxStreamAttempts != 5 {
		t.Errorf("MaxStreamAttempts = %d", cfg.MaxStreamAttempts)
	}
	if cfg.PairTimeout != time.Minute {
		t.Errorf("PairTimeout = %v", cfg.PairTimeout)
	}
	if cfg.UIAddr != "127.0.0.1:9999" {
		t.Errorf("UIAddr = %q", cfg.UIAddr)
	}
}

func TestLoadFromEnv_NoOverrideWhenEmpty(t *testing.T) {
	os.Clearenv()

	cfg := &Config{ServerURL: "http://original/api", MaxStreamAttempts: 7}
	LoadFromEnv(cfg)

	if cfg.ServerURL != "http://original/api" {
		t.Errorf("ServerURL was overridden: %q", cfg.ServerURL)
	}
	if cfg.MaxStreamAttempts != 7 {
		t.Errorf("MaxStreamAttempts was overridden: %d", cfg.MaxStreamAttempts)
	}
}

func TestLoadFromEnv_InvalidIntIgnored(t *testing.T) {
	t.Setenv("WABOT_STREAM_ATTEMPTS", "many")
	cfg := &Config{}
	LoadFromEnv(cfg)
	if cfg.MaxStreamAttempts != 0 {
		t.Errorf("MaxStreamAttempts should be 0 for invalid input, got %d", cfg.MaxStreamAttempts)
	}
}

func TestLoadFromEnv_Verbosity(t *testing.T) {
	t.Setenv("WABOT_VERBOSE", "3")
	cfg := &Config{}
	LoadFromEnv(cfg)
	if cfg.Verbose != 3 {
		t.Errorf("Verbose = %d, want 3", cfg.Verbose)
	}

	t.Setenv("WABOT_QUIET", "yes")
	LoadFromEnv(cfg)
	if cfg.Verbose != 0 {
		t.Errorf("quiet should win, Verbose = %d", cfg.Verbose)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "WABOT_SERVER=https://from-file/api\nWABOT_STREAM_ATTEMPTS=4\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// Registered with t.Setenv so the values are restored afterwards;
	// the real environment must win over the file.
	t.Setenv("WABOT_SERVER", "https://from-env/api")
	t.Setenv("WABOT_STREAM_ATTEMPTS", "")
	os.Unsetenv("WABOT_STREAM_ATTEMPTS")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}

	cfg := Default()
	LoadFromEnv(cfg)
	if cfg.ServerURL != "https://from-env/api" {
		t.Errorf("environment should win over .env, got %q", cfg.ServerURL)
	}
	if cfg.MaxStreamAttempts != 4 {
		t.Errorf("MaxStreamAttempts = %d, want 4 from .env", cfg.MaxStreamAttempts)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing file should be ignored, got %v", err)
	}
	if err := LoadEnvFile(""); err != nil {
		t.Errorf("empty path should be ignored, got %v", err)
	}
}
