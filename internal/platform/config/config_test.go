package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
server:
  port: 9090
jwt:
  secret: test-secret
publishing:
  max_attempts: 3
  backoff_base: 10s
platforms:
  discord:
    adapter: discord
    channel_id: "123"
  instagram_feed:
    adapter: http
    endpoint: https://gateway.example.com/instagram
    rate_per_minute: 30
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Publishing.MaxAttempts != 3 {
		t.Errorf("Publishing.MaxAttempts = %d, want 3", cfg.Publishing.MaxAttempts)
	}
	if cfg.Publishing.BackoffBase != 10*time.Second {
		t.Errorf("Publishing.BackoffBase = %v, want 10s", cfg.Publishing.BackoffBase)
	}
	// default kept for keys absent from the file
	if cfg.Webhooks.MaxAttempts != 8 {
		t.Errorf("Webhooks.MaxAttempts = %d, want default 8", cfg.Webhooks.MaxAttempts)
	}
	if got := cfg.Platforms["instagram_feed"].RatePerMinute; got != 30 {
		t.Errorf("instagram_feed rate = %d, want 30", got)
	}
	if got := cfg.Platforms["discord"].Adapter; got != "discord" {
		t.Errorf("discord adapter = %q", got)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	if _, err := Load(writeConfig(t, "server:\n  port: 8080\n")); err == nil {
		t.Error("expected error when jwt.secret is missing")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PUBLISHING_MAX_ATTEMPTS", "7")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Publishing.MaxAttempts != 7 {
		t.Errorf("Publishing.MaxAttempts = %d, want 7 from env", cfg.Publishing.MaxAttempts)
	}
}
