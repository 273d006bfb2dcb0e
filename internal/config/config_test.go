package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.QueueCapacity != 10 || cfg.SubmitTimeout != time.Second {
		t.Fatalf("unexpected broadcast defaults: %+v", cfg)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeFile(t, `
addr: "127.0.0.1:9000"
admin_name: Root
submit_timeout: 250ms
rate_limit:
  per_second: 2
  burst: 4
log:
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.AdminName != "Root" {
		t.Fatalf("unexpected values: %+v", cfg)
	}
	if cfg.SubmitTimeout != 250*time.Millisecond {
		t.Fatalf("submit_timeout = %s", cfg.SubmitTimeout)
	}
	if cfg.RateLimit.PerSecond != 2 || cfg.RateLimit.Burst != 4 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	// Untouched keys keep their defaults.
	if cfg.QueueCapacity != 10 || cfg.Log.Level != "info" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "adress: \":1\"\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != Default().Addr {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHAT_ADDR", ":7000")
	t.Setenv("CHAT_METRICS_ADDR", "")
	t.Setenv("CHAT_ADMIN", "Boss")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Addr != ":7000" || cfg.MetricsAddr != "" || cfg.AdminName != "Boss" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.QueueCapacity = 0
	cfg.AdminName = ""
	cfg.RateLimit.PerSecond = 1
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"queue_capacity", "admin_name", "burst", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
