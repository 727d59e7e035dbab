package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.QuarantineRole != "Quarantined" {
		t.Fatalf("expected default quarantine role, got %q", cfg.Dispatch.QuarantineRole)
	}
	if cfg.Playbook.LockdownMinutes != 10 || cfg.Verification.MaxAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing token to fail validation")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, `
discord_token: file-token
log_level: debug
ops:
  enabled: true
  addr: ":9000"
dispatch:
  cooldown_seconds: 60
  rate_per_second: 2.5
`))
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DISPATCH_BURST", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "env-token" {
		t.Fatalf("env should override file, got %q", cfg.DiscordToken)
	}
	if !cfg.Ops.Enabled || cfg.Ops.Addr != ":9000" {
		t.Fatalf("ops section not read: %+v", cfg.Ops)
	}
	if cfg.Dispatch.Cooldown() != time.Minute || cfg.Dispatch.RatePerSecond != 2.5 || cfg.Dispatch.Burst != 9 {
		t.Fatalf("dispatch section not merged: %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.QuarantineRole != "Quarantined" {
		t.Fatalf("unset keys should keep defaults, got %q", cfg.Dispatch.QuarantineRole)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Fatalf("redis url not applied: %q", cfg.Redis.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "dispatch: [unclosed"))
	if _, err := Load(""); err == nil {
		t.Fatalf("expected yaml error")
	}

	t.Setenv("CONFIG_PATH", writeConfig(t, "log_level: info\n"))
	t.Setenv("RETENTION_DAYS", "forever")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected env parse error")
	}
}

func TestLoadExplicitPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	path := writeConfig(t, "playbook:\n  lockdown_minutes: 25\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Playbook.LockdownMinutes != 25 {
		t.Fatalf("explicit path ignored: %+v", cfg.Playbook)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
	if _, err := BuildLogger("debug"); err != nil {
		t.Fatalf("build logger: %v", err)
	}
}
