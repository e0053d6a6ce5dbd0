package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("DISCORD_BOT_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("spam:\n  message_limit: 7\n  time_window_seconds: 4\nmute_role_name: Silenced\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("SPAM_WARNING_THRESHOLD", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Spam.MessageLimit != 7 || cfg.Spam.TimeWindow() != 4*time.Second {
		t.Fatalf("unexpected spam config: %+v", cfg.Spam)
	}
	if cfg.Spam.WarningThreshold != 4 {
		t.Fatalf("expected env override, got %d", cfg.Spam.WarningThreshold)
	}
	if cfg.Spam.DuplicateLimit != 3 || cfg.Spam.MuteDuration() != 300*time.Second {
		t.Fatalf("expected defaults to survive partial file: %+v", cfg.Spam)
	}
	if cfg.MuteRoleName != "Silenced" {
		t.Fatalf("unexpected mute role name %q", cfg.MuteRoleName)
	}
}

func TestSpamConfigRejectsNonPositive(t *testing.T) {
	cfg := DefaultConfig().Spam
	cfg.DuplicateLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestSpamConfigRejectsUnreachableLimits(t *testing.T) {
	cfg := DefaultConfig().Spam
	cfg.MessageLimit = 25
	cfg.TimeWindowSeconds = 60
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected message_limit above the history bound to be rejected")
	}

	cfg = DefaultConfig().Spam
	cfg.DuplicateLimit = 6
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate_limit above the history bound to be rejected")
	}

	cfg = DefaultConfig().Spam
	cfg.MessageLimit = 20
	cfg.DuplicateLimit = 5
	if err := cfg.Validate(); err != nil {
		t.Fatalf("limits at the history bound should validate: %v", err)
	}
}
