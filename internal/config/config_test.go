package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("MONGO_URI", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when DISCORD_TOKEN is unset")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "discord_token: from-file\nmongo_uri: mongodb://file:27017\nleveling:\n  cooldown_seconds: 90\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("MONGO_URI", "")
	t.Setenv("LEVELING_COOLDOWN_SECONDS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DiscordToken != "from-env" {
		t.Fatalf("expected env token to win, got %q", cfg.DiscordToken)
	}
	if cfg.MongoURI != "mongodb://file:27017" {
		t.Fatalf("expected file mongo uri, got %q", cfg.MongoURI)
	}
	if cfg.Leveling.CooldownSeconds != 90 {
		t.Fatalf("expected cooldown 90 from file, got %d", cfg.Leveling.CooldownSeconds)
	}
	if cfg.Timers.PollSeconds != 3 {
		t.Fatalf("expected default poll interval, got %d", cfg.Timers.PollSeconds)
	}
}

func TestBuildLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		logger, err := BuildLogger(level)
		if err != nil {
			t.Fatalf("build logger %q: %v", level, err)
		}
		_ = logger.Sync()
	}
}
