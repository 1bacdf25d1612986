package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Engine.TargetRate != 0.35 || cfg.Engine.BotTargetRate != 0.15 {
		t.Fatalf("engine targets = %v / %v", cfg.Engine.TargetRate, cfg.Engine.BotTargetRate)
	}
	if cfg.Engine.SchemaVersion != 1 {
		t.Fatalf("schema version = %d", cfg.Engine.SchemaVersion)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hidesis.toml")
	body := `
[server]
addr = ":9090"

[engine]
target_rate = 0.40
max_turns = 6

[instance]
id = "staging"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Engine.TargetRate != 0.40 || cfg.Engine.MaxTurns != 6 {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	// Untouched sections keep defaults.
	if cfg.Engine.BotTargetRate != 0.15 {
		t.Fatalf("bot target = %v, want default 0.15", cfg.Engine.BotTargetRate)
	}
	if cfg.Auth.TokenExpiryMin != 1440 {
		t.Fatalf("token expiry = %d, want default 1440", cfg.Auth.TokenExpiryMin)
	}
	if cfg.Instance.ID != "staging" {
		t.Fatalf("instance id = %q", cfg.Instance.ID)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("server = {{"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config did not error")
	}
}
