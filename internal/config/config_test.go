package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults, got %v", err)
	}
	if cfg.HTTP.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.HTTP.Port)
	}
	if b, err := cfg.StartingBudget(); err != nil || b.String() != "100" {
		t.Errorf("expected default starting budget 100, got %s (%v)", b, err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[http]
port = "9090"

[game]
starting_budget = "250"
air_window = "2h"
advance_cron = "0 21 * * 3"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTP.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.HTTP.Port)
	}
	if b, _ := cfg.StartingBudget(); b.String() != "250" {
		t.Errorf("expected starting budget 250, got %s", b)
	}
	if w, _ := cfg.AirWindow(); w != 2*time.Hour {
		t.Errorf("expected air window 2h, got %s", w)
	}
	if cfg.Game.AdvanceCron != "0 21 * * 3" {
		t.Errorf("unexpected advance cron: %s", cfg.Game.AdvanceCron)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Redis.CacheTTL != "30s" {
		t.Errorf("expected default cache ttl 30s, got %s", cfg.Redis.CacheTTL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[http]\nport = \"9090\"\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("CASTMKT_PORT", "7070")
	t.Setenv("CASTMKT_DATABASE_URL", "postgres://env/db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTP.Port != "7070" {
		t.Errorf("env should beat file, got %s", cfg.HTTP.Port)
	}
	if cfg.Database.URL != "postgres://env/db" {
		t.Errorf("unexpected database url: %s", cfg.Database.URL)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = "http" }},
		{"bad budget", func(c *Config) { c.Game.StartingBudget = "lots" }},
		{"bad median", func(c *Config) { c.Game.MedianPrice = "" }},
		{"bad air window", func(c *Config) { c.Game.AirWindow = "90 minutes" }},
		{"bad cache ttl", func(c *Config) { c.Redis.CacheTTL = "soon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}
