package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Server.Port)
	}
	if cfg.Generator.MaxSteps != 20 {
		t.Fatalf("expected default max_steps 20, got %d", cfg.Generator.MaxSteps)
	}
	if cfg.Generator.EventBackend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Generator.EventBackend)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminalcore.yaml")
	data := []byte("server:\n  port: \"9090\"\ngenerator:\n  max_steps: 7\n  session_budget: 90s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Server.Port)
	}
	if cfg.Generator.MaxSteps != 7 {
		t.Fatalf("expected max_steps 7, got %d", cfg.Generator.MaxSteps)
	}
	if cfg.Generator.SessionBudget != 90*time.Second {
		t.Fatalf("expected 90s budget, got %v", cfg.Generator.SessionBudget)
	}
}

func TestLoadFromEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminalcore.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TERMINAL_PORT", "7070")
	t.Setenv("TERMINAL_MAX_STEPS", "3")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected env port 7070, got %q", cfg.Server.Port)
	}
	if cfg.Generator.MaxSteps != 3 {
		t.Fatalf("expected env max_steps 3, got %d", cfg.Generator.MaxSteps)
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg := Defaults()
	cfg.Generator.EventBackend = "redis"
	if err := validate(&cfg); err == nil {
		t.Fatal("expected error for unknown event backend")
	}
}

func TestValidateRejectsZeroSteps(t *testing.T) {
	cfg := Defaults()
	cfg.Generator.MaxSteps = 0
	if err := validate(&cfg); err == nil {
		t.Fatal("expected error for zero max_steps")
	}
}
