package config

import (
	"testing"
	"time"
)

type testConfig struct {
	DBPath        string        `env:"MERIDIAN_DB_PATH" envDefault:"meridian.sqlite"`
	SweepInterval time.Duration `env:"MERIDIAN_SWEEP_INTERVAL" envDefault:"30s"`
	BatchSize     int           `env:"MERIDIAN_BATCH_SIZE" envDefault:"200"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "meridian.sqlite" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("expected default sweep interval, got %v", cfg.SweepInterval)
	}
	if cfg.BatchSize != 200 {
		t.Fatalf("expected default batch size, got %d", cfg.BatchSize)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("MERIDIAN_DB_PATH", "/var/lib/meridian/events.sqlite")
	t.Setenv("MERIDIAN_SWEEP_INTERVAL", "5s")

	var cfg testConfig
	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.DBPath != "/var/lib/meridian/events.sqlite" {
		t.Fatalf("expected override db path, got %q", cfg.DBPath)
	}
	if cfg.SweepInterval != 5*time.Second {
		t.Fatalf("expected override sweep interval, got %v", cfg.SweepInterval)
	}
}
