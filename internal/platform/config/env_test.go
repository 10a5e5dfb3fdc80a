package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Port     int           `env:"IM_TEST_PORT" envDefault:"123"`
	Interval time.Duration `env:"IM_TEST_INTERVAL" envDefault:"1m"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
	if cfg.Interval != time.Minute {
		t.Fatalf("expected default interval 1m, got %s", cfg.Interval)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("IM_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvRejectsNilTarget(t *testing.T) {
	if err := ParseEnv(nil); err == nil {
		t.Fatal("expected nil target error")
	}
}
