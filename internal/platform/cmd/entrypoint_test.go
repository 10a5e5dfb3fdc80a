package cmd

import (
	"context"
	"errors"
	"flag"
	"testing"

	"github.com/louisbranch/imrelay/internal/platform/logging"
	"go.uber.org/zap"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("CMD_TEST_MODE", "env-mode")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := testConfig{}
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	fs.StringVar(&cfg.Address, "address", cfg.Address, "address")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "mode")

	if err := ParseArgs(fs, []string{"-address", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfg.Address != "flag:9001" {
		t.Fatalf("address = %q, want flag value", cfg.Address)
	}
	if cfg.Mode != "env-mode" {
		t.Fatalf("mode = %q, want env value", cfg.Mode)
	}
}

func TestParseConfigRejectsNilTarget(t *testing.T) {
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected nil target error")
	}
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	if err := ParseArgs(nil, []string{}); err == nil {
		t.Fatal("expected parse args to reject nil parser")
	}
}

func TestRunRejectsMissingInputs(t *testing.T) {
	noop := func(context.Context, *zap.Logger) error { return nil }
	if err := Run(context.Background(), " ", RunOptions{}, noop); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := Run(context.Background(), ServiceIM, RunOptions{}, nil); err == nil {
		t.Fatal("expected missing run function error")
	}
	if err := Run(context.Background(), ServiceIM, RunOptions{Log: logging.Options{Level: "loud"}}, noop); err == nil {
		t.Fatal("expected bad log level error")
	}
}

func TestRunPassesLoggerAndReturnsRunError(t *testing.T) {
	t.Setenv("IM_OTEL_ENDPOINT", "")
	want := errors.New("boom")
	var got *zap.Logger
	err := Run(context.Background(), ServiceIM, RunOptions{}, func(_ context.Context, logger *zap.Logger) error {
		got = logger
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("run error = %v, want %v", err, want)
	}
	if got == nil {
		t.Fatal("run received nil logger")
	}
}
