package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/imrelay/internal/platform/config"
	"github.com/louisbranch/imrelay/internal/platform/logging"
	"github.com/louisbranch/imrelay/internal/platform/otel"
	"go.uber.org/zap"
)

const defaultOTelShutdownTimeout = 5 * time.Second

// ServiceIM identifies the IM routing node in telemetry and CLI naming.
const ServiceIM = "im"

// RunOptions controls shared entrypoint behavior for service commands.
type RunOptions struct {
	// Log configures the logger handed to the run loop.
	Log logging.Options
	// ShutdownTimeout bounds telemetry flushing on exit.
	ShutdownTimeout time.Duration
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// Run builds the service logger, configures tracing and executes run.
// Telemetry is flushed after run returns.
func Run(ctx context.Context, service string, options RunOptions, run func(context.Context, *zap.Logger) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := logging.New(service, options.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		timeout := options.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultOTelShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown", zap.Error(err))
		}
	}()
	return run(ctx, logger)
}
