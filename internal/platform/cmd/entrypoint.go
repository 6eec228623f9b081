// Package cmd holds the startup helpers shared by service commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/checkpointsync/internal/platform/config"
	"github.com/louisbranch/checkpointsync/internal/platform/logging"
	"github.com/louisbranch/checkpointsync/internal/platform/otel"
	"go.uber.org/zap"
)

const defaultOTelShutdownTimeout = 5 * time.Second

// Service identifiers for startup telemetry and CLI naming consistency.
const (
	ServicePairing = "pairing"
	ServiceCtl     = "checkpointctl"
)

// RunOptions controls shared entrypoint behavior for service commands.
type RunOptions struct {
	// ShutdownTimeout sets the timeout used when stopping telemetry.
	ShutdownTimeout time.Duration
	Telemetry       otel.Settings
	Logging         logging.Options
}

// ParseConfig loads .env and environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	if err := config.LoadDotEnv(); err != nil {
		return err
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

// ParseConfigFromArgs loads defaults from env and then parses flags.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

// RunWithTelemetry builds the service logger, configures tracing, and
// executes the run loop.
func RunWithTelemetry(ctx context.Context, service string, options RunOptions, run func(context.Context, *zap.Logger) error) error {
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

	base, err := logging.New(options.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	log := logging.Service(base, service)
	defer func() {
		_ = log.Sync()
	}()

	shutdown, err := otel.Setup(ctx, service, options.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		shutdownTimeout := options.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = defaultOTelShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()
	return run(ctx, log)
}
