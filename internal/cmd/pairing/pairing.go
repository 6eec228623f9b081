// Package pairing parses pairing command flags and starts the service.
package pairing

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/checkpointsync/internal/platform/cmd"
	"github.com/louisbranch/checkpointsync/internal/platform/logging"
	"github.com/louisbranch/checkpointsync/internal/platform/otel"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/app"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/coordinator"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/blob"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/transport"
	"go.uber.org/zap"
)

// Config holds pairing command configuration.
type Config struct {
	HTTPAddr string `env:"PAIRING_HTTP_ADDR" envDefault:":3000"`
	GRPCAddr string `env:"PAIRING_GRPC_ADDR" envDefault:":3001"`

	DBPath          string        `env:"PAIRING_DB_PATH"           envDefault:"data/pairing.db"`
	SessionBackend  string        `env:"PAIRING_SESSION_BACKEND"   envDefault:"sqlite"`
	RedisURL        string        `env:"PAIRING_REDIS_URL"         envDefault:"redis://localhost:6379/0"`
	RedisSessionTTL time.Duration `env:"PAIRING_REDIS_SESSION_TTL" envDefault:"168h"`

	BlobBackend string `env:"PAIRING_BLOB_BACKEND" envDefault:"fs"`
	UploadsDir  string `env:"PAIRING_UPLOADS_DIR"  envDefault:"uploads"`
	S3          blob.S3Config

	PushMode          string        `env:"PAIRING_PUSH_MODE"           envDefault:"display"`
	CaptureTimeout    time.Duration `env:"PAIRING_CAPTURE_TIMEOUT"     envDefault:"2m"`
	MaxCaptureRetries int           `env:"PAIRING_MAX_CAPTURE_RETRIES" envDefault:"2"`
	CheckpointsFile   string        `env:"PAIRING_CHECKPOINTS_FILE"`
	MaxUploadBytes    int64         `env:"PAIRING_MAX_UPLOAD_BYTES"    envDefault:"10485760"`
	SessionRetention  time.Duration `env:"PAIRING_SESSION_RETENTION"   envDefault:"24h"`

	MaxPayloadBytes int     `env:"PAIRING_WS_MAX_PAYLOAD_BYTES" envDefault:"16384"`
	FramesPerSecond float64 `env:"PAIRING_WS_FRAMES_PER_SECOND" envDefault:"40"`
	OutboundQueue   int     `env:"PAIRING_WS_OUTBOUND_QUEUE"    envDefault:"64"`

	LogLevel       string `env:"PAIRING_LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"PAIRING_LOG_DEVELOPMENT"`
	Telemetry      otel.Settings
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP and WebSocket listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.SessionBackend, "session-backend", cfg.SessionBackend, "session bookkeeping backend (sqlite, redis)")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the redis session backend")
	fs.StringVar(&cfg.BlobBackend, "blob-backend", cfg.BlobBackend, "image storage backend (fs, s3)")
	fs.StringVar(&cfg.UploadsDir, "uploads-dir", cfg.UploadsDir, "image directory for the fs backend")
	fs.StringVar(&cfg.PushMode, "push-mode", cfg.PushMode, "who advances images (display, server)")
	fs.DurationVar(&cfg.CaptureTimeout, "capture-timeout", cfg.CaptureTimeout, "time to wait for a capture before re-sending (0 disables)")
	fs.IntVar(&cfg.MaxCaptureRetries, "max-capture-retries", cfg.MaxCaptureRetries, "image re-sends before reporting a capture timeout")
	fs.StringVar(&cfg.CheckpointsFile, "checkpoints-file", cfg.CheckpointsFile, "YAML allow-list of checkpoint names")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if _, err := coordinator.ParsePushMode(cfg.PushMode); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AppConfig maps the command configuration onto the service composition root.
func (c Config) AppConfig() app.Config {
	return app.Config{
		HTTPAddr:          c.HTTPAddr,
		GRPCAddr:          c.GRPCAddr,
		DBPath:            c.DBPath,
		SessionBackend:    c.SessionBackend,
		RedisURL:          c.RedisURL,
		RedisSessionTTL:   c.RedisSessionTTL,
		BlobBackend:       c.BlobBackend,
		UploadsDir:        c.UploadsDir,
		S3:                c.S3,
		PushMode:          c.PushMode,
		CaptureTimeout:    c.CaptureTimeout,
		MaxCaptureRetries: c.MaxCaptureRetries,
		CheckpointsFile:   c.CheckpointsFile,
		MaxUploadBytes:    c.MaxUploadBytes,
		SessionRetention:  c.SessionRetention,
		Transport: transport.Options{
			MaxPayloadBytes: c.MaxPayloadBytes,
			FramesPerSecond: c.FramesPerSecond,
			OutboundQueue:   c.OutboundQueue,
		},
	}
}

// Run starts the pairing service with logging and tracing configured.
func Run(ctx context.Context, cfg Config) error {
	options := entrypoint.RunOptions{
		Telemetry: cfg.Telemetry,
		Logging: logging.Options{
			Level:       cfg.LogLevel,
			Development: cfg.LogDevelopment,
		},
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePairing, options, func(ctx context.Context, log *zap.Logger) error {
		if err := app.Run(ctx, cfg.AppConfig(), log); err != nil {
			return fmt.Errorf("serve pairing: %w", err)
		}
		return nil
	})
}
