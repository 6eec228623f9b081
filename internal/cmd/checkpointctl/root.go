// Package checkpointctl implements the operator CLI of the pairing service.
package checkpointctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/checkpointsync/internal/platform/config"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/app"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/blob"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Options are the storage locations shared by every subcommand. Values come
// from the environment unless the matching flag is set.
type Options struct {
	DBPath      string `env:"PAIRING_DB_PATH"      envDefault:"data/pairing.db"`
	BlobBackend string `env:"PAIRING_BLOB_BACKEND" envDefault:"fs"`
	UploadsDir  string `env:"PAIRING_UPLOADS_DIR"  envDefault:"uploads"`
	RedisURL    string `env:"PAIRING_REDIS_URL"`
	S3          blob.S3Config
	Verbose     bool `env:"PAIRING_CTL_VERBOSE"`
}

type rootState struct {
	opts Options
	log  *zap.Logger
}

// NewRootCmd builds the checkpointctl command tree.
func NewRootCmd() *cobra.Command {
	state := &rootState{log: zap.NewNop()}
	flags := Options{}

	cmd := &cobra.Command{
		Use:   "checkpointctl",
		Short: "Operate checkpoint pairing storage and health",
		Long: `checkpointctl seeds reference images, inspects checkpoints and sessions,
and probes the health of a running pairing service.

Storage settings default to the same PAIRING_* variables the service reads.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			var fromEnv Options
			if err := config.ParseEnv(&fromEnv); err != nil {
				return err
			}
			state.opts = mergeOptions(cmd, fromEnv, flags)
			if state.opts.Verbose {
				log, err := zap.NewDevelopment()
				if err != nil {
					return fmt.Errorf("build logger: %w", err)
				}
				state.log = log
			}
			return nil
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&flags.DBPath, "db-path", "", "SQLite database path (PAIRING_DB_PATH)")
	persistent.StringVar(&flags.BlobBackend, "blob-backend", "", "image storage backend: fs or s3 (PAIRING_BLOB_BACKEND)")
	persistent.StringVar(&flags.UploadsDir, "uploads-dir", "", "image directory for the fs backend (PAIRING_UPLOADS_DIR)")
	persistent.StringVar(&flags.RedisURL, "redis-url", "", "read sessions from Redis instead of SQLite (PAIRING_REDIS_URL)")
	persistent.BoolVarP(&flags.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(newSeedCmd(state))
	cmd.AddCommand(newCheckpointsCmd(state))
	cmd.AddCommand(newSessionCmd(state))
	cmd.AddCommand(newHealthCmd(state))
	return cmd
}

func mergeOptions(cmd *cobra.Command, fromEnv, flags Options) Options {
	merged := fromEnv
	changed := cmd.Flags().Changed
	if changed("db-path") {
		merged.DBPath = flags.DBPath
	}
	if changed("blob-backend") {
		merged.BlobBackend = flags.BlobBackend
	}
	if changed("uploads-dir") {
		merged.UploadsDir = flags.UploadsDir
	}
	if changed("redis-url") {
		merged.RedisURL = flags.RedisURL
	}
	if changed("verbose") {
		merged.Verbose = flags.Verbose
	}
	return merged
}

func (s *rootState) openImages() (*sqlite.Store, error) {
	return app.OpenImageStore(s.opts.DBPath)
}

func (s *rootState) openBlobs(ctx context.Context) (blob.Store, error) {
	switch backend := strings.ToLower(strings.TrimSpace(s.opts.BlobBackend)); backend {
	case "", "fs":
		return blob.NewFS(s.opts.UploadsDir)
	case "s3":
		return blob.NewS3(ctx, s.opts.S3, s.log)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", s.opts.BlobBackend)
	}
}
