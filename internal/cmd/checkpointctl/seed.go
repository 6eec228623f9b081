package checkpointctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/louisbranch/checkpointsync/internal/platform/id"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/domain"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage/blob"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

func newSeedCmd(state *rootState) *cobra.Command {
	var checkpoint string
	var dir string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upload a directory of reference images to a checkpoint",
		Long: `Upload every jpeg, png, webp and gif file in a directory as original images of a
checkpoint. Files are queued in name order after the checkpoint's existing images.`,
		Example: `  checkpointctl seed --checkpoint air_filter --dir ./captures/air_filter`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), state, checkpoint, dir, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint name")
	cmd.Flags().StringVar(&dir, "dir", "", "directory of images to upload")
	_ = cmd.MarkFlagRequired("checkpoint")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

func runSeed(ctx context.Context, state *rootState, rawCheckpoint, dir string, out io.Writer) error {
	checkpoint, err := domain.NormalizeCheckpoint(rawCheckpoint)
	if err != nil {
		return err
	}
	files, err := seedFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", dir)
	}

	images, err := state.openImages()
	if err != nil {
		return err
	}
	defer images.Close()
	blobs, err := state.openBlobs(ctx)
	if err != nil {
		return err
	}

	order, err := images.NextSequenceOrder(ctx, checkpoint)
	if err != nil {
		return fmt.Errorf("next sequence order: %w", err)
	}
	first := order
	ids := id.NewGenerator()
	for _, path := range files {
		ext := strings.ToLower(filepath.Ext(path))
		filename := ids.Filename(ext)
		key := blob.Key(blob.KindOriginal, checkpoint, filename)
		if err := putFile(ctx, blobs, key, path); err != nil {
			return err
		}
		record, err := images.InsertImage(ctx, storage.ImageRecord{
			ID:               ids.ImageID(),
			Checkpoint:       checkpoint,
			UploadedAt:       time.Now().UTC(),
			OriginalFilename: filename,
			OriginalFilePath: key,
			SequenceOrder:    order,
			FileExtension:    ext,
		})
		if err != nil {
			return fmt.Errorf("insert %s: %w", path, err)
		}
		state.log.Debug("seeded image",
			zap.String("source", path),
			zap.String("image_id", record.ID),
			zap.Int64("sequence_order", record.SequenceOrder),
		)
		order++
	}

	fmt.Fprintf(out, "seeded %d images into %s (sequence %d-%d)\n", len(files), checkpoint, first, order-1)
	return nil
}

func seedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !seedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	slices.Sort(files)
	return files, nil
}

func putFile(ctx context.Context, blobs blob.Store, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := blobs.Put(ctx, key, file, stat.Size(), blob.ContentType(key)); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	return nil
}
