package checkpointctl

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	platformgrpc "github.com/louisbranch/checkpointsync/internal/platform/grpc"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/app"
	"github.com/louisbranch/checkpointsync/internal/services/pairing/storage"
	redisstore "github.com/louisbranch/checkpointsync/internal/services/pairing/storage/redis"
	"github.com/spf13/cobra"
	gogrpc "google.golang.org/grpc"
)

func newCheckpointsCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "List checkpoints with total, processed and pending image counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			images, err := state.openImages()
			if err != nil {
				return err
			}
			defer images.Close()

			summaries, err := images.ListCheckpoints(cmd.Context())
			if err != nil {
				return fmt.Errorf("list checkpoints: %w", err)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no checkpoints")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHECKPOINT\tTOTAL\tPROCESSED\tPENDING")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", s.Name, s.TotalImages, s.ProcessedImages, s.PendingImages)
			}
			return w.Flush()
		},
	}
}

func newSessionCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "session <session-id>",
		Short: "Print the durable record of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := state.loadSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "session\t%s\n", record.ID)
			fmt.Fprintf(w, "checkpoint\t%s\n", record.Checkpoint)
			fmt.Fprintf(w, "device\t%s\n", record.DeviceAID)
			fmt.Fprintf(w, "status\t%s\n", record.Status)
			fmt.Fprintf(w, "progress\t%d/%d\n", record.ProcessedImages, record.TotalImages)
			fmt.Fprintf(w, "created\t%s\n", record.CreatedAt.Format(time.RFC3339))
			if !record.CompletedAt.IsZero() {
				fmt.Fprintf(w, "completed\t%s\n", record.CompletedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func (s *rootState) loadSession(ctx context.Context, sessionID string) (storage.SessionRecord, error) {
	if url := strings.TrimSpace(s.opts.RedisURL); url != "" {
		store, err := redisstore.Open(ctx, url, 0)
		if err != nil {
			return storage.SessionRecord{}, err
		}
		defer store.Close()
		return store.GetSession(ctx, sessionID)
	}
	images, err := s.openImages()
	if err != nil {
		return storage.SessionRecord{}, err
	}
	defer images.Close()
	return images.GetSession(ctx, sessionID)
}

func newHealthCmd(state *rootState) *cobra.Command {
	var addr string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Wait for a pairing service to report SERVING over gRPC health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := gogrpc.NewClient(addr, platformgrpc.DefaultClientDialOptions()...)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := platformgrpc.WaitForHealth(ctx, conn, app.HealthComponent, state.log); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is serving\n", addr)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:3001", "gRPC health address")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for SERVING")
	return cmd
}
