package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-table-copier/internal/checkpoint"
)

var catchupFlags struct {
	max int
}

var catchupCmd = &cobra.Command{
	Use:   "catchup",
	Short: "Copy every complete interval after the checkpoint",
	Long: "Reads the dataset checkpoint and runs each complete interval after it.\n" +
		"Without a checkpoint it runs only the last complete interval.",
	RunE: runCatchup,
}

func init() {
	catchupCmd.Flags().IntVar(&catchupFlags.max, "max", 0, "Run at most this many partitions (0 for all)")
}

func runCatchup(cmd *cobra.Command, _ []string) error {
	mgr, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
	})
	if err != nil {
		return err
	}

	var after time.Time
	cp, err := mgr.Load(cmd.Context(), cfg.Dataset)
	switch {
	case err == nil && cp.LastPartition != nil:
		after = cp.LastPartition.End
	case err != nil && !errors.Is(err, checkpoint.ErrNoCheckpoint):
		return err
	}

	intervals := cfg.Cadence().Pending(after, time.Now())
	if catchupFlags.max > 0 && len(intervals) > catchupFlags.max {
		intervals = intervals[:catchupFlags.max]
	}
	if len(intervals) == 0 {
		slog.Info("nothing to catch up", "checkpoint_end", after)
		return printJSON(cmd.OutOrStdout(), []runSummary{})
	}

	slog.Info("catching up", "partitions", len(intervals), "from", intervals[0].Start, "checkpoint_end", after)
	return runMany(cmd, intervals)
}
