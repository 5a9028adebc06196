package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-table-copier/internal/artifact"
)

var sweepFlags struct {
	olderThan time.Duration
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale local artifacts left by crashed runs",
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepFlags.olderThan, "older-than", 0, "Minimum artifact age (default: artifacts.sweep_age)")
}

func runSweep(cmd *cobra.Command, _ []string) error {
	age := sweepFlags.olderThan
	if age == 0 {
		age = cfg.Artifacts.SweepAge
	}

	store, err := artifact.NewStore(artifact.Config{Dir: cfg.Artifacts.Dir})
	if err != nil {
		return err
	}
	removed, err := store.Sweep(age)
	if err != nil {
		return err
	}
	slog.Info("swept artifacts", "dir", store.Dir(), "removed", removed, "older_than", age)
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d artifacts from %s\n", removed, store.Dir())
	return nil
}
