package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-table-copier/internal/copier"
)

var backfillFlags struct {
	from string
	to   string
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Copy every partition in [from, to)",
	Long: "Tiles [from, to) into schedule-aligned intervals and runs them with\n" +
		"perf.max_in_flight_partitions in flight. One failed partition never stops the others.",
	RunE: runBackfill,
}

func init() {
	f := backfillCmd.Flags()
	f.StringVar(&backfillFlags.from, "from", "", "First interval start (required)")
	f.StringVar(&backfillFlags.to, "to", "", "End of the range, exclusive (required)")
	_ = backfillCmd.MarkFlagRequired("from")
	_ = backfillCmd.MarkFlagRequired("to")
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	from, err := parseTime(backfillFlags.from)
	if err != nil {
		return err
	}
	to, err := parseTime(backfillFlags.to)
	if err != nil {
		return err
	}
	intervals, err := cfg.Cadence().Range(from, to)
	if err != nil {
		return err
	}
	return runMany(cmd, intervals)
}

// runMany backfills intervals, prints one summary per partition and fails
// if any partition failed.
func runMany(cmd *cobra.Command, intervals []copier.PartitionInterval) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, wantParts{source: true, sink: true})
	if err != nil {
		return err
	}
	defer a.close()

	results := copier.RunBackfill(ctx, a.coord, intervals, a.backfillOptions())
	logResults(results)

	summaries := make([]runSummary, len(results))
	for i, r := range results {
		summaries[i] = summarize(r)
	}
	if err := printJSON(cmd.OutOrStdout(), summaries); err != nil {
		return err
	}

	if s := copier.Summarize(results); s.Failed > 0 {
		return fmt.Errorf("%d of %d partitions failed, first: %s: %w",
			s.Failed, s.Total, s.Failures[0].Partition, s.Failures[0].Err)
	}
	return nil
}
