package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-table-copier/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-table-copier/internal/copier"
	"github.com/withObsrvr/obsrvr-table-copier/internal/metadata"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show published partitions, gaps and the checkpoint",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, wantParts{sink: true})
	if err != nil {
		return err
	}
	defer a.close()

	prefix := a.loader.Prefix()
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	keys, err := a.sink.List(ctx, listPrefix)
	if err != nil {
		return err
	}

	var starts []time.Time
	for _, key := range keys {
		start, err := copier.ParseObjectKey(prefix, key, a.loader.Extension())
		if err != nil {
			continue
		}
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Dataset:     %s\n", cfg.Dataset)
	fmt.Fprintf(out, "Location:    %s\n", a.sink.URI(listPrefix))
	fmt.Fprintf(out, "Schedule:    %s\n", cfg.Cadence())
	fmt.Fprintf(out, "Partitions:  %d\n", len(starts))
	if len(starts) > 0 {
		fmt.Fprintf(out, "First:       %s\n", copier.CanonicalStart(starts[0]))
		fmt.Fprintf(out, "Last:        %s\n", copier.CanonicalStart(starts[len(starts)-1]))
		if gaps := findGaps(starts, cfg.Cadence().Every); len(gaps) > 0 {
			fmt.Fprintf(out, "Gaps:        %d\n", len(gaps))
			for _, g := range gaps {
				fmt.Fprintf(out, "  missing %s\n", g)
			}
		}
	}

	cp, err := a.checkpoint.Load(ctx, cfg.Dataset)
	switch {
	case err == nil && cp.LastPartition != nil:
		fmt.Fprintf(out, "Checkpoint:  %s (updated %s)\n", cp.LastPartition.Key, cp.UpdatedAt.Format(time.RFC3339))
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		fmt.Fprintf(out, "Checkpoint:  none\n")
	case err != nil:
		return err
	}

	id, err := a.meta.EnsureDataset(ctx, metadata.DatasetInfo{
		Dataset:   cfg.Dataset,
		Bucket:    cfg.Storage.Bucket,
		KeyPrefix: prefix,
	})
	if err == nil && id > 0 {
		rec, err := a.meta.LastPartition(ctx, id)
		if err != nil {
			return err
		}
		if rec != nil {
			fmt.Fprintf(out, "Catalog:     %s rows=%d published %s\n",
				rec.ObjectKey, rec.RowCount, rec.PublishedAt.Format(time.RFC3339))
		}
	}
	return nil
}

// findGaps returns the canonical starts missing between consecutive published partitions.
func findGaps(starts []time.Time, every time.Duration) []string {
	var gaps []string
	for i := 1; i < len(starts); i++ {
		for t := starts[i-1].Add(every); t.Before(starts[i]); t = t.Add(every) {
			gaps = append(gaps, copier.CanonicalStart(t))
		}
	}
	return gaps
}
