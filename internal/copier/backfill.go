package copier

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/obsrvr-table-copier/internal/logging"
)

// Runner runs a single partition. *Coordinator implements it.
type Runner interface {
	Run(ctx context.Context, interval PartitionInterval) (*PipelineResult, error)
}

// BackfillOptions bounds a multi-partition run.
type BackfillOptions struct {
	// Concurrency is the number of partitions in flight. Values below 1 mean 1.
	Concurrency int

	// RetryAttempts re-runs a partition whose failure is retryable.
	// Every attempt is a fresh extract and load.
	RetryAttempts int
	RetryBackoff  time.Duration
}

// RunBackfill runs every interval through r with bounded concurrency and
// returns one result per interval, in interval order. A failed partition
// never cancels the others.
func RunBackfill(ctx context.Context, r Runner, intervals []PartitionInterval, opts BackfillOptions) []*PipelineResult {
	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	log := logging.Component("backfill")
	log.Info("starting backfill", "partitions", len(intervals), "concurrency", limit)

	results := make([]*PipelineResult, len(intervals))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, interval := range intervals {
		g.Go(func() error {
			results[i] = runWithRetry(ctx, r, interval, opts, log)
			return nil
		})
	}
	_ = g.Wait()

	s := Summarize(results)
	log.Info("backfill complete", "succeeded", s.Succeeded, "failed", s.Failed)
	return results
}

func runWithRetry(ctx context.Context, r Runner, interval PartitionInterval, opts BackfillOptions, log *slog.Logger) *PipelineResult {
	for attempt := 0; ; attempt++ {
		res, err := r.Run(ctx, interval)
		if res == nil {
			res = &PipelineResult{Partition: interval, FailedStep: StepExtract, Err: err}
		}
		if err == nil || attempt >= opts.RetryAttempts || !Retryable(err) {
			return res
		}

		backoff := opts.RetryBackoff * time.Duration(1<<attempt)
		log.Warn("partition failed, retrying",
			"interval", interval.String(),
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return res
		}
	}
}

// Summary tallies backfill results.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []*PipelineResult
}

// Summarize counts successes and collects failures.
func Summarize(results []*PipelineResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Succeeded() {
			s.Succeeded++
			continue
		}
		s.Failed++
		s.Failures = append(s.Failures, r)
	}
	return s
}
