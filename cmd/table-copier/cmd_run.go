package main

import (
	"time"

	"github.com/spf13/cobra"
)

var runFlags struct {
	start string
	end   string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract and publish one partition",
	Long: "Runs extract then load for [start, end). Without flags it copies the last\n" +
		"complete interval of the configured schedule.",
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.start, "start", "", "Interval start (2006-01-02 or RFC 3339), inclusive")
	f.StringVar(&runFlags.end, "end", "", "Interval end, exclusive (default: start plus one schedule interval)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	interval, err := intervalFromFlags(runFlags.start, runFlags.end, time.Now())
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, wantParts{source: true, sink: true})
	if err != nil {
		return err
	}
	defer a.close()

	res, runErr := a.coord.Run(ctx, interval)
	if err := printJSON(cmd.OutOrStdout(), summarize(res)); err != nil {
		return err
	}
	return runErr
}
