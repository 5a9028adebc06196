package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-table-copier/internal/logging"
)

var extractFlags struct {
	start string
	end   string
	out   string
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract one partition into a local artifact and print its reference",
	Long: "Runs only the extract step. The printed artifact reference is the input of\n" +
		"'table-copier load --artifact', for schedulers that run the two steps as separate tasks.",
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractFlags.start, "start", "", "Interval start (2006-01-02 or RFC 3339), inclusive")
	f.StringVar(&extractFlags.end, "end", "", "Interval end, exclusive")
	f.StringVar(&extractFlags.out, "out", "", "Write the artifact reference to this file instead of stdout")
}

func runExtract(cmd *cobra.Command, _ []string) error {
	interval, err := intervalFromFlags(extractFlags.start, extractFlags.end, time.Now())
	if err != nil {
		return err
	}

	ctx := logging.WithCorrelationID(cmd.Context(), logging.GenerateCorrelationID())
	a, err := newApp(ctx, cfg, wantParts{source: true})
	if err != nil {
		return err
	}
	defer a.close()

	ref, err := a.extractor.Extract(ctx, interval, a.src)
	if err != nil {
		return err
	}

	if extractFlags.out == "" {
		return printJSON(cmd.OutOrStdout(), ref)
	}
	data, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact reference: %w", err)
	}
	if err := os.WriteFile(extractFlags.out, data, 0o600); err != nil {
		return fmt.Errorf("write artifact reference: %w", err)
	}
	slog.Info("artifact reference written", "path", extractFlags.out, "artifact", ref.Path)
	return nil
}
