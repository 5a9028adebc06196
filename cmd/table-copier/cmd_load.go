package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-table-copier/internal/copier"
)

var loadFlags struct {
	artifact string
	keep     bool
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Publish an extracted artifact",
	Long: "Runs only the load step for the artifact reference written by 'table-copier extract'.\n" +
		"The artifact is removed after a successful publish unless --keep is set.",
	RunE: runLoad,
}

func init() {
	f := loadCmd.Flags()
	f.StringVar(&loadFlags.artifact, "artifact", "", "Artifact reference JSON file (required)")
	f.BoolVar(&loadFlags.keep, "keep", false, "Keep the local artifact after publishing")
	_ = loadCmd.MarkFlagRequired("artifact")
}

func runLoad(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(loadFlags.artifact)
	if err != nil {
		return fmt.Errorf("read artifact reference: %w", err)
	}
	var ref copier.ArtifactRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("parse artifact reference: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, wantParts{sink: true})
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.loader.Load(ctx, ref, a.sink)
	if err != nil {
		return err
	}

	if !loadFlags.keep {
		if err := a.store.Remove(ref.Path); err != nil {
			slog.Warn("failed to remove artifact", "path", ref.Path, "error", err)
		}
	}
	return printJSON(cmd.OutOrStdout(), res)
}
