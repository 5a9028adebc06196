package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/obsrvr-table-copier/internal/config"
	"github.com/withObsrvr/obsrvr-table-copier/internal/copier"
	"github.com/withObsrvr/obsrvr-table-copier/internal/logging"
	"github.com/withObsrvr/obsrvr-table-copier/internal/metrics"
)

// exitTempFail tells schedulers the run may succeed if retried (EX_TEMPFAIL).
const exitTempFail = 75

var rootFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string
}

// cfg is loaded once in PersistentPreRunE.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "table-copier",
	Short: "Replicate a relational table into an object store, one time partition at a time",
	Long: "table-copier extracts the rows of one half-open time interval from a source table\n" +
		"into a local CSV artifact and publishes it under a key derived from the interval start,\n" +
		"replacing any previous object for that partition.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configPath, "config", os.Getenv("TABLE_COPIER_CONFIG"), "YAML config file")
	f.StringVar(&rootFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&rootFlags.logFormat, "log-format", "", "Log format: json or text")
	f.StringVar(&rootFlags.metricsAddr, "metrics-addr", "", "Serve /metrics and /health on this address")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(catchupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.Version = fmt.Sprintf("%s (%s)", copier.Version, copier.GitSHA)
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(rootFlags.configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	if rootFlags.logLevel != "" {
		cfg.Logging.Level = rootFlags.logLevel
	}
	if rootFlags.logFormat != "" {
		cfg.Logging.Format = rootFlags.logFormat
	}
	if rootFlags.metricsAddr != "" {
		cfg.Metrics.Address = rootFlags.metricsAddr
	}
	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})

	if cfg.Metrics.Address != "" {
		metrics.Init("table_copier")
		go func() {
			slog.Info("metrics server listening", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	slog.Info("table copier starting",
		"version", copier.Version,
		"git_sha", copier.GitSHA,
		"command", cmd.Name(),
		"dataset", cfg.Dataset,
	)
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if copier.Retryable(err) {
			os.Exit(exitTempFail)
		}
		os.Exit(1)
	}
}
