package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"syncd/internal/app"
	"syncd/internal/config"
	"syncd/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Mirror objects between two S3-compatible endpoints",
	Long:  `A synchronization daemon that mirrors a bucket from one S3-compatible endpoint to another, on demand or on a fixed interval, with run history, metrics, and per-object retry.`,
	RunE:  runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Source flags
	rootCmd.Flags().String("src-endpoint", "", "Source S3 endpoint")
	rootCmd.Flags().String("src-access-key", "", "Source access key")
	rootCmd.Flags().String("src-secret-key", "", "Source secret key")
	rootCmd.Flags().Bool("src-secure", false, "Use HTTPS for source")

	// Target flags
	rootCmd.Flags().String("dst-endpoint", "", "Target S3 endpoint")
	rootCmd.Flags().String("dst-access-key", "", "Target access key")
	rootCmd.Flags().String("dst-secret-key", "", "Target secret key")
	rootCmd.Flags().Bool("dst-secure", true, "Use HTTPS for target")

	// Sync flags
	rootCmd.Flags().String("bucket", "", "Bucket name (required)")
	rootCmd.Flags().String("prefix", "", "Object prefix filter")
	rootCmd.Flags().Int("concurrency", 16, "Number of concurrent copy workers")
	rootCmd.Flags().Int("retries", 5, "Maximum retry attempts per object")
	rootCmd.Flags().Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")
	rootCmd.Flags().Bool("skip-existing", true, "Skip objects that already exist with same size/etag")
	rootCmd.Flags().Int("timeout", 0, "Per-run timeout in seconds (0 = none)")
	rootCmd.Flags().Int("interval", 0, "Re-sync interval in seconds (0 = run once and exit)")
	rootCmd.Flags().Bool("dry-run", false, "Exercise the coordinator with a simulated provider")
	rootCmd.Flags().String("history", "./syncd.db", "Run journal database file")
	rootCmd.Flags().String("metrics-addr", ":8080", "Metrics listen address (empty disables)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
}

func runSync(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	application, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	err = application.Run(ctx)

	if closeErr := application.Close(); closeErr != nil {
		log.Error("Error closing application", zap.Error(closeErr))
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
