// Package main provides the papertrail CLI: serve the API, bulk-import PDFs
// and inspect jobs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/markdave123-py/papertrail/internal/app"
	"github.com/markdave123-py/papertrail/internal/config"
	"github.com/markdave123-py/papertrail/internal/logger"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "papertrail",
	Short:         "PDF ingestion and retrieval service",
	Long:          "Runs the papertrail API and ingest workers, imports PDFs in bulk and reports on ingest jobs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "json or console, overrides LOG_FORMAT")
	rootCmd.AddCommand(serveCmd, ingestCmd, jobsCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openApp loads the configuration and wires every backend.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(ctx, cfg, lg)
	if err != nil {
		lg.Error("startup failed", zap.Error(err))
		return nil, err
	}
	return a, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and ingest workers",
	Long: `Starts the ingest workers and the HTTP API and runs until interrupted.

Environment variables (see .env):
  DATABASE_DRIVER  sqlite or postgres (default: sqlite)
  STORAGE_BACKEND  local or s3 (default: local)
  VECTOR_BACKEND   memory, pgvector or qdrant (default: memory)
  EMBED_PROVIDER   gemini or openai
  PORT             HTTP port (default: 8080)`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Run(cmd.Context())
	},
}
