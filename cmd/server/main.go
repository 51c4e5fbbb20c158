package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"qaboard/internal/config"
)

var (
	envFile string

	rootCmd = &cobra.Command{
		Use:   "qaboard",
		Short: "Q&A board API server",
		Long: `qaboard serves questions, answers and like/dislike votes over a JSON API.
Running it without a subcommand starts the server.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe, // Defined in serve.go
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the Postgres tables",
		RunE:  runMigrate, // Defined in serve.go
	}
	auditCmd = &cobra.Command{
		Use:   "audit [answer-id...]",
		Short: "Recount votes and report answers whose stored tally has drifted",
		RunE:  runAudit, // Defined in audit.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	auditCmd.Flags().Bool("strict", false, "exit non-zero when any answer is inconsistent")

	rootCmd.AddCommand(serveCmd, migrateCmd, auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
