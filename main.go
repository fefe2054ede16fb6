package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jghoshh/habittree/backend"
	"github.com/jghoshh/habittree/backend/config"
	"github.com/jghoshh/habittree/frontend"
)

var v = config.New()

var rootCmd = &cobra.Command{
	Use:           "habittree",
	Short:         "A habit tracker that grows a tree as you keep your streaks.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		return config.BindFlags(v, cmd.Flags())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the progress pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(v)
		if err := cfg.ValidateServe(); err != nil {
			return err
		}
		return backend.RunBackend(cmd.Context(), cfg, newLogger(cfg))
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open the interactive habit shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(v)
		if err := cfg.Validate(); err != nil {
			return err
		}
		frontend.RunFrontend(cfg)
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String(config.KeyServerURL, "http://localhost:8080", "URL the API listens on and the shell connects to")
	flags.String(config.KeyTimezone, "UTC", "IANA time zone that defines calendar days")
	flags.String(config.KeyLogLevel, "info", "log level: debug, info, warn or error")
	flags.String(config.KeyKeyringService, "HabitTree", "system keyring service holding the shell's token")

	serve := serveCmd.Flags()
	serve.String(config.KeyMongoDBURI, "", "MongoDB connection string (empty keeps data in memory)")
	serve.String(config.KeyDBName, "habittree", "MongoDB database name")
	serve.Bool(config.KeyUseTransactions, false, "write habit and stats changes in one MongoDB transaction")
	serve.String(config.KeyRedisURL, "", "Redis URL for the leaderboard cache (empty keeps it in memory)")
	serve.String(config.KeyRabbitMQURL, "", "RabbitMQ URL for progress events (empty handles them inline)")
	serve.Int(config.KeyProgressConsumers, 2, "number of progress event consumers")

	rootCmd.AddCommand(serveCmd, shellCmd)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("habittree failed", "error", err)
		os.Exit(1)
	}
}
