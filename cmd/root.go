package cmd

import (
	"context"
	"os"

	"ankiforge/internal/config"
	"ankiforge/internal/logger"

	"github.com/spf13/cobra"
)

var (
	flagDB       string
	flagEnvFile  string
	flagAnki     string
	flagProvider string
	flagModel    string
	flagLogLevel string
	flagLogJSON  bool
)

// cfg is loaded once per invocation by the root pre-run hook.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "ankiforge",
	Short:         "Grow an Anki collection with grounded, de-duplicated cards",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(flagEnvFile)
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		if err := config.Validate(loaded); err != nil {
			return err
		}
		cfg = loaded

		logCfg := logger.DefaultConfig()
		logCfg.Level = logger.ParseLevel(cfg.Log.Level)
		logCfg.JSON = cfg.Log.JSON
		logger.Init(logCfg)

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cmd.SetContext(logger.ContextWithLogger(ctx, logger.NewLogger(logCfg)))
		return nil
	},
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		c.DBPath = flagDB
	}
	if flags.Changed("anki") {
		c.Anki.URL = flagAnki
	}
	if flags.Changed("provider") {
		c.LLM.Provider = flagProvider
	}
	if flags.Changed("model") {
		c.LLM.Model = flagModel
	}
	if flags.Changed("log-level") {
		c.Log.Level = flagLogLevel
	}
	if flags.Changed("log-json") {
		c.Log.JSON = flagLogJSON
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "index database path (default ./.ankiforge/index.db)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file with API keys")
	rootCmd.PersistentFlags().StringVar(&flagAnki, "anki", "http://localhost:8765", "AnkiConnect URL")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "gemini", "language model provider: gemini, openai or ollama")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "language model (default depends on provider)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error or disabled")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit logs as JSON")
}
