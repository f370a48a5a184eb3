package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tola_ledger/internal/bootstrap"
	"tola_ledger/internal/config"
	"tola_ledger/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagStore  string
	flagSQLite string
	flagJSON   bool
)

var rootCmd = &cobra.Command{
	Use:          "ledgerctl",
	Short:        "Operate the TOLA ledger",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		logger.Init(os.Getenv("LOG_LEVEL"), flagJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "store driver override (postgres|sqlite|memory)")
	rootCmd.PersistentFlags().StringVar(&flagSQLite, "sqlite", "", "sqlite file override")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "log-json", false, "JSON log output")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.Config, error) {
	if flagStore != "" {
		os.Setenv("STORE_DRIVER", flagStore)
	}
	if flagSQLite != "" {
		os.Setenv("SQLITE_PATH", flagSQLite)
	}
	return config.FromEnv()
}

// withApp wires the services, runs fn and closes everything.
func withApp(migrate bool, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, migrate)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
