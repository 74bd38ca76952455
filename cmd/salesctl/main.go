// Command salesctl downloads the bulk property sales archives, extracts
// them into one normalized table and optionally serves runs over HTTP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/propertysales/internal/config"
	"github.com/JonMunkholm/propertysales/internal/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

// cfg is loaded once in the root PersistentPreRunE.
var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "salesctl",
	Short: "Extract NSW property sales archives into a single table",
	Long: `salesctl turns the published weekly and yearly property sales archives
into one normalized table.

Settings come from the environment (and a .env file when present); flags
override them for a single invocation.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err == nil {
			slog.Debug("loaded .env file")
		}

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
		slog.Debug("configuration loaded", "config", cfg.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(serveCmd)
}
