package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "callpipe",
	Short: "Call-center recording pipeline",
	Long:  "Pulls call logs from the telephony vendor, downloads and transcribes recordings, uploads assets to the backend store, and runs LLM analysis over each transcript.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	// Local development keeps credentials in .env; absence is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
