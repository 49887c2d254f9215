package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "eigenfaces",
	Short: "Appearance-based face verification with eigenfaces",
	Long: `Eigenfaces reduces fixed-size face images to a small eigenface basis,
represents every face by its loadings over that basis and verifies identities
by nearest-neighbour matching of the loadings.

Evaluation runs can be stored in SQLite, PostgreSQL or MariaDB and queried
through the CLI or the HTTP API.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()

	cfg := config.Load()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logging.Setup(cfg.Log, os.Stderr)
}
