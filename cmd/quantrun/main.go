package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "quantrun"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Market data ingestion and event-driven backtesting",
		Version: version,
		Long: `quantrun ingests daily market data into a keyed document store and runs
event-driven portfolio backtests over the stored panels.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newBacktestCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newUniverseCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(2)
	}
}
