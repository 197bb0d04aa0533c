package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Volunteer compute coordinator with consensus verification",
		Long: `Hands replicated scientific jobs to volunteer contributors, verifies their
results by pairwise consensus and credits points to a leaderboard.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(), newWorkerCmd(), newCatalogCmd())
	return root
}

func setupLogging(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level == "" {
		return nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	return nil
}
