package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Build info (set via ldflags).
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"

	// Global flags.
	logLevel  string
	logFormat string
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	rootCmd := &cobra.Command{
		Use:   "recipe-app-api",
		Short: "Recipe App API server",
		Long: `recipe-app-api serves a REST API for managing recipes.

Users sign up, obtain a token and manage their own recipes, tags and
ingredients. Staff accounts get an admin API over every object.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)

			switch logFormat {
			case "json":
				log.SetFormatter(&logrus.JSONFormatter{})
			default:
				log.SetFormatter(&logrus.TextFormatter{
					FullTimestamp: true,
				})
			}

			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")

	rootCmd.AddCommand(
		newServerCmd(log),
		newMigrateCmd(log),
		newCreateSuperuserCmd(log),
		newWaitForDBCmd(log),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
