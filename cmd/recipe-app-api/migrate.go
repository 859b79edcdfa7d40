package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newMigrateCmd(log *logrus.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  `Run database migrations to create or update the schema.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), log, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")

	return cmd
}

func runMigrate(ctx context.Context, log *logrus.Logger, configPath string) error {
	cfg, err := loadConfig(log, configPath)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}

	defer st.Stop()

	log.Info("Migrations completed successfully")

	return nil
}
