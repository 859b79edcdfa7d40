package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/recipe-app-api/pkg/api"
	"github.com/ethpandaops/recipe-app-api/pkg/auth"
	"github.com/ethpandaops/recipe-app-api/pkg/metrics"
	"github.com/ethpandaops/recipe-app-api/pkg/recipe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServerCmd(log *logrus.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the API server",
		Long:  `Migrate the database, then start the HTTP API server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), log, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")

	return cmd
}

func runServer(ctx context.Context, log *logrus.Logger, configPath string) error {
	cfg, err := loadConfig(log, configPath)
	if err != nil {
		return err
	}

	log.Info("Configuration loaded:\n" + cfg.String())

	st, err := openStore(ctx, log, cfg)
	if err != nil {
		return err
	}

	defer st.Stop()

	// Create metrics.
	m := metrics.New(prometheus.DefaultRegisterer)
	m.SetBuildInfo(Version, GitCommit, BuildDate)

	// Create and start auth service. Start syncs bootstrap superusers.
	authSvc := auth.NewService(log, cfg, st)

	if err := authSvc.Start(ctx); err != nil {
		return err
	}

	defer authSvc.Stop()

	// Create and start recipe service.
	recipes := recipe.NewService(log, cfg, st, m)

	if err := recipes.Start(ctx); err != nil {
		return err
	}

	defer recipes.Stop()

	// Create and start API server.
	srv := api.NewServer(log, cfg, st, recipes, authSvc, m)

	if err := srv.Start(ctx); err != nil {
		return err
	}

	defer srv.Stop()

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	log.Info("Shutting down...")

	return nil
}
