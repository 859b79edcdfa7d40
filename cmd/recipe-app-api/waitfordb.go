package main

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newWaitForDBCmd(log *logrus.Logger) *cobra.Command {
	var (
		configPath string
		timeout    time.Duration
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "waitfordb",
		Short: "Wait until the database accepts connections",
		Long: `Repeatedly connect to the configured database until it responds to a
ping or the timeout expires. Useful as a container start-up step.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			attempts := uint(timeout/interval) + 1

			return runWaitForDB(ctx, log, configPath, attempts, interval)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to configuration file")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second,
		"Give up after this long")
	cmd.Flags().DurationVar(&interval, "interval", time.Second,
		"Delay between attempts")

	return cmd
}

func runWaitForDB(
	ctx context.Context, log *logrus.Logger, configPath string, attempts uint, interval time.Duration,
) error {
	cfg, err := loadConfig(log, configPath)
	if err != nil {
		return err
	}

	// Reject an unknown driver before retrying.
	if _, err := newStore(log, cfg); err != nil {
		return err
	}

	log.Info("Waiting for database...")

	err = retry.Do(
		func() error {
			st, err := newStore(log, cfg)
			if err != nil {
				return err
			}

			if err := st.Start(ctx); err != nil {
				return err
			}

			defer st.Stop()

			return st.Ping(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("Database unavailable")
		}),
	)
	if err != nil {
		return err
	}

	log.Info("Database available!")

	return nil
}
