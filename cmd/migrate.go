package cmd

import (
	"fmt"

	"github.com/jmehdipour/messageboard/internal/app"
	"github.com/jmehdipour/messageboard/internal/logger"
	"github.com/jmehdipour/messageboard/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the event store and checkpoint tables (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Open(cfg, logger.Log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if err := repository.Migrate(cmd.Context(), a.Store); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Log.Info("migration complete", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}
