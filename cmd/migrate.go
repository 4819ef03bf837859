package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matrixise/ethfolio/internal/config"
	"github.com/matrixise/ethfolio/internal/logger"
	"github.com/matrixise/ethfolio/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long:  `Run, rollback, or check the status of the embedded goose migrations.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration",
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runMigrateStatus,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

// migrationDSN only needs DATABASE_URL, not a full configuration
func migrationDSN() (string, error) {
	logger.Setup(logLevel)
	return config.DatabaseURL()
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	dsn, err := migrationDSN()
	if err != nil {
		return err
	}

	if err := storage.RunMigrations(cmd.Context(), dsn); err != nil {
		slog.Error("Migration failed", "error", err)
		return err
	}

	slog.Info("Migrations applied successfully")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	dsn, err := migrationDSN()
	if err != nil {
		return err
	}

	if err := storage.MigrateDown(cmd.Context(), dsn); err != nil {
		slog.Error("Rollback failed", "error", err)
		return err
	}

	slog.Info("Migration rolled back successfully")
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	dsn, err := migrationDSN()
	if err != nil {
		return err
	}

	if err := storage.MigrateStatus(cmd.Context(), dsn); err != nil {
		slog.Error("Failed to get migration status", "error", err)
		return err
	}
	return nil
}
